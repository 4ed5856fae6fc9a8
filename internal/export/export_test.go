package export

import (
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-sweep/internal/domain"
)

func sampleDetails() *domain.ExperimentDetails {
	best := 0.712
	ok := domain.Response{
		ID:           "r1",
		ExperimentID: "exp-1",
		Text:         "Qubits, explained.",
		Parameters:   domain.LLMParameters{Temperature: 0.3, TopP: 0.9, Model: "m"},
		TokensUsed:   40,
		LatencyMs:    812,
		Status:       domain.ResponseSuccess,
		Metrics: &domain.QualityMetrics{
			CoherenceScore:    0.8,
			RelevancyScore:    0.76,
			CompletenessScore: 1,
			RepetitionScore:   1,
			LengthScore:       0.125,
			OverallScore:      0.712,
			Details:           domain.MetricDetails{WordCount: 57},
		},
	}
	failed := domain.Response{
		ID:           "r2",
		ExperimentID: "exp-1",
		Parameters:   domain.LLMParameters{Temperature: 1, TopP: 1, Model: "m"},
		Status:       domain.ResponseFailed,
		Error:        "timeout",
	}
	return &domain.ExperimentDetails{
		Experiment: &domain.Experiment{
			ID:             "exp-1",
			Prompt:         "Explain qubits",
			Status:         domain.StatusCompleted,
			TotalResponses: 2,
			BestResponseID: "r1",
			BestScore:      &best,
			CreatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
		Responses:    []domain.Response{ok, failed},
		BestResponse: &ok,
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "", want: FormatJSON},
		{in: "json", want: FormatJSON},
		{in: " CSV ", want: FormatCSV},
		{in: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCSV_TwoResponsesThreeLines(t *testing.T) {
	body, err := CSV(sampleDetails().Responses)
	require.NoError(t, err)

	lines := strings.Split(string(body), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t,
		"Response ID,Temperature,Top-P,Overall Score,Coherence Score,Relevancy Score,Completeness Score,Repetition Score,Length Score,Word Count,Latency (ms)",
		lines[0])
	assert.Equal(t, "r1,0.3,0.9,0.712,0.8,0.76,1,1,0.125,57,812", lines[1])
	assert.Equal(t, "r2,1,1,0,0,0,0,0,0,0,0", lines[2])
}

func TestCSV_EmptyHasHeaderOnly(t *testing.T) {
	body, err := CSV(nil)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(CSVHeader, ","), string(body))
}

func TestCSV_QuotesAwkwardIDs(t *testing.T) {
	body, err := CSV([]domain.Response{{ID: `a,"b"`, Status: domain.ResponseFailed}})
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, `a,"b"`, records[1][0])
}

func TestJSON(t *testing.T) {
	body, err := JSON(sampleDetails())
	require.NoError(t, err)
	assert.Contains(t, string(body), "\n  \"experiment\": {")

	var decoded struct {
		Experiment   domain.Experiment `json:"experiment"`
		Responses    []domain.Response `json:"responses"`
		BestResponse *domain.Response  `json:"bestResponse"`
	}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "exp-1", decoded.Experiment.ID)
	assert.Len(t, decoded.Responses, 2)
	require.NotNil(t, decoded.BestResponse)
	assert.Equal(t, "r1", decoded.BestResponse.ID)
}

func TestRender(t *testing.T) {
	details := sampleDetails()

	doc, err := Render(FormatJSON, details)
	require.NoError(t, err)
	assert.Equal(t, "application/json", doc.ContentType)
	assert.Equal(t, "experiment-exp-1.json", doc.Filename)

	doc, err = Render(FormatCSV, details)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", doc.ContentType)
	assert.Equal(t, "experiment-exp-1.csv", doc.Filename)
	assert.Equal(t, 2, strings.Count(string(doc.Body), "\n"))

	_, err = Render(Format("yaml"), details)
	assert.Error(t, err)
}
