// Package export renders an experiment's results as downloadable JSON or CSV.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ahrav/go-sweep/internal/domain"
)

// Format selects the export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// CSVHeader is the column order of CSV exports.
var CSVHeader = []string{
	"Response ID",
	"Temperature",
	"Top-P",
	"Overall Score",
	"Coherence Score",
	"Relevancy Score",
	"Completeness Score",
	"Repetition Score",
	"Length Score",
	"Word Count",
	"Latency (ms)",
}

// ParseFormat parses a format flag. The empty string selects JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", domain.NewValidationError("format",
			fmt.Sprintf("format must be one of json, csv (got %q)", s))
	}
}

// Document is a rendered export ready to be written out.
type Document struct {
	ContentType string
	Filename    string
	Body        []byte
}

// Render encodes details in the requested format.
func Render(format Format, details *domain.ExperimentDetails) (*Document, error) {
	id := ""
	if details.Experiment != nil {
		id = details.Experiment.ID
	}

	switch format {
	case FormatJSON:
		body, err := JSON(details)
		if err != nil {
			return nil, err
		}
		return &Document{
			ContentType: "application/json",
			Filename:    fmt.Sprintf("experiment-%s.json", id),
			Body:        body,
		}, nil
	case FormatCSV:
		body, err := CSV(details.Responses)
		if err != nil {
			return nil, err
		}
		return &Document{
			ContentType: "text/csv",
			Filename:    fmt.Sprintf("experiment-%s.csv", id),
			Body:        body,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// JSON encodes details as indented JSON.
func JSON(details *domain.ExperimentDetails) ([]byte, error) {
	body, err := json.MarshalIndent(details, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode experiment json: %w", err)
	}
	return body, nil
}

// CSV encodes one row per response in the given order, after a header row.
// Failed responses carry zero scores. The output has no trailing newline.
func CSV(responses []domain.Response) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(CSVHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for i := range responses {
		if err := w.Write(row(&responses[i])); err != nil {
			return nil, fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func row(r *domain.Response) []string {
	var m domain.QualityMetrics
	if r.Metrics != nil {
		m = *r.Metrics
	}
	return []string{
		r.ID,
		num(r.Parameters.Temperature),
		num(r.Parameters.TopP),
		num(m.OverallScore),
		num(m.CoherenceScore),
		num(m.RelevancyScore),
		num(m.CompletenessScore),
		num(m.RepetitionScore),
		num(m.LengthScore),
		strconv.Itoa(m.Details.WordCount),
		strconv.FormatInt(r.LatencyMs, 10),
	}
}

func num(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
