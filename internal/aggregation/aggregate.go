// Package aggregation turns the scored responses of one experiment into
// summary statistics.
//
// Aggregation Architecture:
//   - Only successful responses contribute; failed ones are counted and skipped
//   - Best response is chosen by strict greater-than in input order, so the
//     first response to reach the maximum wins ties
//   - Median takes the element at index floor(n/2) of the sorted scores
//   - Standard deviation uses the population formula
//   - Histogram has ten fixed buckets over [0,1]
//   - Per-parameter breakdowns group by domain.ParamKey, never by raw floats
//
// All functions are pure and deterministic and never modify their input.
package aggregation

import (
	"math"
	"slices"

	"github.com/ahrav/go-sweep/internal/domain"
)

// HistogramBuckets is the number of fixed-width score buckets.
const HistogramBuckets = 10

// Summary is the statistical digest of an experiment's responses.
type Summary struct {
	TotalResponses      int `json:"totalResponses"`
	SuccessfulResponses int `json:"successfulResponses"`
	FailedResponses     int `json:"failedResponses"`

	// BestResponse is nil when nothing succeeded.
	BestResponse *domain.Response `json:"bestResponse,omitempty"`
	BestScore    float64          `json:"bestScore"`
	// WorstScore is 0 when nothing succeeded.
	WorstScore   float64 `json:"worstScore"`
	AverageScore float64 `json:"averageScore"`

	Distribution domain.ScoreDistribution `json:"scoreDistribution"`
	Histogram    [HistogramBuckets]int    `json:"histogram"`
	Breakdown    domain.MetricBreakdown   `json:"metricBreakdown"`
}

// Aggregate computes the summary of responses. It has no error conditions;
// with zero successes every statistic is zero and BestResponse is nil.
func Aggregate(responses []domain.Response) Summary {
	s := Summary{
		TotalResponses: len(responses),
		Breakdown: domain.MetricBreakdown{
			ByTemperature: map[string]float64{},
			ByTopP:        map[string]float64{},
		},
	}

	successes := make([]*domain.Response, 0, len(responses))
	for i := range responses {
		if responses[i].Succeeded() {
			successes = append(successes, &responses[i])
		} else {
			s.FailedResponses++
		}
	}
	s.SuccessfulResponses = len(successes)
	if len(successes) == 0 {
		return s
	}

	scores := make([]float64, len(successes))
	for i, r := range successes {
		scores[i] = r.OverallScore()
		if s.BestResponse == nil || scores[i] > s.BestScore {
			s.BestResponse = r
			s.BestScore = scores[i]
		}
	}

	s.AverageScore = Mean(scores)
	s.WorstScore = slices.Min(scores)
	s.Distribution = domain.ScoreDistribution{
		Min:    s.WorstScore,
		Max:    slices.Max(scores),
		Mean:   s.AverageScore,
		Median: Median(scores),
		StdDev: StdDev(scores),
	}
	s.Histogram = Histogram(scores)
	s.Breakdown = Breakdown(successes)
	return s
}

// Results converts the summary into the record persisted on completion.
func (s Summary) Results() domain.ExperimentResults {
	r := domain.ExperimentResults{
		CompletedResponses: s.SuccessfulResponses,
		FailedResponses:    s.FailedResponses,
		AverageScore:       s.AverageScore,
		ScoreDistribution:  s.Distribution,
	}
	if s.BestResponse != nil {
		best := s.BestScore
		r.BestResponseID = s.BestResponse.ID
		r.BestScore = &best
	}
	return r
}

// Mean returns the arithmetic mean, 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Median returns the element at index floor(n/2) of the sorted values. For
// even n that is the upper-middle element. Returns 0 for an empty slice.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return sorted[len(sorted)/2]
}

// StdDev returns the population standard deviation, 0 for an empty slice.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

// Histogram counts scores into ten buckets of width 0.1. A score of exactly
// 1 lands in the last bucket; out-of-range scores are clamped.
func Histogram(scores []float64) [HistogramBuckets]int {
	var h [HistogramBuckets]int
	for _, s := range scores {
		h[bucket(s)]++
	}
	return h
}

func bucket(score float64) int {
	idx := int(math.Floor(score * HistogramBuckets))
	return min(max(idx, 0), HistogramBuckets-1)
}

// Breakdown returns the mean overall score per temperature and per top-p.
func Breakdown(successes []*domain.Response) domain.MetricBreakdown {
	return domain.MetricBreakdown{
		ByTemperature: groupMeans(successes, func(p domain.LLMParameters) float64 { return p.Temperature }),
		ByTopP:        groupMeans(successes, func(p domain.LLMParameters) float64 { return p.TopP }),
	}
}

func groupMeans(responses []*domain.Response, key func(domain.LLMParameters) float64) map[string]float64 {
	groups := make(map[string][]float64)
	for _, r := range responses {
		k := domain.ParamKey(key(r.Parameters))
		groups[k] = append(groups[k], r.OverallScore())
	}
	means := make(map[string]float64, len(groups))
	for k, scores := range groups {
		means[k] = Mean(scores)
	}
	return means
}
