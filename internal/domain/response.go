package domain

import (
	"math"
	"strconv"
	"time"
)

// LLMParameters are the sampling settings for one generation.
type LLMParameters struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"topP"`
	Model       string  `json:"model"`
}

// GenerationTask is one (temperature, top-p, model) combination of a sweep.
type GenerationTask = LLMParameters

// ResponseStatus records whether generation succeeded.
type ResponseStatus string

const (
	ResponseSuccess ResponseStatus = "success"
	ResponseFailed  ResponseStatus = "failed"
)

// MetricDetails holds the intermediate measurements behind QualityMetrics.
// Keyword lists are only kept in memory; see StoredDetails.
type MetricDetails struct {
	WordCount               int     `json:"wordCount"`
	SentenceCount           int     `json:"sentenceCount"`
	ParagraphCount          int     `json:"paragraphCount"`
	AvgSentenceLength       float64 `json:"avgSentenceLength"`
	AvgWordLength           float64 `json:"avgWordLength"`
	UniqueWordRatio         float64 `json:"uniqueWordRatio"`
	PunctuationRatio        float64 `json:"punctuationRatio"`
	RepeatedPhrases         int     `json:"repeatedPhrases"`
	MaxRepeatedPhraseLength int     `json:"maxRepeatedPhraseLength"`
	HasProperEnding         bool    `json:"hasProperEnding"`

	PromptKeywords      []string `json:"promptKeywords,omitempty"`
	ResponseKeywords    []string `json:"responseKeywords,omitempty"`
	SharedKeywords      []string `json:"sharedKeywords,omitempty"`
	KeywordOverlapRatio float64  `json:"keywordOverlapRatio"`
}

// QualityMetrics is the scored assessment of one response. Every score is in
// [0,1] and rounded to three decimals.
type QualityMetrics struct {
	CoherenceScore    float64       `json:"coherenceScore"`
	RelevancyScore    float64       `json:"relevancyScore"`
	CompletenessScore float64       `json:"completenessScore"`
	RepetitionScore   float64       `json:"repetitionScore"`
	LengthScore       float64       `json:"lengthScore"`
	OverallScore      float64       `json:"overallScore"`
	Details           MetricDetails `json:"details"`
}

// StoredDetails returns a copy of m with keyword lists dropped, which is the
// shape persisted alongside a response.
func (m QualityMetrics) StoredDetails() QualityMetrics {
	m.Details.PromptKeywords = nil
	m.Details.ResponseKeywords = nil
	m.Details.SharedKeywords = nil
	return m
}

// Response is the immutable outcome of one generation task.
type Response struct {
	ID           string          `json:"id"`
	ExperimentID string          `json:"experimentId"`
	Text         string          `json:"text"`
	Parameters   LLMParameters   `json:"parameters"`
	TokensUsed   int             `json:"tokensUsed"`
	LatencyMs    int64           `json:"latencyMs"`
	Metrics      *QualityMetrics `json:"metrics"`
	Status       ResponseStatus  `json:"status"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Succeeded reports whether the response carries a usable score.
func (r *Response) Succeeded() bool {
	return r.Status == ResponseSuccess && r.Metrics != nil
}

// OverallScore returns the overall score, or 0 for failed responses.
func (r *Response) OverallScore() float64 {
	if !r.Succeeded() {
		return 0
	}
	return r.Metrics.OverallScore
}

// MetricBreakdown maps parameter values, keyed by ParamKey, to the mean
// overall score of successful responses generated with that value.
type MetricBreakdown struct {
	ByTemperature map[string]float64 `json:"byTemperature"`
	ByTopP        map[string]float64 `json:"byTopP"`
}

// paramKeyScale fixes breakdown keys to six decimal places.
const paramKeyScale = 1e6

// ParamKey formats a parameter value as a stable grouping key so that values
// differing only by binary representation error share a group.
func ParamKey(v float64) string {
	r := math.Round(v*paramKeyScale) / paramKeyScale
	if r == 0 {
		r = 0 // normalize -0
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}
