// Package scoring implements the deterministic text-quality scorer applied to
// every generated response.
package scoring

import (
	"math"
	"regexp"
	"strings"

	"github.com/ahrav/go-sweep/internal/domain"
)

// Overall score weights. They sum to 1.
const (
	WeightCoherence    = 0.25
	WeightRelevancy    = 0.25
	WeightCompleteness = 0.20
	WeightRepetition   = 0.20
	WeightLength       = 0.10
)

// Repeated phrase window bounds, inclusive.
const (
	minPhraseLength = 3
	maxPhraseLength = 7
)

// shortResponseWords is the word count below which a response is treated as
// likely truncated.
const shortResponseWords = 10

var (
	wordPattern        = regexp.MustCompile(`\w+`)
	sentencePattern    = regexp.MustCompile(`[^.!?]+[.!?]+`)
	paragraphSeparator = regexp.MustCompile(`\n\s*\n`)
	punctuationPattern = regexp.MustCompile(`[.!?,;:]`)
)

// Calculate scores response against prompt. It never fails and every score
// lies in [0,1], including for empty inputs.
func Calculate(prompt, response string) domain.QualityMetrics {
	d := analyze(prompt, response)

	m := domain.QualityMetrics{
		CoherenceScore:    coherenceScore(d),
		RelevancyScore:    relevancyScore(d),
		CompletenessScore: completenessScore(d),
		RepetitionScore:   repetitionScore(d),
		LengthScore:       lengthScore(d),
		Details:           d,
	}
	m.OverallScore = Round3(WeightCoherence*m.CoherenceScore +
		WeightRelevancy*m.RelevancyScore +
		WeightCompleteness*m.CompletenessScore +
		WeightRepetition*m.RepetitionScore +
		WeightLength*m.LengthScore)
	return m
}

func analyze(prompt, response string) domain.MetricDetails {
	words := wordPattern.FindAllString(response, -1)
	wordCount := len(words)
	wordDenom := float64(max(wordCount, 1))

	sentenceCount := max(len(sentencePattern.FindAllString(response, -1)), 1)

	paragraphs := 0
	for _, p := range paragraphSeparator.Split(response, -1) {
		if strings.TrimSpace(p) != "" {
			paragraphs++
		}
	}

	unique := make(map[string]struct{}, wordCount)
	letters := 0
	for _, w := range words {
		unique[strings.ToLower(w)] = struct{}{}
		letters += len(w)
	}

	repeated, maxLen := findRepeatedPhrases(words)

	promptKW := ExtractKeywords(prompt)
	responseKW := ExtractKeywords(response)
	shared := sharedKeywords(promptKW, responseKW)

	return domain.MetricDetails{
		WordCount:               wordCount,
		SentenceCount:           sentenceCount,
		ParagraphCount:          paragraphs,
		AvgSentenceLength:       float64(wordCount) / float64(sentenceCount),
		AvgWordLength:           float64(letters) / wordDenom,
		UniqueWordRatio:         float64(len(unique)) / wordDenom,
		PunctuationRatio:        float64(len(punctuationPattern.FindAllStringIndex(response, -1))) / wordDenom,
		RepeatedPhrases:         repeated,
		MaxRepeatedPhraseLength: maxLen,
		HasProperEnding:         hasProperEnding(response),
		PromptKeywords:          promptKW,
		ResponseKeywords:        responseKW,
		SharedKeywords:          shared,
		KeywordOverlapRatio:     float64(len(shared)) / float64(max(len(promptKW), 1)),
	}
}

func hasProperEnding(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	switch t[len(t)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

// findRepeatedPhrases slides windows of 3..7 words over the text. A phrase is
// counted once, on its first repetition; maxLen is the longest window length
// that repeated.
func findRepeatedPhrases(words []string) (repeated, maxLen int) {
	lower := make([]string, len(words))
	for i, w := range words {
		lower[i] = strings.ToLower(w)
	}

	seen := make(map[string]int)
	for n := minPhraseLength; n <= maxPhraseLength; n++ {
		for i := 0; i+n <= len(lower); i++ {
			phrase := strings.Join(lower[i:i+n], " ")
			seen[phrase]++
			if seen[phrase] == 2 {
				repeated++
				maxLen = max(maxLen, n)
			}
		}
	}
	return repeated, maxLen
}

// lengthScore rewards word counts near an optimum that grows with prompt
// complexity, measured in prompt keywords.
func lengthScore(d domain.MetricDetails) float64 {
	optimal, tolerance := 500.0, 300.0
	switch k := len(d.PromptKeywords); {
	case k <= 3:
		optimal, tolerance = 100, 200
	case k <= 6:
		optimal, tolerance = 300, 250
	}

	score := Gaussian(float64(d.WordCount), optimal, tolerance)
	if d.WordCount < shortResponseWords {
		score *= 0.3
	}
	return Round3(score)
}

func coherenceScore(d domain.MetricDetails) float64 {
	score := 0.4 * Gaussian(d.AvgSentenceLength, 20, 10)
	score += 0.3 * math.Min(d.PunctuationRatio*10, 1)
	if d.HasProperEnding {
		score += 0.3
	}
	return Round3(math.Min(score, 1))
}

func completenessScore(d domain.MetricDetails) float64 {
	score := 1.0
	if !d.HasProperEnding {
		score -= 0.6
		if d.WordCount < shortResponseWords {
			score -= 0.4
		}
	}
	return Round3(math.Max(score, 0))
}

func repetitionScore(d domain.MetricDetails) float64 {
	penalty := float64(d.RepeatedPhrases*d.MaxRepeatedPhraseLength) / float64(max(d.WordCount, 1))
	score := 1.0 - math.Min(penalty*2, 0.7)
	if d.MaxRepeatedPhraseLength > 5 {
		score -= 0.2
	}
	return Round3(math.Max(score, 0))
}

func relevancyScore(d domain.MetricDetails) float64 {
	promptKW := len(d.PromptKeywords)

	score := 0.6 * d.KeywordOverlapRatio
	if len(d.SharedKeywords) >= min(3, promptKW) {
		score += 0.2
	}
	ratio := float64(d.WordCount) / float64(max(promptKW*2*10, 100))
	score += 0.2 * Gaussian(ratio, 1, 2)
	return Round3(math.Min(score, 1))
}

// Gaussian returns exp(-(x-optimal)²/(2·tolerance²)), 1 at the optimum.
func Gaussian(x, optimal, tolerance float64) float64 {
	d := x - optimal
	return math.Exp(-(d * d) / (2 * tolerance * tolerance))
}

// Round3 rounds v to three decimal places.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
