package scoring

import "strings"

// minKeywordLength is the shortest token kept as a keyword, exclusive.
const minKeywordLength = 3

// stopwords contains common English words excluded from keyword matching.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "from": true,
	"as": true, "is": true, "was": true, "are": true, "were": true,
	"been": true, "be": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true, "can": true,
	"this": true, "that": true, "these": true, "those": true, "i": true,
	"you": true, "he": true, "she": true, "it": true, "we": true,
	"they": true, "what": true, "which": true, "who": true, "when": true,
	"where": true, "why": true, "how": true,
}

// ExtractKeywords returns the unique lowercase non-stopword tokens of text
// longer than three characters, in order of first occurrence.
func ExtractKeywords(text string) []string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	seen := make(map[string]bool, len(words))
	keywords := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) <= minKeywordLength || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		keywords = append(keywords, w)
	}
	return keywords
}

// sharedKeywords returns the prompt keywords that also occur in the response,
// in prompt order.
func sharedKeywords(prompt, response []string) []string {
	inResponse := make(map[string]bool, len(response))
	for _, k := range response {
		inResponse[k] = true
	}
	shared := make([]string, 0, len(prompt))
	for _, k := range prompt {
		if inResponse[k] {
			shared = append(shared, k)
		}
	}
	return shared
}
