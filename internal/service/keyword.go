package service

import "strings"

// stopWords are dropped during keyword extraction; short and uninformative.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "has": true,
	"had": true, "was": true, "were": true, "with": true, "this": true,
	"that": true, "from": true, "what": true, "when": true, "where": true,
	"how": true, "why": true, "who": true, "which": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
}

// KeywordExtractor tokenizes query text into content-bearing terms and
// scores a document's text against those terms (C3).
type KeywordExtractor struct{}

// NewKeywordExtractor creates a KeywordExtractor.
func NewKeywordExtractor() *KeywordExtractor {
	return &KeywordExtractor{}
}

// ExtractKeywords lowercases text, splits on non-alphanumeric runes, and
// drops stopwords and tokens shorter than 3 characters. The result is a set
// (no duplicate terms).
func (k *KeywordExtractor) ExtractKeywords(text string) map[string]bool {
	keywords := make(map[string]bool)
	for _, tok := range splitAlphanumeric(strings.ToLower(text)) {
		if len(tok) < 3 || stopWords[tok] {
			continue
		}
		keywords[tok] = true
	}
	return keywords
}

// CalculateKeywordScore returns the fraction of distinct keywords appearing
// as substrings of documentText, case-insensitively. Returns 0 for an empty
// keyword set.
func (k *KeywordExtractor) CalculateKeywordScore(keywords map[string]bool, documentText string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(documentText)
	found := 0
	for kw := range keywords {
		if strings.Contains(lower, kw) {
			found++
		}
	}
	return float64(found) / float64(len(keywords))
}

// splitAlphanumeric splits s on runs of non-alphanumeric characters.
func splitAlphanumeric(s string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z')
		if isAlnum {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}
