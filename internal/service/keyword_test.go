package service

import "testing"

func TestKeywordExtractor_ExtractKeywords(t *testing.T) {
	k := NewKeywordExtractor()

	got := k.ExtractKeywords("What is the monthly termination fee, and how is it paid?")

	want := map[string]bool{
		"monthly": true, "termination": true, "fee": true, "paid": true,
	}
	if len(got) != len(want) {
		t.Fatalf("ExtractKeywords() = %v, want %v", got, want)
	}
	for kw := range want {
		if !got[kw] {
			t.Errorf("expected keyword %q to be extracted, got %v", kw, got)
		}
	}
}

func TestKeywordExtractor_ExtractKeywords_DropsShortTokens(t *testing.T) {
	k := NewKeywordExtractor()

	got := k.ExtractKeywords("is it ok")
	if len(got) != 0 {
		t.Fatalf("expected no keywords from all-short tokens, got %v", got)
	}
}

func TestKeywordExtractor_CalculateKeywordScore(t *testing.T) {
	k := NewKeywordExtractor()

	keywords := map[string]bool{"termination": true, "fee": true, "notice": true}

	tests := []struct {
		name string
		text string
		want float64
	}{
		{"all present", "Early termination incurs a fee and requires written notice.", 1.0},
		{"partial", "The termination clause describes notice requirements.", 2.0 / 3.0},
		{"none", "Liability is capped at twelve months of charges.", 0},
		{"case insensitive", "TERMINATION FEE NOTICE period applies.", 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := k.CalculateKeywordScore(keywords, tt.text)
			if diff := got - tt.want; diff > 0.001 || diff < -0.001 {
				t.Errorf("CalculateKeywordScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKeywordExtractor_CalculateKeywordScore_EmptyKeywords(t *testing.T) {
	k := NewKeywordExtractor()

	got := k.CalculateKeywordScore(map[string]bool{}, "any document text")
	if got != 0 {
		t.Errorf("expected 0 for empty keyword set, got %v", got)
	}
}
