package types

import "testing"

func TestCandidate_Score(t *testing.T) {
	combined := Candidate{Similarity: 0.6, KeywordScore: 0.9, CombinedScore: 0.705}
	if combined.Score() != 0.705 {
		t.Errorf("expected combined score preferred, got %f", combined.Score())
	}

	vectorOnly := Candidate{Similarity: 0.8}
	if vectorOnly.Score() != 0.8 {
		t.Errorf("expected similarity fallback, got %f", vectorOnly.Score())
	}
}
