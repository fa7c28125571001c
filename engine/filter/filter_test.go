package filter

import (
	"testing"

	"github.com/memkit/memkit/engine/domain"
)

func sample() []*domain.Memory {
	return []*domain.Memory{
		{ID: "m1", UserID: "u1", Type: domain.TypeFactual, Importance: domain.ImportanceHigh, Tags: []string{"work"}, Metadata: map[string]any{"lang": "go"}},
		{ID: "m2", UserID: "u1", Type: domain.TypeEpisodic, Importance: domain.ImportanceLow, Tags: []string{"home"}, Metadata: map[string]any{"lang": "py"}},
		{ID: "m3", UserID: "u2", Type: domain.TypeFactual, Importance: domain.ImportanceMedium, Tags: nil, Metadata: nil},
	}
}

func TestAndRequiresAllPredicates(t *testing.T) {
	p := And(ByUser("u1"), ByType(domain.TypeFactual))
	out := Apply(sample(), p)
	if len(out) != 1 || out[0].ID != "m1" {
		t.Fatalf("expected only m1, got %v", out)
	}
}

func TestOrMatchesAnyPredicate(t *testing.T) {
	p := Or(ByUser("u2"), HasTag("home"))
	out := Apply(sample(), p)
	if len(out) != 2 {
		t.Fatalf("expected 2 matches, got %v", out)
	}
}

func TestNotNegates(t *testing.T) {
	p := Not(ByUser("u1"))
	out := Apply(sample(), p)
	if len(out) != 1 || out[0].ID != "m3" {
		t.Fatalf("expected only m3, got %v", out)
	}
}

func TestMinImportanceFilters(t *testing.T) {
	out := Apply(sample(), MinImportance(domain.ImportanceMedium))
	if len(out) != 2 {
		t.Fatalf("expected 2 results at/above medium importance, got %v", out)
	}
}

func TestMetadataEqualityMatch(t *testing.T) {
	out := Apply(sample(), Metadata(map[string]any{"lang": "go"}))
	if len(out) != 1 || out[0].ID != "m1" {
		t.Fatalf("expected only m1, got %v", out)
	}
}

func TestMetadataMissingKeyExcludes(t *testing.T) {
	out := Apply(sample(), Metadata(map[string]any{"lang": "go"}))
	for _, m := range out {
		if m.ID == "m3" {
			t.Fatalf("expected memory with nil metadata to be excluded")
		}
	}
}

func TestApplyNilPredicateReturnsAll(t *testing.T) {
	in := sample()
	out := Apply(in, nil)
	if len(out) != len(in) {
		t.Fatalf("expected nil predicate to return all memories")
	}
}

func TestEmptyOrNeverMatches(t *testing.T) {
	out := Apply(sample(), Or())
	if len(out) != 0 {
		t.Fatalf("expected empty Or to match nothing, got %v", out)
	}
}

func TestEmptyAndAlwaysMatches(t *testing.T) {
	out := Apply(sample(), And())
	if len(out) != len(sample()) {
		t.Fatalf("expected empty And to match everything")
	}
}
