package embedder

import (
	"context"
	"testing"
)

func TestTokenizeDropsShortAndLongTokens(t *testing.T) {
	got := Tokenize("a hello world! 123 " + string(make([]byte, 60)))
	for _, tok := range got {
		if len(tok) < minTokenLen || len(tok) > maxTokenLen {
			t.Fatalf("token %q escaped length bounds", tok)
		}
	}
	found := map[string]bool{}
	for _, tok := range got {
		found[tok] = true
	}
	if !found["hello"] || !found["world"] || !found["123"] {
		t.Fatalf("expected hello/world/123 in %v", got)
	}
	if found["a"] {
		t.Fatalf("single-letter token should have been dropped: %v", got)
	}
}

func TestEmbedReturnsUnitLengthVector(t *testing.T) {
	e := New(Config{Dimension: 50})
	ctx := context.Background()

	v, err := e.Embed(ctx, "the quick brown fox")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(v) != 50 {
		t.Fatalf("expected dim 50, got %d", len(v))
	}

	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq < 0.999999*0.999999 || sumSq > 1.000001*1.000001 {
		t.Fatalf("expected unit-length vector, got sumSq=%v", sumSq)
	}
}

func TestEmbedIsCachedAndDeterministic(t *testing.T) {
	e := New(Config{Dimension: 32})
	ctx := context.Background()

	a, err := e.Embed(ctx, "repeatable text")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, err := e.Embed(ctx, "repeatable text")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected identical vectors for identical text, got %v vs %v", a, b)
		}
	}
}

func TestEmbedBatchMatchesIndividualEmbed(t *testing.T) {
	e := New(Config{Dimension: 16})
	ctx := context.Background()

	texts := []string{"alpha beta", "gamma delta"}
	batch, err := e.EmbedBatch(ctx, texts)
	if err != nil {
		t.Fatalf("embed batch: %v", err)
	}
	if len(batch) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(batch))
	}
}

func TestTrainOnCorpusBuildsVocabularyAndIDF(t *testing.T) {
	e := New(Config{Dimension: 64, MaxVocabularySize: 5})
	e.TrainOnCorpus([]string{
		"common common rare",
		"common other",
	})

	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.trained {
		t.Fatalf("expected trained=true after TrainOnCorpus")
	}
	if len(e.vocabulary) == 0 {
		t.Fatalf("expected non-empty vocabulary")
	}
	if len(e.vocabulary) > 5 {
		t.Fatalf("expected vocabulary capped at maxVocabularySize, got %d", len(e.vocabulary))
	}
	// "common" appears in both docs so its idf should be lower than a
	// term appearing in only one doc.
	if e.idf["common"] >= e.idf["rare"] {
		t.Fatalf("expected common term to have lower idf than rare term: common=%v rare=%v", e.idf["common"], e.idf["rare"])
	}
}

func TestResolveTermDropsBeyondCapacity(t *testing.T) {
	e := New(Config{Dimension: 8, MaxVocabularySize: 1})

	if _, _, ok := e.resolveTerm("first"); !ok {
		t.Fatalf("expected first term to be accepted")
	}
	if _, _, ok := e.resolveTerm("second"); ok {
		t.Fatalf("expected second term to be dropped once vocabulary is full")
	}
}

func TestFindSimilarWordsExcludesQueryWord(t *testing.T) {
	e := New(Config{Dimension: 32})
	e.TrainOnCorpus([]string{
		"dog cat bird",
		"dog cat fish",
		"dog bird fish",
	})

	results, err := e.FindSimilarWords(context.Background(), "dog", 2)
	if err != nil {
		t.Fatalf("find similar words: %v", err)
	}
	for _, r := range results {
		if r.Word == "dog" {
			t.Fatalf("expected query word to be excluded, got %v", results)
		}
	}
	if len(results) > 2 {
		t.Fatalf("expected at most 2 results, got %d", len(results))
	}
}

func TestProjectDimsDeterministicAndBounded(t *testing.T) {
	a := projectDims(3, 100)
	b := projectDims(3, 100)
	if len(a) != len(b) {
		t.Fatalf("expected deterministic dim count")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected deterministic projection for same idx, got %v vs %v", a, b)
		}
	}
	for _, d := range a {
		if d < 0 || d >= 100 {
			t.Fatalf("dim %d out of bounds", d)
		}
	}
	if len(a) < 1 || len(a) > 5 {
		t.Fatalf("expected 1..5 dims, got %d", len(a))
	}
}
