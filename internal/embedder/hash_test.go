package embedder

import (
	"context"
	"math"
	"reflect"
	"testing"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()

	first, err := e.Embed(ctx, "the same input text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	second, err := e.Embed(ctx, "the same input text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("identical input produced different vectors")
	}
}

func TestHashEmbedder_Normalized(t *testing.T) {
	e := NewHashEmbedder(64)

	vec, err := e.Embed(context.Background(), "normalize this vector please")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	var normSq float64
	for _, v := range vec {
		normSq += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(normSq)-1.0) > 1e-5 {
		t.Errorf("expected unit norm, got %v", math.Sqrt(normSq))
	}
}

func TestHashEmbedder_SharedVocabularyCloser(t *testing.T) {
	e := NewHashEmbedder(256)
	ctx := context.Background()

	query, _ := e.Embed(ctx, "checkout the shopping cart")
	similar, _ := e.Embed(ctx, "add items to the shopping cart before checkout")
	unrelated, _ := e.Embed(ctx, "render kernel diagnostics panel")

	if cosine(query, similar) <= cosine(query, unrelated) {
		t.Error("texts sharing vocabulary should be closer under cosine")
	}
}

func TestHashEmbedder_EmptyText(t *testing.T) {
	e := NewHashEmbedder(32)

	vec, err := e.Embed(context.Background(), "")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	for _, v := range vec {
		if v != 0 {
			t.Fatal("empty text should embed to the zero vector")
		}
	}
}

func TestHashEmbedder_Defaults(t *testing.T) {
	e := NewHashEmbedder(0)
	if e.Dimension() != DefaultHashDimension {
		t.Errorf("dimension = %d, want %d", e.Dimension(), DefaultHashDimension)
	}

	vec, err := e.Embed(context.Background(), "some text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != DefaultHashDimension {
		t.Errorf("vector length = %d, want %d", len(vec), DefaultHashDimension)
	}
}

func TestHashEmbedder_EmbedBatch(t *testing.T) {
	e := NewHashEmbedder(64)

	texts := []string{"first", "second", "third"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vecs))
	}
	single, _ := e.Embed(context.Background(), "second")
	if !reflect.DeepEqual(vecs[1], single) {
		t.Error("batch result differs from single embed")
	}
}
