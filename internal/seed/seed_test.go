package seed

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/caseforge/retrieval/internal/embedder"
	"github.com/caseforge/retrieval/internal/engine"
	"github.com/caseforge/retrieval/internal/store"
	"github.com/caseforge/retrieval/internal/store/sqlite"
)

func newTestEngine(t *testing.T) (*engine.Engine, store.RecordStore) {
	t.Helper()
	st, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return engine.New(st, embedder.NewHashEmbedder(0)), st
}

func sampleEntries() []Entry {
	return []Entry{
		{
			UserStory: "As a shopper I want to checkout my cart",
			TestCases: []store.TestCase{{ID: "tc_1", Title: "Checkout", Steps: "Checkout", Expected: "Order placed", Priority: "High"}},
		},
		{
			UserStory: "Users must login with a password",
			TestCases: []store.TestCase{{ID: "tc_2", Title: "Login", Steps: "Login", Expected: "Session starts", Priority: "High"}},
		},
	}
}

func TestIngest(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	result, err := Ingest(ctx, eng, sampleEntries(), nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.Ingested != 2 || result.Skipped != 0 {
		t.Errorf("result = %+v, want 2 ingested", result)
	}

	count, err := st.CountStories(ctx)
	if err != nil {
		t.Fatalf("CountStories: %v", err)
	}
	if count != 2 {
		t.Errorf("stored stories = %d, want 2", count)
	}
}

func TestIngest_Reingest(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	if _, err := Ingest(ctx, eng, sampleEntries(), nil); err != nil {
		t.Fatalf("first run: %v", err)
	}
	result, err := Ingest(ctx, eng, sampleEntries(), nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if result.Ingested != 0 || result.Skipped != 2 {
		t.Errorf("re-ingest result = %+v, want 2 skipped", result)
	}

	count, err := st.CountStories(ctx)
	if err != nil {
		t.Fatalf("CountStories: %v", err)
	}
	if count != 2 {
		t.Errorf("stored stories = %d, want 2", count)
	}
}

func TestIngest_RepeatedStoriesInOneBatch(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	// Many copies of one story ingested concurrently: one insert wins, the
	// rest are clean skips, and the run must not abort.
	entries := make([]Entry, 64)
	for i := range entries {
		entries[i] = sampleEntries()[0]
	}

	result, err := Ingest(ctx, eng, entries, nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.Ingested != 1 || result.Skipped != 63 {
		t.Errorf("result = %+v, want 1 ingested and 63 skipped", result)
	}

	count, err := st.CountStories(ctx)
	if err != nil {
		t.Fatalf("CountStories: %v", err)
	}
	if count != 1 {
		t.Errorf("stored stories = %d, want 1", count)
	}
}

func TestIngest_SkipsEmptyStories(t *testing.T) {
	eng, _ := newTestEngine(t)

	result, err := Ingest(context.Background(), eng, []Entry{{UserStory: ""}}, nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.Ingested != 0 || result.Skipped != 1 {
		t.Errorf("result = %+v, want 1 skipped", result)
	}
}

func TestIngestFile(t *testing.T) {
	eng, _ := newTestEngine(t)

	data, err := json.Marshal(sampleEntries())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "seed.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	result, err := IngestFile(context.Background(), eng, path, nil)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if result.Ingested != 2 {
		t.Errorf("ingested = %d, want 2", result.Ingested)
	}
}

func TestIngestFile_MissingFile(t *testing.T) {
	eng, _ := newTestEngine(t)

	if _, err := IngestFile(context.Background(), eng, "/nonexistent/seed.json", nil); err == nil {
		t.Error("expected error for missing file")
	}
}
