package sqlite

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/caseforge/retrieval/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening in-memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testStory(text string, embedding []float32, source store.Source) *store.StoryRecord {
	return &store.StoryRecord{
		ID:        store.StoryID(text),
		Text:      text,
		Embedding: embedding,
		Domain:    "general",
		Keywords:  []string{"keyword"},
		TestCases: []store.TestCase{
			{ID: "tc_1", Title: "Case", Steps: "Do the thing", Expected: "It works", Priority: "High"},
		},
		QualityScore: store.DefaultQualityScore,
		Source:       source,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestInsertAndGetStory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := testStory("first story", []float32{1, 0, 0}, store.SourceSample)
	id, err := s.InsertStory(ctx, rec)
	if err != nil {
		t.Fatalf("InsertStory: %v", err)
	}
	if id != rec.ID {
		t.Errorf("expected id %q, got %q", rec.ID, id)
	}

	got, err := s.GetStory(ctx, id)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if got.Text != rec.Text {
		t.Errorf("text = %q, want %q", got.Text, rec.Text)
	}
	if len(got.Embedding) != 3 || got.Embedding[0] != 1 {
		t.Errorf("embedding round trip failed: %v", got.Embedding)
	}
	if len(got.TestCases) != 1 || got.TestCases[0].ID != "tc_1" {
		t.Errorf("test cases round trip failed: %+v", got.TestCases)
	}
	if got.LastFeedbackAt != nil {
		t.Errorf("expected nil LastFeedbackAt, got %v", got.LastFeedbackAt)
	}
}

func TestGetStory_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetStory(context.Background(), "story_missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertStory_DuplicateSample(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := testStory("same text", []float32{1, 0, 0}, store.SourceSample)
	if _, err := s.InsertStory(ctx, rec); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	_, err := s.InsertStory(ctx, testStory("same text", []float32{1, 0, 0}, store.SourceSample))
	if !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestInsertStory_ConcurrentDuplicateSamples(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// All racers carry identical text: exactly one insert must win and the
	// rest must lose with ErrDuplicate, never a raw constraint error.
	const n = 16
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.InsertStory(ctx, testStory("raced text", []float32{1, 0, 0}, store.SourceSample))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var inserted, duplicates int
	for err := range errs {
		switch {
		case err == nil:
			inserted++
		case errors.Is(err, store.ErrDuplicate):
			duplicates++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if inserted != 1 || duplicates != n-1 {
		t.Errorf("got %d inserts and %d duplicates, want 1 and %d", inserted, duplicates, n-1)
	}

	count, err := s.CountStories(ctx)
	if err != nil {
		t.Fatalf("CountStories: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 story, got %d", count)
	}
}

func TestInsertStory_GeneratedAppendsSuffixed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := testStory("same text", []float32{1, 0, 0}, store.SourceGenerated)
	firstID, err := s.InsertStory(ctx, rec)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}

	secondID, err := s.InsertStory(ctx, testStory("same text", []float32{0, 1, 0}, store.SourceGenerated))
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if secondID == firstID {
		t.Fatal("expected a fresh id for the colliding insert")
	}
	if !strings.HasPrefix(secondID, firstID+"_") {
		t.Errorf("suffixed id %q should extend %q", secondID, firstID)
	}

	count, err := s.CountStories(ctx)
	if err != nil {
		t.Fatalf("CountStories: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 stories, got %d", count)
	}
}

func TestQueryNearest_Ordering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stories := []*store.StoryRecord{
		testStory("exact match", []float32{1, 0, 0}, store.SourceSample),
		testStory("close match", []float32{0.9, 0.4, 0}, store.SourceSample),
		testStory("orthogonal", []float32{0, 0, 1}, store.SourceSample),
	}
	for _, rec := range stories {
		if _, err := s.InsertStory(ctx, rec); err != nil {
			t.Fatalf("InsertStory: %v", err)
		}
	}

	results, err := s.QueryNearest(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("QueryNearest: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Story.Text != "exact match" {
		t.Errorf("closest story = %q, want %q", results[0].Story.Text, "exact match")
	}
	if results[1].Story.Text != "close match" {
		t.Errorf("second story = %q, want %q", results[1].Story.Text, "close match")
	}
	if results[0].Distance > results[1].Distance {
		t.Errorf("results not ascending by distance: %v, %v", results[0].Distance, results[1].Distance)
	}
	if results[0].Distance > 1e-6 {
		t.Errorf("identical vector should have near-zero distance, got %v", results[0].Distance)
	}
}

func TestQueryNearest_EqualDistanceTiebreak(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testStory("first twin", []float32{1, 0, 0}, store.SourceSample)
	b := testStory("second twin", []float32{1, 0, 0}, store.SourceSample)
	for _, rec := range []*store.StoryRecord{a, b} {
		if _, err := s.InsertStory(ctx, rec); err != nil {
			t.Fatalf("InsertStory: %v", err)
		}
	}

	wantFirst, wantSecond := a.ID, b.ID
	if wantSecond < wantFirst {
		wantFirst, wantSecond = wantSecond, wantFirst
	}

	// Identical embeddings tie on distance; order must still be stable
	// across repeated queries.
	for i := 0; i < 5; i++ {
		results, err := s.QueryNearest(ctx, []float32{1, 0, 0}, 2)
		if err != nil {
			t.Fatalf("QueryNearest: %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("expected 2 results, got %d", len(results))
		}
		if results[0].Story.ID != wantFirst || results[1].Story.ID != wantSecond {
			t.Fatalf("equal-distance order not deterministic: got %q, %q", results[0].Story.ID, results[1].Story.ID)
		}
	}
}

func TestQueryNearest_LimitAndEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	results, err := s.QueryNearest(ctx, []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("QueryNearest on empty store: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}

	if _, err := s.InsertStory(ctx, testStory("only one", []float32{1, 0, 0}, store.SourceSample)); err != nil {
		t.Fatalf("InsertStory: %v", err)
	}
	results, err = s.QueryNearest(ctx, []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("QueryNearest: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 result, got %d", len(results))
	}
}

func TestUpdateStoryMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := testStory("update me", []float32{1, 0, 0}, store.SourceSample)
	id, err := s.InsertStory(ctx, rec)
	if err != nil {
		t.Fatalf("InsertStory: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	err = s.UpdateStoryMetadata(ctx, id, store.StoryPatch{
		QualityScore:   4.2,
		FeedbackCount:  1,
		LastFeedbackAt: now,
	})
	if err != nil {
		t.Fatalf("UpdateStoryMetadata: %v", err)
	}

	got, err := s.GetStory(ctx, id)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if got.QualityScore != 4.2 {
		t.Errorf("quality = %v, want 4.2", got.QualityScore)
	}
	if got.FeedbackCount != 1 {
		t.Errorf("feedback count = %d, want 1", got.FeedbackCount)
	}
	if got.LastFeedbackAt == nil || !got.LastFeedbackAt.Equal(now) {
		t.Errorf("last feedback = %v, want %v", got.LastFeedbackAt, now)
	}
}

func TestUpdateStoryMetadata_NotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateStoryMetadata(context.Background(), "story_missing", store.StoryPatch{
		QualityScore:   4.0,
		FeedbackCount:  1,
		LastFeedbackAt: time.Now().UTC(),
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertFeedbackAndAllFeedback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	for i, score := range []float64{2.0, 4.0, 5.0} {
		_, err := s.InsertFeedback(ctx, &store.FeedbackRecord{
			StoryID:      "story_x",
			QualityScore: score,
			Text:         "feedback",
			Weight:       1.0,
			Embedding:    []float32{1, 0},
			CreatedAt:    base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("InsertFeedback: %v", err)
		}
	}

	all, err := s.AllFeedback(ctx)
	if err != nil {
		t.Fatalf("AllFeedback: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.Before(all[i-1].CreatedAt) {
			t.Error("feedback not in chronological order")
		}
	}
	if all[0].QualityScore != 2.0 {
		t.Errorf("first score = %v, want 2.0", all[0].QualityScore)
	}
	if all[0].ID == "" {
		t.Error("expected a generated feedback id")
	}

	count, err := s.CountFeedback(ctx)
	if err != nil {
		t.Fatalf("CountFeedback: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestAllStories(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, text := range []string{"story one", "story two"} {
		if _, err := s.InsertStory(ctx, testStory(text, []float32{1, 0, 0}, store.SourceSample)); err != nil {
			t.Fatalf("InsertStory: %v", err)
		}
	}

	all, err := s.AllStories(ctx)
	if err != nil {
		t.Fatalf("AllStories: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 stories, got %d", len(all))
	}
}
