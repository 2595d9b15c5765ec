// Package store defines the domain models and data access interface for the
// test-case knowledge base: story records, feedback records, and the
// RecordStore contract implemented by the storage backends.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a sample insertion collides with an
// existing story id.
var ErrDuplicate = errors.New("duplicate story")

// Source identifies the provenance of a story record.
type Source string

const (
	SourceSample       Source = "sample"
	SourceGenerated    Source = "generated"
	SourceUserImproved Source = "user_improved"
)

// DefaultQualityScore is the quality estimate assigned to a story before any
// feedback arrives.
const DefaultQualityScore = 3.0

// TestCase is one test case associated with a story.
type TestCase struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Preconditions string `json:"preconditions,omitempty"`
	Steps         string `json:"steps"`
	Expected      string `json:"expected"`
	Priority      string `json:"priority"`
}

// StoryRecord is one requirement text with its generated test cases and
// quality metadata. Embedding is written once at insertion and never changes;
// quality fields are mutated only through UpdateStoryMetadata.
type StoryRecord struct {
	ID             string
	Text           string
	Embedding      []float32
	Domain         string
	Keywords       []string
	TestCases      []TestCase
	QualityScore   float64
	FeedbackCount  int
	Source         Source
	Complexity     float64
	CreatedAt      time.Time
	LastFeedbackAt *time.Time
}

// FeedbackRecord is an immutable log entry for one user quality rating.
type FeedbackRecord struct {
	ID               string
	StoryID          string
	QualityScore     float64
	Text             string
	Categories       []string
	MissingScenarios []string
	Weight           float64
	Embedding        []float32
	CreatedAt        time.Time
}

// StoryPatch carries the mutable quality fields for UpdateStoryMetadata.
type StoryPatch struct {
	QualityScore   float64
	FeedbackCount  int
	LastFeedbackAt time.Time
}

// NearestStory pairs a story with its cosine distance to a query vector.
// Distance is in [0, 2]; 0 means identical direction.
type NearestStory struct {
	Story    *StoryRecord
	Distance float64
}

// RecordStore is the persistence contract for stories and feedback.
// Implementations own both collections; callers borrow access through this
// interface and hold no independent state.
type RecordStore interface {
	// InsertStory persists a story and returns the id it was stored under.
	// For SourceSample an id collision fails with ErrDuplicate; generated
	// and user_improved insertions always append (a collision is resolved
	// by suffixing the id).
	InsertStory(ctx context.Context, rec *StoryRecord) (string, error)

	// QueryNearest returns up to limit stories ordered by ascending cosine
	// distance to the query vector.
	QueryNearest(ctx context.Context, vector []float32, limit int) ([]NearestStory, error)

	// GetStory returns the story with the given id, or ErrNotFound.
	GetStory(ctx context.Context, id string) (*StoryRecord, error)

	// UpdateStoryMetadata atomically replaces the quality fields of a story.
	UpdateStoryMetadata(ctx context.Context, id string, patch StoryPatch) error

	// InsertFeedback persists a feedback record and returns its id.
	InsertFeedback(ctx context.Context, rec *FeedbackRecord) (string, error)

	// AllStories returns a snapshot of every story. Each call issues a new
	// query, so the result is restartable.
	AllStories(ctx context.Context) ([]*StoryRecord, error)

	// AllFeedback returns a snapshot of every feedback record.
	AllFeedback(ctx context.Context) ([]*FeedbackRecord, error)

	// CountStories returns the number of stored stories.
	CountStories(ctx context.Context) (int, error)

	// CountFeedback returns the number of stored feedback records.
	CountFeedback(ctx context.Context) (int, error)

	// Close releases the backend's resources.
	Close() error
}

// StoryID derives the stable story id from requirement text. Identical
// normalized text always maps to the same id, which makes seed re-ingestion
// idempotent.
func StoryID(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return "story_" + hex.EncodeToString(sum[:])[:16]
}
