package qdrantpg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/caseforge/retrieval/internal/store"
)

const storyColumns = `id, text, embedding, keywords, test_cases, domain, quality_score, feedback_count, source, complexity, created_at, last_feedback_at`

// insertStoryRow writes one story row. It reports false without error when
// the id is already taken, so the caller can resolve the collision.
func (s *Store) insertStoryRow(ctx context.Context, id string, rec *store.StoryRecord, createdAt time.Time) (bool, error) {
	embeddingJSON, err := json.Marshal(rec.Embedding)
	if err != nil {
		return false, fmt.Errorf("failed to marshal embedding: %w", err)
	}
	keywordsJSON, err := json.Marshal(rec.Keywords)
	if err != nil {
		return false, fmt.Errorf("failed to marshal keywords: %w", err)
	}
	casesJSON, err := json.Marshal(rec.TestCases)
	if err != nil {
		return false, fmt.Errorf("failed to marshal test cases: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO stories (id, text, embedding, keywords, test_cases, domain, quality_score, feedback_count, source, complexity, created_at, last_feedback_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`,
		id, rec.Text, embeddingJSON, keywordsJSON, casesJSON, rec.Domain,
		rec.QualityScore, rec.FeedbackCount, string(rec.Source), rec.Complexity,
		createdAt, rec.LastFeedbackAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert story: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetStory retrieves a story by id.
func (s *Store) GetStory(ctx context.Context, id string) (*store.StoryRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+storyColumns+` FROM stories WHERE id = $1`, id)
	rec, err := scanStory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("story %s: %w", id, store.ErrNotFound)
	}
	return rec, err
}

// UpdateStoryMetadata replaces the quality fields of a story.
func (s *Store) UpdateStoryMetadata(ctx context.Context, id string, patch store.StoryPatch) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE stories SET quality_score = $2, feedback_count = $3, last_feedback_at = $4 WHERE id = $1`,
		id, patch.QualityScore, patch.FeedbackCount, patch.LastFeedbackAt)
	if err != nil {
		return fmt.Errorf("failed to update story: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("story %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// InsertFeedback persists a feedback record.
func (s *Store) InsertFeedback(ctx context.Context, rec *store.FeedbackRecord) (string, error) {
	id := rec.ID
	if id == "" {
		id = "feedback_" + uuid.NewString()
	}

	embeddingJSON, err := json.Marshal(rec.Embedding)
	if err != nil {
		return "", fmt.Errorf("failed to marshal embedding: %w", err)
	}
	categoriesJSON, err := json.Marshal(rec.Categories)
	if err != nil {
		return "", fmt.Errorf("failed to marshal categories: %w", err)
	}
	missingJSON, err := json.Marshal(rec.MissingScenarios)
	if err != nil {
		return "", fmt.Errorf("failed to marshal missing scenarios: %w", err)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO feedback (id, story_id, quality_score, text, categories, missing_scenarios, weight, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, rec.StoryID, rec.QualityScore, rec.Text, categoriesJSON, missingJSON,
		rec.Weight, embeddingJSON, createdAt)
	if err != nil {
		return "", fmt.Errorf("failed to insert feedback: %w", err)
	}
	return id, nil
}

// AllStories returns every stored story.
func (s *Store) AllStories(ctx context.Context) ([]*store.StoryRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+storyColumns+` FROM stories ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}
	defer rows.Close()

	var records []*store.StoryRecord
	for rows.Next() {
		rec, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// AllFeedback returns every feedback record in chronological order.
func (s *Store) AllFeedback(ctx context.Context) ([]*store.FeedbackRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, story_id, quality_score, text, categories, missing_scenarios, weight, embedding, created_at
		FROM feedback ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	defer rows.Close()

	var records []*store.FeedbackRecord
	for rows.Next() {
		var rec store.FeedbackRecord
		var categoriesJSON, missingJSON, embeddingJSON []byte
		if err := rows.Scan(&rec.ID, &rec.StoryID, &rec.QualityScore, &rec.Text,
			&categoriesJSON, &missingJSON, &rec.Weight, &embeddingJSON, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		if err := json.Unmarshal(categoriesJSON, &rec.Categories); err != nil {
			return nil, fmt.Errorf("failed to unmarshal categories: %w", err)
		}
		if err := json.Unmarshal(missingJSON, &rec.MissingScenarios); err != nil {
			return nil, fmt.Errorf("failed to unmarshal missing scenarios: %w", err)
		}
		if err := json.Unmarshal(embeddingJSON, &rec.Embedding); err != nil {
			return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// CountStories returns the number of stored stories.
func (s *Store) CountStories(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stories`).Scan(&count)
	return count, err
}

// CountFeedback returns the number of stored feedback records.
func (s *Store) CountFeedback(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM feedback`).Scan(&count)
	return count, err
}

func (s *Store) getStoriesByIDs(ctx context.Context, ids []string) ([]*store.StoryRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+storyColumns+` FROM stories WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get stories by ids: %w", err)
	}
	defer rows.Close()

	var records []*store.StoryRecord
	for rows.Next() {
		rec, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanStory(row pgx.Row) (*store.StoryRecord, error) {
	var rec store.StoryRecord
	var embeddingJSON, keywordsJSON, casesJSON []byte
	var source string

	err := row.Scan(&rec.ID, &rec.Text, &embeddingJSON, &keywordsJSON, &casesJSON, &rec.Domain,
		&rec.QualityScore, &rec.FeedbackCount, &source, &rec.Complexity,
		&rec.CreatedAt, &rec.LastFeedbackAt)
	if err != nil {
		return nil, err
	}

	rec.Source = store.Source(source)
	if err := json.Unmarshal(embeddingJSON, &rec.Embedding); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}
	if err := json.Unmarshal(keywordsJSON, &rec.Keywords); err != nil {
		return nil, fmt.Errorf("failed to unmarshal keywords: %w", err)
	}
	if err := json.Unmarshal(casesJSON, &rec.TestCases); err != nil {
		return nil, fmt.Errorf("failed to unmarshal test cases: %w", err)
	}
	return &rec, nil
}
