// Package sqlite implements store.RecordStore on an embedded SQLite database.
//
// Embeddings are stored as little-endian float32 blobs and searched with a
// brute-force cosine scan; structured fields (test cases, keywords,
// categories) are stored as JSON columns while the typed models stay
// authoritative in memory. This is the default backend: it needs no external
// services and comfortably handles an advisory knowledge base. Beyond ~100K
// stories, switch to the qdrantpg backend.
package sqlite

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/caseforge/retrieval/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS stories (
	id               TEXT PRIMARY KEY,
	text             TEXT NOT NULL,
	embedding        BLOB NOT NULL,
	domain           TEXT NOT NULL,
	keywords         TEXT NOT NULL,
	test_cases       TEXT NOT NULL,
	quality_score    REAL NOT NULL,
	feedback_count   INTEGER NOT NULL DEFAULT 0,
	source           TEXT NOT NULL,
	complexity       REAL NOT NULL DEFAULT 0,
	created_at       TEXT NOT NULL,
	last_feedback_at TEXT
);

CREATE TABLE IF NOT EXISTS feedback (
	id                TEXT PRIMARY KEY,
	story_id          TEXT NOT NULL,
	quality_score     REAL NOT NULL,
	text              TEXT NOT NULL,
	categories        TEXT NOT NULL,
	missing_scenarios TEXT NOT NULL,
	weight            REAL NOT NULL,
	embedding         BLOB NOT NULL,
	created_at        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_feedback_story ON feedback(story_id);
CREATE INDEX IF NOT EXISTS idx_feedback_created ON feedback(created_at);
`

// Store implements store.RecordStore backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database in dataDir and ensures the schema.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "casekb.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertStory persists a story. Sample insertions fail with ErrDuplicate on
// id collision; generated and user_improved insertions append under a
// suffixed id instead. The conflict clause makes check-and-insert atomic, so
// concurrent inserts of identical text resolve to one winner and clean
// ErrDuplicate losses rather than raw constraint errors.
func (s *Store) InsertStory(ctx context.Context, rec *store.StoryRecord) (string, error) {
	keywordsJSON, err := json.Marshal(rec.Keywords)
	if err != nil {
		return "", fmt.Errorf("marshaling keywords: %w", err)
	}
	casesJSON, err := json.Marshal(rec.TestCases)
	if err != nil {
		return "", fmt.Errorf("marshaling test cases: %w", err)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var lastFeedback any
	if rec.LastFeedbackAt != nil {
		lastFeedback = rec.LastFeedbackAt.UTC().Format(time.RFC3339Nano)
	}

	id := rec.ID
	for {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO stories (id, text, embedding, domain, keywords, test_cases, quality_score, feedback_count, source, complexity, created_at, last_feedback_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			id, rec.Text, encodeFloat32s(rec.Embedding), rec.Domain, string(keywordsJSON), string(casesJSON),
			rec.QualityScore, rec.FeedbackCount, string(rec.Source), rec.Complexity,
			createdAt.UTC().Format(time.RFC3339Nano), lastFeedback,
		)
		if err != nil {
			return "", fmt.Errorf("inserting story %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return "", err
		}
		if n > 0 {
			return id, nil
		}
		if rec.Source == store.SourceSample {
			return "", fmt.Errorf("story %s: %w", id, store.ErrDuplicate)
		}
		id = rec.ID + "_" + uuid.NewString()[:8]
	}
}

// idDistance tracks only id and distance during the scan phase of
// QueryNearest. Full records are fetched for the winners only.
type idDistance struct {
	ID       string
	Distance float64
}

// QueryNearest performs a brute-force cosine distance scan over all stored
// embeddings and returns the limit closest stories, ascending by distance.
func (s *Store) QueryNearest(ctx context.Context, vector []float32, limit int) ([]store.NearestStory, error) {
	if limit <= 0 {
		return nil, nil
	}

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM stories`)
	if err != nil {
		return nil, fmt.Errorf("querying embeddings: %w", err)
	}
	defer rows.Close()

	h := &distanceHeap{}
	heap.Init(h)

	var buf []float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		distance := 1 - cosineSimilarity(vector, buf, queryNorm)
		if h.Len() < limit {
			heap.Push(h, idDistance{ID: id, Distance: distance})
		} else if distance < (*h)[0].Distance {
			(*h)[0] = idDistance{ID: id, Distance: distance}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	if h.Len() == 0 {
		return nil, nil
	}

	ids := make([]string, h.Len())
	distances := make(map[string]float64, h.Len())
	for i := len(ids) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idDistance)
		ids[i] = item.ID
		distances[item.ID] = item.Distance
	}

	records, err := s.getStoriesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]store.NearestStory, 0, len(records))
	for _, rec := range records {
		results = append(results, store.NearestStory{Story: rec, Distance: distances[rec.ID]})
	}
	// Tie on distance breaks by id so equal-distance candidates come back
	// in the same order regardless of SQLite's result order.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Story.ID < results[j].Story.ID
	})
	return results, nil
}

// GetStory returns the story with the given id.
func (s *Store) GetStory(ctx context.Context, id string) (*store.StoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, text, embedding, domain, keywords, test_cases, quality_score, feedback_count, source, complexity, created_at, last_feedback_at
		FROM stories WHERE id = ?`, id)
	rec, err := scanStory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("story %s: %w", id, store.ErrNotFound)
	}
	return rec, err
}

// UpdateStoryMetadata replaces the quality fields of a story in one
// statement; the single write is atomic at the storage level.
func (s *Store) UpdateStoryMetadata(ctx context.Context, id string, patch store.StoryPatch) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stories SET quality_score = ?, feedback_count = ?, last_feedback_at = ? WHERE id = ?`,
		patch.QualityScore, patch.FeedbackCount, patch.LastFeedbackAt.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("updating story %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
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

	categoriesJSON, err := json.Marshal(rec.Categories)
	if err != nil {
		return "", fmt.Errorf("marshaling categories: %w", err)
	}
	missingJSON, err := json.Marshal(rec.MissingScenarios)
	if err != nil {
		return "", fmt.Errorf("marshaling missing scenarios: %w", err)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO feedback (id, story_id, quality_score, text, categories, missing_scenarios, weight, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, rec.StoryID, rec.QualityScore, rec.Text, string(categoriesJSON), string(missingJSON),
		rec.Weight, encodeFloat32s(rec.Embedding), createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("inserting feedback %s: %w", id, err)
	}
	return id, nil
}

// AllStories returns every stored story. A new query runs per call.
func (s *Store) AllStories(ctx context.Context) ([]*store.StoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, embedding, domain, keywords, test_cases, quality_score, feedback_count, source, complexity, created_at, last_feedback_at
		FROM stories ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying stories: %w", err)
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, story_id, quality_score, text, categories, missing_scenarios, weight, embedding, created_at
		FROM feedback ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying feedback: %w", err)
	}
	defer rows.Close()

	var records []*store.FeedbackRecord
	for rows.Next() {
		var rec store.FeedbackRecord
		var categoriesJSON, missingJSON, createdAt string
		var blob []byte
		if err := rows.Scan(&rec.ID, &rec.StoryID, &rec.QualityScore, &rec.Text,
			&categoriesJSON, &missingJSON, &rec.Weight, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning feedback: %w", err)
		}
		if err := json.Unmarshal([]byte(categoriesJSON), &rec.Categories); err != nil {
			return nil, fmt.Errorf("unmarshaling categories for %s: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(missingJSON), &rec.MissingScenarios); err != nil {
			return nil, fmt.Errorf("unmarshaling missing scenarios for %s: %w", rec.ID, err)
		}
		embedding, err := decodeFloat32s(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", rec.ID, err)
		}
		rec.Embedding = embedding
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", rec.ID, err)
		}
		rec.CreatedAt = t
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// CountStories returns the number of stored stories.
func (s *Store) CountStories(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stories`).Scan(&count)
	return count, err
}

// CountFeedback returns the number of stored feedback records.
func (s *Store) CountFeedback(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback`).Scan(&count)
	return count, err
}

func (s *Store) getStoriesByIDs(ctx context.Context, ids []string) ([]*store.StoryRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `
		SELECT id, text, embedding, domain, keywords, test_cases, quality_score, feedback_count, source, complexity, created_at, last_feedback_at
		FROM stories WHERE id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying stories by ids: %w", err)
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

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanStory(row rowScanner) (*store.StoryRecord, error) {
	var rec store.StoryRecord
	var blob []byte
	var keywordsJSON, casesJSON, source, createdAt string
	var lastFeedback sql.NullString

	err := row.Scan(&rec.ID, &rec.Text, &blob, &rec.Domain, &keywordsJSON, &casesJSON,
		&rec.QualityScore, &rec.FeedbackCount, &source, &rec.Complexity, &createdAt, &lastFeedback)
	if err != nil {
		return nil, err
	}

	rec.Source = store.Source(source)
	if err := json.Unmarshal([]byte(keywordsJSON), &rec.Keywords); err != nil {
		return nil, fmt.Errorf("unmarshaling keywords for %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(casesJSON), &rec.TestCases); err != nil {
		return nil, fmt.Errorf("unmarshaling test cases for %s: %w", rec.ID, err)
	}
	embedding, err := decodeFloat32s(blob)
	if err != nil {
		return nil, fmt.Errorf("decoding embedding for %s: %w", rec.ID, err)
	}
	rec.Embedding = embedding

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at for %s: %w", rec.ID, err)
	}
	rec.CreatedAt = t
	if lastFeedback.Valid {
		lt, err := time.Parse(time.RFC3339Nano, lastFeedback.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_feedback_at for %s: %w", rec.ID, err)
		}
		rec.LastFeedbackAt = &lt
	}
	return &rec, nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes into the provided buffer, reusing it to avoid
// per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosineSimilarity computes dot(a,b) / (aNorm * bNorm). aNorm is the
// precomputed L2 norm of a. Returns 0 for mismatched lengths or a zero b.
func cosineSimilarity(a, b []float32, aNorm float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return dot / (float64(aNorm) * bNorm)
}

// distanceHeap is a max-heap of idDistance ordered by Distance; the root is
// the current worst candidate, evicted when a closer story is found.
type distanceHeap []idDistance

func (h distanceHeap) Len() int           { return len(h) }
func (h distanceHeap) Less(i, j int) bool { return h[i].Distance > h[j].Distance }
func (h distanceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *distanceHeap) Push(x any)        { *h = append(*h, x.(idDistance)) }
func (h *distanceHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Ensure Store implements store.RecordStore.
var _ store.RecordStore = (*Store)(nil)
