// Package qdrantpg implements store.RecordStore on PostgreSQL plus Qdrant.
//
// PostgreSQL rows are the source of truth for stories and feedback; Qdrant
// holds one point per story for cosine nearest-neighbor search. Use this
// backend when the knowledge base outgrows the embedded sqlite store.
package qdrantpg

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/qdrant/go-client/qdrant"

	"github.com/caseforge/retrieval/internal/store"
)

// pointNamespace derives deterministic Qdrant point UUIDs from story ids.
var pointNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Config holds connection settings for the backend.
type Config struct {
	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string

	// QdrantURL is the Qdrant gRPC address in "host:port" form.
	QdrantURL string

	// Collection is the Qdrant collection name for story vectors.
	Collection string

	// Dimension is the embedding dimension, used when creating the collection.
	Dimension int
}

// Store implements store.RecordStore backed by PostgreSQL and Qdrant.
type Store struct {
	pool       *pgxpool.Pool
	client     *qdrant.Client
	collection string
}

// New connects to both backends and ensures the schema and collection exist.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	host, portStr, err := net.SplitHostPort(cfg.QdrantURL)
	if err != nil {
		host = cfg.QdrantURL
		portStr = "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "stories"
	}

	s := &Store{pool: pool, client: client, collection: collection}
	if err := s.ensureSchema(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.ensureCollection(ctx, cfg.Dimension); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases both connections.
func (s *Store) Close() error {
	s.pool.Close()
	return s.client.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS stories (
			id               TEXT PRIMARY KEY,
			text             TEXT NOT NULL,
			embedding        JSONB NOT NULL,
			domain           TEXT NOT NULL,
			keywords         JSONB NOT NULL,
			test_cases       JSONB NOT NULL,
			quality_score    DOUBLE PRECISION NOT NULL,
			feedback_count   INTEGER NOT NULL DEFAULT 0,
			source           TEXT NOT NULL,
			complexity       DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at       TIMESTAMPTZ NOT NULL,
			last_feedback_at TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS feedback (
			id                TEXT PRIMARY KEY,
			story_id          TEXT NOT NULL,
			quality_score     DOUBLE PRECISION NOT NULL,
			text              TEXT NOT NULL,
			categories        JSONB NOT NULL,
			missing_scenarios JSONB NOT NULL,
			weight            DOUBLE PRECISION NOT NULL,
			embedding         JSONB NOT NULL,
			created_at        TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_feedback_story ON feedback(story_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

func (s *Store) ensureCollection(ctx context.Context, dimension int) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// InsertStory writes the row first, then indexes the vector. A sample
// insertion colliding with an existing id fails with ErrDuplicate; other
// sources append under a suffixed id. The conflict clause makes
// check-and-insert atomic under concurrent inserts of identical text.
func (s *Store) InsertStory(ctx context.Context, rec *store.StoryRecord) (string, error) {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	id := rec.ID
	for {
		inserted, err := s.insertStoryRow(ctx, id, rec, createdAt)
		if err != nil {
			return "", err
		}
		if inserted {
			break
		}
		if rec.Source == store.SourceSample {
			return "", fmt.Errorf("story %s: %w", id, store.ErrDuplicate)
		}
		id = rec.ID + "_" + uuid.NewString()[:8]
	}

	point := &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(uuid.NewSHA1(pointNamespace, []byte(id)).String()),
		Vectors: qdrant.NewVectors(rec.Embedding...),
		Payload: map[string]*qdrant.Value{
			"story_id": qdrant.NewValueString(id),
			"domain":   qdrant.NewValueString(rec.Domain),
		},
	}
	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         []*qdrant.PointStruct{point},
	}); err != nil {
		// Drop the row again: an unindexed story is unreachable through
		// search, and leaving it would make a retried generated insert
		// append a second suffixed copy. Best effort.
		_, _ = s.pool.Exec(ctx, `DELETE FROM stories WHERE id = $1`, id)
		return "", fmt.Errorf("failed to index story vector: %w", err)
	}

	return id, nil
}

// QueryNearest searches Qdrant for the closest story vectors and hydrates
// the matching rows from PostgreSQL. Qdrant returns cosine similarity, so
// distance is 1 - score.
func (s *Store) QueryNearest(ctx context.Context, vector []float32, limit int) ([]store.NearestStory, error) {
	if limit <= 0 {
		return nil, nil
	}

	response, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}

	ids := make([]string, 0, len(response))
	distances := make(map[string]float64, len(response))
	for _, point := range response {
		payload := point.Payload
		if payload == nil {
			continue
		}
		storyID, ok := payload["story_id"]
		if !ok {
			continue
		}
		id := storyID.GetStringValue()
		ids = append(ids, id)
		distances[id] = 1 - float64(point.Score)
	}

	records, err := s.getStoriesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*store.StoryRecord, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	// Preserve Qdrant's ascending-distance order.
	results := make([]store.NearestStory, 0, len(ids))
	for _, id := range ids {
		rec, ok := byID[id]
		if !ok {
			continue
		}
		results = append(results, store.NearestStory{Story: rec, Distance: distances[id]})
	}
	return results, nil
}

// Ensure Store implements store.RecordStore.
var _ store.RecordStore = (*Store)(nil)
