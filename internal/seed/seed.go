// Package seed bulk-ingests sample (requirement, test cases) pairs from a
// JSON file into the knowledge base. Re-running a seed file is idempotent:
// already-known texts are skipped.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/caseforge/retrieval/internal/engine"
	"github.com/caseforge/retrieval/internal/store"
)

// DefaultConcurrency bounds parallel embedding requests during ingestion.
const DefaultConcurrency = 4

// Entry is one seed item. The field names match the original sample-data
// format.
type Entry struct {
	UserStory string           `json:"userStory"`
	TestCases []store.TestCase `json:"testCases"`
}

// Result summarizes one ingestion run.
type Result struct {
	Ingested int
	Skipped  int
}

// IngestFile reads a JSON array of entries and inserts each as a sample
// story. Duplicate texts are skipped and logged; any other error aborts
// the run.
func IngestFile(ctx context.Context, eng *engine.Engine, path string, logger *slog.Logger) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("reading seed file: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return Result{}, fmt.Errorf("parsing seed file: %w", err)
	}

	return Ingest(ctx, eng, entries, logger)
}

// Ingest inserts the entries with bounded parallelism.
func Ingest(ctx context.Context, eng *engine.Engine, entries []Entry, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var ingested, skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultConcurrency)

	for _, entry := range entries {
		if entry.UserStory == "" {
			skipped.Add(1)
			continue
		}
		g.Go(func() error {
			id, err := eng.InsertStory(gctx, entry.UserStory, entry.TestCases, store.SourceSample)
			if errors.Is(err, store.ErrDuplicate) {
				logger.Warn("skipping duplicate seed story", "id", store.StoryID(entry.UserStory))
				skipped.Add(1)
				return nil
			}
			if err != nil {
				return fmt.Errorf("ingesting seed story: %w", err)
			}
			logger.Debug("ingested seed story", "id", id, "test_cases", len(entry.TestCases))
			ingested.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Result{Ingested: int(ingested.Load()), Skipped: int(skipped.Load())}, err
	}
	return Result{Ingested: int(ingested.Load()), Skipped: int(skipped.Load())}, nil
}
