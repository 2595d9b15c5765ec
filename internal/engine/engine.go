// Package engine is the facade over the retrieval knowledge base. It wires
// the embedder, classifier, scorer, fallback generator, and record store into
// the four operations consumed by the orchestration layer: RetrieveSimilar,
// InsertStory, ApplyFeedback, and Stats.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/caseforge/retrieval/internal/classify"
	"github.com/caseforge/retrieval/internal/embedder"
	"github.com/caseforge/retrieval/internal/fallback"
	"github.com/caseforge/retrieval/internal/metrics"
	"github.com/caseforge/retrieval/internal/rank"
	"github.com/caseforge/retrieval/internal/stats"
	"github.com/caseforge/retrieval/internal/store"
)

// ErrInvalidScore is returned when a feedback quality score is outside [1, 5].
var ErrInvalidScore = errors.New("quality score must be between 1 and 5")

// candidateCap bounds the nearest-neighbor fan-out regardless of top-k.
const candidateCap = 20

// promotionThreshold is the minimum feedback score at which improved test
// cases are promoted into a new user_improved record.
const promotionThreshold = 4.0

// newFeedbackMass is the weight of one new feedback event relative to unit
// historical mass in the running quality mean. Values above 1 bias the
// estimate toward recent feedback.
const newFeedbackMass = 1.2

// RankedTestCase is a retrieved test case tagged with the relevance score of
// the story it was drawn from. Fallback cases carry relevance 0.
type RankedTestCase struct {
	store.TestCase
	Relevance float64 `json:"relevance"`
}

// Feedback is one user feedback event against a stored story.
type Feedback struct {
	StoryID           string
	QualityScore      float64
	Text              string
	Categories        []string
	MissingScenarios  []string
	ImprovedTestCases []store.TestCase
}

// Engine coordinates retrieval, ingestion, and feedback over one RecordStore.
// All state lives in the store; Engine itself is safe for concurrent use.
type Engine struct {
	store      store.RecordStore
	embedder   embedder.Embedder
	classifier *classify.Classifier
	scorer     *rank.Scorer
	fallback   *fallback.Generator
	logger     *slog.Logger
	recorder   *metrics.Recorder

	embedTimeout time.Duration
	locks        *storyLocks
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClassifier replaces the default domain classifier.
func WithClassifier(c *classify.Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(r *metrics.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithEmbedTimeout bounds every embedding call. Zero disables the bound.
func WithEmbedTimeout(d time.Duration) Option {
	return func(e *Engine) { e.embedTimeout = d }
}

// New creates an Engine over the given store and embedder.
func New(st store.RecordStore, emb embedder.Embedder, opts ...Option) *Engine {
	e := &Engine{
		store:      st,
		embedder:   emb,
		classifier: classify.New(),
		scorer:     rank.New(),
		fallback:   fallback.New(),
		logger:     slog.Default(),
		locks:      newStoryLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RetrieveSimilar returns up to topK test cases relevant to the requirement
// text, ranked by composite relevance. Retrieval is advisory: any embedding
// or store failure degrades to the fixed fallback list instead of returning
// an error (fail-open).
func (e *Engine) RetrieveSimilar(ctx context.Context, text string, topK int) []RankedTestCase {
	start := time.Now()
	if topK <= 0 {
		return nil
	}

	domain := e.classifier.Classify(text)
	keywords := e.classifier.Keywords(text)

	cases, err := e.retrieve(ctx, text, domain, keywords, topK)
	if err != nil {
		e.logger.Warn("retrieval degraded to fallback", "error", err, "domain", domain)
		cases = nil
		for _, tc := range e.fallback.OnFailure() {
			cases = append(cases, RankedTestCase{TestCase: tc})
		}
		if len(cases) > topK {
			cases = cases[:topK]
		}
		e.recorder.ObserveRetrieval(time.Since(start), true, false)
		return cases
	}

	padded := false
	if len(cases) < topK {
		seen := make(map[string]struct{}, len(cases))
		for _, c := range cases {
			seen[c.ID] = struct{}{}
		}
		for _, tc := range e.fallback.ForDomain(domain) {
			if len(cases) >= topK {
				break
			}
			if _, dup := seen[tc.ID]; dup {
				continue
			}
			seen[tc.ID] = struct{}{}
			cases = append(cases, RankedTestCase{TestCase: tc})
			padded = true
		}
	}

	if len(cases) > topK {
		cases = cases[:topK]
	}
	e.recorder.ObserveRetrieval(time.Since(start), false, padded)
	e.logger.Debug("retrieved test cases", "count", len(cases), "domain", domain, "top_k", topK)
	return cases
}

// retrieve runs the happy-path retrieval: embed, fetch candidates, re-rank,
// and collect deduplicated test cases.
func (e *Engine) retrieve(ctx context.Context, text, domain string, keywords []string, topK int) ([]RankedTestCase, error) {
	vector, err := e.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	fanOut := topK * 3
	if fanOut > candidateCap {
		fanOut = candidateCap
	}
	candidates, err := e.store.QueryNearest(ctx, vector, fanOut)
	if err != nil {
		return nil, fmt.Errorf("querying nearest stories: %w", err)
	}

	query := rank.Query{Domain: domain, Keywords: keywords}
	type scored struct {
		story *store.StoryRecord
		score float64
	}
	ranked := make([]scored, len(candidates))
	for i, c := range candidates {
		ranked[i] = scored{story: c.Story, score: e.scorer.Score(query, c.Story, c.Distance)}
	}
	// Stable: ties keep nearest-neighbor order.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	var cases []RankedTestCase
	seen := make(map[string]struct{})
	for _, r := range ranked {
		for _, tc := range r.story.TestCases {
			if _, dup := seen[tc.ID]; dup {
				continue
			}
			seen[tc.ID] = struct{}{}
			cases = append(cases, RankedTestCase{TestCase: tc, Relevance: r.score})
		}
	}
	return cases, nil
}

// InsertStory embeds and classifies the requirement text and persists it
// with its test cases. Sample insertions of already-known text fail with
// store.ErrDuplicate; generated insertions always append.
func (e *Engine) InsertStory(ctx context.Context, text string, cases []store.TestCase, source store.Source) (string, error) {
	return e.insertStory(ctx, text, cases, source, store.DefaultQualityScore)
}

func (e *Engine) insertStory(ctx context.Context, text string, cases []store.TestCase, source store.Source, quality float64) (string, error) {
	vector, err := e.embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("embedding story: %w", err)
	}

	rec := &store.StoryRecord{
		ID:           store.StoryID(text),
		Text:         text,
		Embedding:    vector,
		Domain:       e.classifier.Classify(text),
		Keywords:     e.classifier.Keywords(text),
		TestCases:    cases,
		QualityScore: quality,
		Source:       source,
		Complexity:   classify.Complexity(text),
		CreatedAt:    time.Now().UTC(),
	}

	id, err := e.store.InsertStory(ctx, rec)
	if err != nil {
		return "", err
	}
	e.recorder.IncStory(string(source))
	e.logger.Info("inserted story", "id", id, "domain", rec.Domain, "source", source, "test_cases", len(cases))
	return id, nil
}

// ApplyFeedback validates and applies one feedback event: it updates the
// target story's confidence-weighted quality estimate, records the immutable
// feedback entry, and promotes improved test cases into a new user_improved
// story when the rating is high enough.
//
// Updates to the same story are serialized by a per-story mutex, so
// concurrent feedback never loses an update.
func (e *Engine) ApplyFeedback(ctx context.Context, fb Feedback) error {
	if fb.QualityScore < 1 || fb.QualityScore > 5 {
		return fmt.Errorf("%w: got %.2f", ErrInvalidScore, fb.QualityScore)
	}

	weight := ComputeWeight(fb.QualityScore, fb.Text)

	// Embed the summary before touching the story so an embedding failure
	// leaves no partial state behind.
	summary := feedbackSummary(fb)
	vector, err := e.embed(ctx, summary)
	if err != nil {
		return fmt.Errorf("embedding feedback: %w", err)
	}

	unlock := e.locks.lock(fb.StoryID)
	rec, err := e.store.GetStory(ctx, fb.StoryID)
	if err != nil {
		unlock()
		return err
	}

	n := float64(rec.FeedbackCount)
	newScore := (rec.QualityScore*n + fb.QualityScore*newFeedbackMass) / (n + newFeedbackMass)
	now := time.Now().UTC()

	err = e.store.UpdateStoryMetadata(ctx, fb.StoryID, store.StoryPatch{
		QualityScore:   newScore,
		FeedbackCount:  rec.FeedbackCount + 1,
		LastFeedbackAt: now,
	})
	unlock()
	if err != nil {
		return fmt.Errorf("updating story quality: %w", err)
	}

	if _, err := e.store.InsertFeedback(ctx, &store.FeedbackRecord{
		ID:               "feedback_" + uuid.NewString(),
		StoryID:          fb.StoryID,
		QualityScore:     fb.QualityScore,
		Text:             fb.Text,
		Categories:       fb.Categories,
		MissingScenarios: fb.MissingScenarios,
		Weight:           weight,
		Embedding:        vector,
		CreatedAt:        now,
	}); err != nil {
		return fmt.Errorf("recording feedback: %w", err)
	}
	e.recorder.IncFeedback()

	if len(fb.ImprovedTestCases) > 0 && fb.QualityScore >= promotionThreshold {
		if _, err := e.insertStory(ctx, rec.Text, fb.ImprovedTestCases, store.SourceUserImproved, 5.0); err != nil {
			return fmt.Errorf("promoting improved test cases: %w", err)
		}
		e.logger.Info("promoted improved test cases", "story_id", fb.StoryID, "count", len(fb.ImprovedTestCases))
	}

	e.logger.Info("applied feedback", "story_id", fb.StoryID,
		"score", fb.QualityScore, "new_quality", newScore, "weight", weight)
	return nil
}

// Stats aggregates quality statistics over the store.
func (e *Engine) Stats(ctx context.Context) (*stats.Snapshot, error) {
	return stats.New(e.store).Snapshot(ctx)
}

// ComputeWeight scores how much a feedback event should influence future
// analysis: longer free text and extreme ratings carry more signal. The
// result is in [1.0, 2.0].
func ComputeWeight(qualityScore float64, text string) float64 {
	weight := 1.0
	switch {
	case len(text) > 50:
		weight += 0.3
	case len(text) > 20:
		weight += 0.1
	}
	if qualityScore <= 2.0 || qualityScore >= 4.5 {
		weight += 0.2
	}
	if weight > 2.0 {
		weight = 2.0
	}
	return weight
}

// feedbackSummary synthesizes the text that gets embedded for later
// feedback-pattern search.
func feedbackSummary(fb Feedback) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Quality: %.1f.", fb.QualityScore)
	if fb.Text != "" {
		sb.WriteString(" " + fb.Text)
	}
	if len(fb.Categories) > 0 {
		sb.WriteString(" Categories: " + strings.Join(fb.Categories, ", ") + ".")
	}
	if len(fb.MissingScenarios) > 0 {
		sb.WriteString(" Missing: " + strings.Join(fb.MissingScenarios, "; ") + ".")
	}
	return sb.String()
}

// embed calls the embedder under the configured timeout.
func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	if e.embedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.embedTimeout)
		defer cancel()
	}
	return e.embedder.Embed(ctx, text)
}
