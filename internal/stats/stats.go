// Package stats aggregates quality statistics over the knowledge base:
// counts, score distribution, per-domain averages, and feedback trends.
// All computation is read-only and tolerates empty collections.
package stats

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/caseforge/retrieval/internal/store"
)

// Trend labels for feedback quality over time.
const (
	TrendImproving        = "improving"
	TrendDeclining        = "declining"
	TrendStable           = "stable"
	TrendInsufficientData = "insufficient_data"
)

// NeutralQuality is reported as the average when no data exists.
const NeutralQuality = 3.0

// trendDelta is the minimum mean difference between the two chronological
// halves before a trend is called.
const trendDelta = 0.1

// Snapshot holds one aggregation pass over the store.
type Snapshot struct {
	TotalStories  int                `json:"total_stories"`
	TotalFeedback int                `json:"total_feedback"`
	AvgQuality    float64            `json:"avg_quality"`
	Distribution  [5]int             `json:"quality_distribution"` // buckets [1,2) [2,3) [3,4) [4,5) [5]
	DomainQuality map[string]float64 `json:"domain_quality"`
	Trend         string             `json:"trend"`
	WeeklyAvg     map[string]float64 `json:"weekly_avg"`
	GeneratedAt   time.Time          `json:"generated_at"`
}

// Engine computes statistics over a RecordStore.
type Engine struct {
	store store.RecordStore
}

// New creates a stats engine bound to a store.
func New(st store.RecordStore) *Engine {
	return &Engine{store: st}
}

// Snapshot reads both collections and aggregates them.
func (e *Engine) Snapshot(ctx context.Context) (*Snapshot, error) {
	stories, err := e.store.AllStories(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading stories: %w", err)
	}
	feedback, err := e.store.AllFeedback(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading feedback: %w", err)
	}
	return Compute(stories, feedback), nil
}

// Compute aggregates statistics from in-memory snapshots. Pure: it never
// fails, returning neutral defaults for empty input.
func Compute(stories []*store.StoryRecord, feedback []*store.FeedbackRecord) *Snapshot {
	snap := &Snapshot{
		TotalStories:  len(stories),
		TotalFeedback: len(feedback),
		AvgQuality:    NeutralQuality,
		DomainQuality: make(map[string]float64),
		Trend:         TrendInsufficientData,
		WeeklyAvg:     make(map[string]float64),
		GeneratedAt:   time.Now().UTC(),
	}

	// Per-domain running means over story quality; order-independent.
	domainSums := make(map[string]float64)
	domainCounts := make(map[string]int)
	for _, s := range stories {
		domainSums[s.Domain] += s.QualityScore
		domainCounts[s.Domain]++
	}
	for domain, sum := range domainSums {
		snap.DomainQuality[domain] = sum / float64(domainCounts[domain])
	}

	if len(feedback) == 0 {
		return snap
	}

	var sum float64
	weekSums := make(map[string]float64)
	weekCounts := make(map[string]int)
	for _, f := range feedback {
		sum += f.QualityScore
		snap.Distribution[bucket(f.QualityScore)]++

		week := weekStart(f.CreatedAt)
		weekSums[week] += f.QualityScore
		weekCounts[week]++
	}
	snap.AvgQuality = sum / float64(len(feedback))
	for week, s := range weekSums {
		snap.WeeklyAvg[week] = s / float64(weekCounts[week])
	}

	snap.Trend = trend(feedback)
	return snap
}

// trend splits feedback chronologically into two halves and compares means.
func trend(feedback []*store.FeedbackRecord) string {
	if len(feedback) < 2 {
		return TrendInsufficientData
	}

	ordered := make([]*store.FeedbackRecord, len(feedback))
	copy(ordered, feedback)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	mid := len(ordered) / 2
	olderMean := mean(ordered[:mid])
	recentMean := mean(ordered[mid:])

	switch {
	case recentMean > olderMean+trendDelta:
		return TrendImproving
	case recentMean < olderMean-trendDelta:
		return TrendDeclining
	default:
		return TrendStable
	}
}

func mean(feedback []*store.FeedbackRecord) float64 {
	if len(feedback) == 0 {
		return NeutralQuality
	}
	var sum float64
	for _, f := range feedback {
		sum += f.QualityScore
	}
	return sum / float64(len(feedback))
}

// bucket maps a score in [1,5] to a histogram bucket index 0..4.
func bucket(score float64) int {
	b := int(score) - 1
	if b < 0 {
		b = 0
	}
	if b > 4 {
		b = 4
	}
	return b
}

// weekStart returns the Monday of the record's week, as YYYY-MM-DD.
func weekStart(t time.Time) string {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset).Format("2006-01-02")
}

// Report renders the snapshot as a human-readable summary.
func (s *Snapshot) Report() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Knowledge base: %d stories, %d feedback events\n", s.TotalStories, s.TotalFeedback)
	fmt.Fprintf(&sb, "Average quality: %.2f/5.0 (trend: %s)\n", s.AvgQuality, s.Trend)

	labels := [5]string{"poor (1)", "below avg (2)", "average (3)", "good (4)", "excellent (5)"}
	sb.WriteString("Quality distribution:\n")
	for i, label := range labels {
		fmt.Fprintf(&sb, "  %-14s %d\n", label, s.Distribution[i])
	}

	if len(s.DomainQuality) > 0 {
		domains := make([]string, 0, len(s.DomainQuality))
		for d := range s.DomainQuality {
			domains = append(domains, d)
		}
		sort.Strings(domains)
		sb.WriteString("Per-domain quality:\n")
		for _, d := range domains {
			fmt.Fprintf(&sb, "  %-16s %.2f\n", d, s.DomainQuality[d])
		}
	}

	if len(s.WeeklyAvg) > 0 {
		weeks := make([]string, 0, len(s.WeeklyAvg))
		for w := range s.WeeklyAvg {
			weeks = append(weeks, w)
		}
		sort.Strings(weeks)
		sb.WriteString("Weekly averages:\n")
		for _, w := range weeks {
			fmt.Fprintf(&sb, "  %s  %.2f\n", w, s.WeeklyAvg[w])
		}
	}

	return sb.String()
}
