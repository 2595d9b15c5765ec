// Package rank computes the composite relevance score used to re-order
// nearest-neighbor candidates. The score combines semantic distance with
// domain, keyword, quality, and recency signals into a single value in [0, 1].
package rank

import "github.com/caseforge/retrieval/internal/store"

// Term weights. The base terms sum to 1.0 before the bonus/penalty
// multipliers are applied.
const (
	semanticWeight = 0.35

	domainMatchTerm = 0.25
	domainMissTerm  = 0.05

	keywordPerOverlap = 0.03
	keywordTermCap    = 0.15

	// Quality weight depends on how much feedback backs the score.
	qualityWeightConfident = 0.20 // >= 3 feedback events
	qualityWeightTentative = 0.15 // 1..2 feedback events
	qualityTermUnrated     = 0.05 // no feedback yet
	userImprovedBonus      = 0.10

	recencyGenerated    = 0.05
	recencyUserImproved = 0.03
	recencyOther        = 0.01

	highQualityMultiplier = 1.10
	lowQualityMultiplier  = 0.80
)

// Query holds the precomputed signals of the incoming requirement text.
type Query struct {
	Domain   string
	Keywords []string
}

// Scorer ranks candidate stories against a query.
type Scorer struct{}

// New creates a Scorer.
func New() *Scorer {
	return &Scorer{}
}

// Score returns the composite relevance of a candidate story given its
// cosine distance to the query. Deterministic; the result is clamped to
// [0, 1].
func (s *Scorer) Score(q Query, candidate *store.StoryRecord, distance float64) float64 {
	semantic := 1 - distance
	if semantic < 0 {
		semantic = 0
	}
	total := semantic * semanticWeight

	if candidate.Domain == q.Domain {
		total += domainMatchTerm
	} else {
		total += domainMissTerm
	}

	overlap := keywordOverlap(q.Keywords, candidate.Keywords)
	keywordTerm := float64(overlap) * keywordPerOverlap
	if keywordTerm > keywordTermCap {
		keywordTerm = keywordTermCap
	}
	total += keywordTerm

	total += qualityTerm(candidate)
	total += recencyTerm(candidate.Source)

	switch {
	case candidate.QualityScore >= 4.5 && candidate.FeedbackCount >= 2:
		total *= highQualityMultiplier
	case candidate.QualityScore <= 2.0 && candidate.FeedbackCount >= 2:
		total *= lowQualityMultiplier
	}

	if total < 0 {
		return 0
	}
	if total > 1 {
		return 1
	}
	return total
}

// qualityTerm converts the running quality estimate into a score
// contribution, tiered by how many feedback events back it.
func qualityTerm(c *store.StoryRecord) float64 {
	var term float64
	switch {
	case c.FeedbackCount >= 3:
		term = (c.QualityScore - 3.0) / 2.0 * qualityWeightConfident
	case c.FeedbackCount >= 1:
		term = (c.QualityScore - 3.0) / 2.0 * qualityWeightTentative
	default:
		term = qualityTermUnrated
	}
	if c.Source == store.SourceUserImproved {
		term += userImprovedBonus
	}
	return term
}

func recencyTerm(src store.Source) float64 {
	switch src {
	case store.SourceGenerated:
		return recencyGenerated
	case store.SourceUserImproved:
		return recencyUserImproved
	default:
		return recencyOther
	}
}

func keywordOverlap(query, candidate []string) int {
	if len(query) == 0 || len(candidate) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(query))
	for _, k := range query {
		set[k] = struct{}{}
	}
	overlap := 0
	seen := make(map[string]struct{}, len(candidate))
	for _, k := range candidate {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if _, ok := set[k]; ok {
			overlap++
		}
	}
	return overlap
}
