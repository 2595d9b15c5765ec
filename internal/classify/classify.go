// Package classify provides domain classification and keyword extraction for
// requirement texts. Both operations are pure and deterministic: identical
// input always yields identical output.
package classify

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// DomainGeneral is returned when no domain keyword matches.
const DomainGeneral = "general"

// MaxKeywords is the maximum number of keywords extracted per text.
const MaxKeywords = 10

// DomainKeywords binds one domain label to its trigger keywords. Table order
// matters: classification returns the first domain with a match.
type DomainKeywords struct {
	Domain   string   `json:"domain"`
	Keywords []string `json:"keywords"`
}

// DefaultTable is the built-in domain table. Loaded tables replace it
// wholesale rather than merging.
var DefaultTable = []DomainKeywords{
	{Domain: "commerce", Keywords: []string{"cart", "product", "checkout", "order", "purchase", "shop", "inventory"}},
	{Domain: "authentication", Keywords: []string{"login", "password", "user", "account", "register", "auth"}},
	{Domain: "finance", Keywords: []string{"payment", "transaction", "billing", "invoice", "money", "credit"}},
	{Domain: "social", Keywords: []string{"post", "comment", "like", "share", "follow", "message"}},
	{Domain: "search", Keywords: []string{"search", "filter", "sort", "query", "results"}},
	{Domain: "mobile", Keywords: []string{"mobile", "app", "swipe", "touch", "notification"}},
	{Domain: "interface", Keywords: []string{"click", "button", "form", "page", "navigate", "interface"}},
}

var stopWords = map[string]struct{}{
	"i": {}, "want": {}, "to": {}, "so": {}, "that": {}, "as": {},
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {},
}

var wordPattern = regexp.MustCompile(`\b\w+\b`)

// Classifier tags texts with a domain label and extracts salient keywords.
type Classifier struct {
	table []DomainKeywords
}

// New creates a classifier using the built-in domain table.
func New() *Classifier {
	return NewWithTable(DefaultTable)
}

// NewWithTable creates a classifier with a custom ordered domain table.
func NewWithTable(table []DomainKeywords) *Classifier {
	return &Classifier{table: table}
}

// LoadTable reads a domain table from a JSON file. The file holds an ordered
// array of {domain, keywords} objects; order determines match precedence.
func LoadTable(path string) ([]DomainKeywords, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading domain table: %w", err)
	}
	var table []DomainKeywords
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parsing domain table: %w", err)
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("domain table %s is empty", path)
	}
	return table, nil
}

// Classify returns the first domain whose keyword set intersects the text,
// or "general" when none match.
func (c *Classifier) Classify(text string) string {
	lower := strings.ToLower(text)
	for _, entry := range c.table {
		for _, kw := range entry.Keywords {
			if strings.Contains(lower, kw) {
				return entry.Domain
			}
		}
	}
	return DomainGeneral
}

// Keywords extracts up to MaxKeywords salient terms: lowercase word tokens,
// stop words and tokens of length <= 2 removed, ranked by frequency with
// ties broken by first occurrence.
func (c *Classifier) Keywords(text string) []string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)

	counts := make(map[string]int)
	firstSeen := make(map[string]int)
	for i, w := range words {
		if _, stop := stopWords[w]; stop || len(w) <= 2 {
			continue
		}
		if _, seen := counts[w]; !seen {
			firstSeen[w] = i
		}
		counts[w]++
	}

	keywords := make([]string, 0, len(counts))
	for w := range counts {
		keywords = append(keywords, w)
	}
	sort.SliceStable(keywords, func(i, j int) bool {
		if counts[keywords[i]] != counts[keywords[j]] {
			return counts[keywords[i]] > counts[keywords[j]]
		}
		return firstSeen[keywords[i]] < firstSeen[keywords[j]]
	})

	if len(keywords) > MaxKeywords {
		keywords = keywords[:MaxKeywords]
	}
	return keywords
}

// Complexity estimates how involved a requirement is, in [0, 1]. Used as
// auxiliary story metadata for reporting.
func Complexity(text string) float64 {
	wordCount := len(strings.Fields(text))
	lower := strings.ToLower(text)

	indicators := []string{"integrate", "multiple", "complex", "advanced", "system"}
	bonus := 0
	for _, ind := range indicators {
		if strings.Contains(lower, ind) {
			bonus++
		}
	}

	score := float64(wordCount)/100 + float64(bonus)*0.2
	if score > 1.0 {
		score = 1.0
	}
	return score
}
