package estimate

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// DefaultMinScore is the similarity a fuzzy match must reach to be accepted.
const DefaultMinScore = 0.7

// NeedMoreDetail is the user-facing message carried by a miss.
const NeedMoreDetail = "We need more details about your project to provide an accurate estimate."

// Result of a lookup. A miss is a normal result with Found == false.
type Result struct {
	Record  Record
	Found   bool
	Score   float64
	Message string
}

type Resolver struct {
	catalog  *Catalog
	minScore float64
}

func NewResolver(catalog *Catalog, minScore float64) *Resolver {
	if minScore <= 0 || minScore > 1 {
		minScore = DefaultMinScore
	}
	return &Resolver{catalog: catalog, minScore: minScore}
}

func (r *Resolver) Catalog() *Catalog { return r.catalog }

// Resolve maps free text to a reference record: exact key/alias first, then the
// best similarity ratio. Equal scores keep the earliest inserted record.
func (r *Resolver) Resolve(text string) Result {
	q := normalize(text)
	if q == "" || r.catalog == nil {
		return notFound(0)
	}
	if pos, ok := r.catalog.index[q]; ok {
		return Result{Record: r.catalog.records[pos], Found: true, Score: 1}
	}

	best, bestScore := -1, -1.0
	for _, cand := range r.catalog.candidates {
		score := Similarity(q, cand.text)
		if score > bestScore {
			best, bestScore = cand.record, score
		}
	}
	if best < 0 || bestScore < r.minScore {
		return notFound(max(bestScore, 0))
	}
	return Result{Record: r.catalog.records[best], Found: true, Score: bestScore}
}

// Similarity is 1 - editDistance/maxLen over runes, in [0, 1].
func Similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

func notFound(score float64) Result {
	return Result{
		Record: Record{
			ProjectType:     "unknown",
			BudgetRange:     "Requires more information",
			TypicalTimeline: "Requires more information",
		},
		Score:   score,
		Message: NeedMoreDetail,
	}
}
