package mentions

import (
	"strings"

	"github.com/AssortedFood/surge/internal/catalog"
	"github.com/AssortedFood/surge/internal/oracle"
)

// maxFuzzyDistance is the largest edit distance the fuzzy branch will
// accept between a candidate name and a canonical name.
const maxFuzzyDistance = 2

// Validator reconciles free-form oracle candidates against the catalog.
// It is stateless; the zero value is ready to use.
type Validator struct{}

// Validate resolves each candidate to a canonical item id via a
// cascade: exact case-insensitive match, normalized match, variant
// match, and finally Levenshtein distance <= 2 against every catalog
// name. Candidates matching nothing are dropped silently; oracle
// hallucinations are expected and must not abort the pipeline.
//
// The result is deduplicated by item id with first-write-wins
// semantics: the first candidate that resolves to an id keeps it.
func (v *Validator) Validate(candidates []oracle.Candidate, idx *catalog.Index) []ValidatedCandidate {
	var out []ValidatedCandidate
	seen := make(map[int]struct{}, len(candidates))

	for _, cand := range candidates {
		item, ok := v.resolve(cand.Name, idx)
		if !ok {
			continue
		}
		if _, dup := seen[item.ID]; dup {
			continue
		}
		seen[item.ID] = struct{}{}
		out = append(out, ValidatedCandidate{
			ItemID:     item.ID,
			Name:       item.Name,
			Snippet:    cand.Snippet,
			Context:    cand.Context,
			Confidence: cand.Confidence,
		})
	}

	return out
}

func (v *Validator) resolve(name string, idx *catalog.Index) (catalog.Item, bool) {
	if item, ok := idx.LookupExact(name); ok {
		return item, true
	}
	if item, ok := idx.LookupNormalized(name); ok {
		return item, true
	}
	if item, ok := idx.LookupVariant(name); ok {
		return item, true
	}
	return v.fuzzy(name, idx)
}

// fuzzy finds the catalog name closest to the candidate by edit
// distance, accepting it only within maxFuzzyDistance. Ties keep the
// earliest catalog entry.
func (v *Validator) fuzzy(name string, idx *catalog.Index) (catalog.Item, bool) {
	lower := strings.ToLower(strings.TrimSpace(name))
	if lower == "" {
		return catalog.Item{}, false
	}

	best := maxFuzzyDistance + 1
	var bestItem catalog.Item
	for _, item := range idx.Items() {
		d := levenshtein(lower, strings.ToLower(item.Name))
		if d < best {
			best = d
			bestItem = item
			if best == 0 {
				break
			}
		}
	}

	if best > maxFuzzyDistance {
		return catalog.Item{}, false
	}
	return bestItem, true
}
