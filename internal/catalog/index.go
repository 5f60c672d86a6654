package catalog

import (
	"regexp"
	"strings"
)

// trailingParenRe matches a trailing parenthetical variant marker,
// e.g. "Rune platebody (t)" or "Saradomin brew(4)".
var trailingParenRe = regexp.MustCompile(`\s*\([^)]*\)\s*$`)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Index is a read-only set of lookup tables over one catalog snapshot.
// Construct with NewIndex; never mutate after construction.
type Index struct {
	items     []Item
	byID      map[int]Item
	byExact   map[string]int // lowercased canonical name
	byNorm    map[string]int // NormalizeName output
	byVariant map[string]int // NameVariants output, first write wins
}

// NewIndex builds the lookup tables for a catalog snapshot.
// When two items collide on a derived key the earlier item keeps the
// slot, so catalog order decides ambiguous variants deterministically.
func NewIndex(items []Item) *Index {
	x := &Index{
		items:     items,
		byID:      make(map[int]Item, len(items)),
		byExact:   make(map[string]int, len(items)),
		byNorm:    make(map[string]int, len(items)),
		byVariant: make(map[string]int, len(items)),
	}

	for _, it := range items {
		if _, ok := x.byID[it.ID]; ok {
			continue
		}
		x.byID[it.ID] = it

		lower := strings.ToLower(strings.TrimSpace(it.Name))
		if _, ok := x.byExact[lower]; !ok {
			x.byExact[lower] = it.ID
		}

		norm := NormalizeName(it.Name)
		if _, ok := x.byNorm[norm]; !ok && norm != "" {
			x.byNorm[norm] = it.ID
		}

		for _, v := range NameVariants(it.Name) {
			if _, ok := x.byVariant[v]; !ok {
				x.byVariant[v] = it.ID
			}
		}
	}

	return x
}

// Len returns the number of items in the snapshot.
func (x *Index) Len() int { return len(x.byID) }

// Items returns the snapshot's entries in catalog order.
// Callers must treat the returned slice as read-only.
func (x *Index) Items() []Item { return x.items }

// Item looks up an entry by id.
func (x *Index) Item(id int) (Item, bool) {
	it, ok := x.byID[id]
	return it, ok
}

// LookupExact matches a name case-insensitively against canonical names.
func (x *Index) LookupExact(name string) (Item, bool) {
	id, ok := x.byExact[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Item{}, false
	}
	return x.byID[id], true
}

// LookupNormalized matches NormalizeName(name) against normalized
// canonical names.
func (x *Index) LookupNormalized(name string) (Item, bool) {
	id, ok := x.byNorm[NormalizeName(name)]
	if !ok {
		return Item{}, false
	}
	return x.byID[id], true
}

// LookupVariant matches any spelling variant of name against the
// precomputed variant table.
func (x *Index) LookupVariant(name string) (Item, bool) {
	for _, v := range NameVariants(name) {
		if id, ok := x.byVariant[v]; ok {
			return x.byID[id], true
		}
	}
	return Item{}, false
}

// NormalizeName lowercases a name, strips a trailing parenthetical
// variant marker, and collapses hyphens and whitespace runs to single
// spaces. "Saradomin brew(4)" and "saradomin-brew" normalize alike.
func NormalizeName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = trailingParenRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "-", " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// StripVariantSuffix removes a trailing parenthetical marker without
// any other normalization.
func StripVariantSuffix(name string) string {
	return strings.TrimSpace(trailingParenRe.ReplaceAllString(name, ""))
}

// NameVariants generates the spelling variants indexed for a name:
// hyphens swapped with spaces or dropped, apostrophes dropped, and the
// trailing parenthetical marker removed, in every combination. All
// variants are lowercased with collapsed whitespace.
func NameVariants(name string) []string {
	bases := []string{strings.ToLower(strings.TrimSpace(name))}
	if stripped := strings.ToLower(StripVariantSuffix(name)); stripped != bases[0] && stripped != "" {
		bases = append(bases, stripped)
	}

	seen := make(map[string]struct{}, len(bases)*6)
	var out []string
	add := func(v string) {
		v = strings.TrimSpace(whitespaceRe.ReplaceAllString(v, " "))
		if v == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	for _, base := range bases {
		forms := []string{
			base,
			strings.ReplaceAll(base, "-", " "),
			strings.ReplaceAll(base, "-", ""),
			strings.ReplaceAll(base, " ", "-"),
			strings.ReplaceAll(base, " ", ""),
		}
		for _, f := range forms {
			add(f)
			add(strings.ReplaceAll(f, "'", ""))
		}
	}

	return out
}
