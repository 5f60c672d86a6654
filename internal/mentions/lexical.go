package mentions

import (
	"regexp"
	"strings"

	"github.com/AssortedFood/surge/internal/catalog"
)

// Matcher is the deterministic lexical scanner. It has no I/O and no
// mutable state after construction, so one Matcher may serve any number
// of concurrent callers.
type Matcher struct {
	minNameLength   int
	minPrefixLength int
	blockedNames    map[string]struct{}
	blockedSingle   map[string]struct{}
	blockedMulti    map[string]struct{}
}

// NewMatcher builds a matcher from config. Blocklist entries are
// normalized the same way catalog names are, so config may list them in
// any case or hyphenation.
func NewMatcher(cfg Config) *Matcher {
	return &Matcher{
		minNameLength:   cfg.MinNameLength,
		minPrefixLength: cfg.MinPrefixLength,
		blockedNames:    normalizeSet(cfg.NameBlocklist),
		blockedSingle:   normalizeSet(cfg.SingleWordBlocklist),
		blockedMulti:    normalizeSet(cfg.MultiWordBlocklist),
	}
}

func normalizeSet(entries []string) map[string]struct{} {
	set := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if n := catalog.NormalizeName(e); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// Match scans articleText for catalog entries. Exact full-name hits are
// preferred; with greedy enabled, entries whose full name is absent are
// retried with progressively shorter word prefixes. Each catalog entry
// is visited once, so the result map holds at most one match per item.
func (m *Matcher) Match(articleText string, idx *catalog.Index, greedy bool) map[int]LexicalMatch {
	matches := make(map[int]LexicalMatch)
	lowerArticle := strings.ToLower(articleText)

	for _, item := range idx.Items() {
		norm := catalog.NormalizeName(item.Name)
		if len(norm) < m.minNameLength {
			continue
		}
		if m.blockedName(item.Name, norm) {
			continue
		}

		words := strings.Fields(norm)
		if len(words) == 0 {
			continue
		}

		if strings.Contains(lowerArticle, norm) && wordBoundaryMatch(lowerArticle, norm) {
			matches[item.ID] = LexicalMatch{ItemID: item.ID, Type: MatchExact}
			continue
		}

		if !greedy || len(words) < 2 {
			continue
		}

		// The full name already failed, so start one word shorter and
		// keep the longest prefix that survives the filters.
		for n := len(words) - 1; n >= 1; n-- {
			prefix := strings.Join(words[:n], " ")
			if len(prefix) < m.minPrefixLength {
				continue
			}
			if m.blockedPrefix(prefix, n) {
				continue
			}
			if wordBoundaryMatch(lowerArticle, prefix) {
				matches[item.ID] = LexicalMatch{
					ItemID:        item.ID,
					Type:          MatchGreedy,
					MatchedPhrase: prefix,
				}
				break
			}
		}
	}

	return matches
}

// blockedName checks the full normalized name and the name with its
// trailing variant marker stripped against the name blocklist.
func (m *Matcher) blockedName(raw, norm string) bool {
	if _, ok := m.blockedNames[norm]; ok {
		return true
	}
	stripped := catalog.NormalizeName(catalog.StripVariantSuffix(raw))
	if _, ok := m.blockedNames[stripped]; ok {
		return true
	}
	return false
}

// blockedPrefix applies the word-count-scoped prefix blocklists.
// Single words collide with prose far more often, so they get the
// stricter list.
func (m *Matcher) blockedPrefix(prefix string, wordCount int) bool {
	if wordCount == 1 {
		_, ok := m.blockedSingle[prefix]
		return ok
	}
	_, ok := m.blockedMulti[prefix]
	return ok
}

// wordBoundaryMatch reports whether phrase occurs in text on word
// boundaries, preventing partial-word collisions such as a short item
// name buried inside a longer unrelated word.
func wordBoundaryMatch(text, phrase string) bool {
	re, err := regexp.Compile(`\b` + regexp.QuoteMeta(phrase) + `\b`)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}
