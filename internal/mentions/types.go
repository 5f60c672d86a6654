// Package mentions turns free-text article content into a de-duplicated,
// confidence-scored list of canonical item ids. It combines two signal
// sources, a deterministic lexical scan of the catalog and a
// text-generation oracle, and stabilizes the result by running the
// combination several times and voting on what recurs.
package mentions

import (
	"errors"
	"time"

	"github.com/AssortedFood/surge/internal/oracle"
)

// ErrAllRunsFailed indicates every constituent voting run failed.
// Partial failure never surfaces as an error; see VotingStats.
var ErrAllRunsFailed = errors.New("all voting runs failed")

// Source identifies how a mention was found.
type Source string

const (
	// SourceBoth means the oracle and the lexical scan agreed.
	SourceBoth Source = "both"
	// SourceLLMOnly means only the oracle reported the item.
	SourceLLMOnly Source = "llm_only"
	// SourceAlgoValidated means the lexical scan found the item and a
	// follow-up oracle call confirmed it is genuinely discussed.
	SourceAlgoValidated Source = "algo_validated"
)

// MatchType distinguishes full-name lexical hits from greedy prefix hits.
type MatchType string

const (
	MatchExact  MatchType = "exact"
	MatchGreedy MatchType = "greedy"
)

// LexicalMatch records one catalog entry found in an article by the
// lexical matcher. MatchedPhrase is set only for greedy matches.
type LexicalMatch struct {
	ItemID        int       `json:"item_id"`
	Type          MatchType `json:"type"`
	MatchedPhrase string    `json:"matched_phrase,omitempty"`
}

// ValidatedCandidate is an oracle candidate resolved to a real catalog
// entry. Downstream of the validator only canonical ids circulate.
type ValidatedCandidate struct {
	ItemID     int     `json:"item_id"`
	Name       string  `json:"name"` // canonical catalog name
	Snippet    string  `json:"snippet"`
	Context    string  `json:"context"`
	Confidence float64 `json:"confidence"`
}

// ScoredMention is the combiner's output unit: at most one per item id
// per run, with a source-banded confidence in [0,1].
type ScoredMention struct {
	ItemID     int     `json:"item_id"`
	Name       string  `json:"name"`
	Snippet    string  `json:"snippet,omitempty"`
	Confidence float64 `json:"confidence"`
	Source     Source  `json:"source"`
}

// CombineResult is one hybrid extraction pass over an article.
type CombineResult struct {
	Mentions []ScoredMention `json:"mentions"`
	Usage    oracle.Usage    `json:"usage"`
	Latency  time.Duration   `json:"latency"`
}

// VotedMention is a mention that cleared the appearance-ratio threshold
// across voting runs.
type VotedMention struct {
	ScoredMention
	Appearances       int     `json:"appearances"`
	TotalRuns         int     `json:"total_runs"`
	AppearanceRatio   float64 `json:"appearance_ratio"`
	AvgConfidence     float64 `json:"avg_confidence"`
	SourceConsistency float64 `json:"source_consistency"`
}

// VotingStats summarizes run outcomes for one vote.
type VotingStats struct {
	ScanID        string  `json:"scan_id"`
	RunsRequested int     `json:"runs_requested"`
	RunsExecuted  int     `json:"runs_executed"`
	RunsFailed    int     `json:"runs_failed"`
	Threshold     float64 `json:"threshold"`
}

// VoteResult is the engine's final artifact for one article.
type VoteResult struct {
	Mentions []VotedMention `json:"mentions"`
	Stats    VotingStats    `json:"voting_stats"`
	Usage    oracle.Usage   `json:"usage"`
	Latency  time.Duration  `json:"latency"`
}

// Config holds the engine's tunables. Blocklists and confidence bands
// are injected at construction time so tests can substitute smaller,
// deterministic lists; nothing here is process-wide state.
type Config struct {
	// MinNameLength skips catalog entries whose normalized name is
	// shorter than this; very short names are almost always noise.
	MinNameLength int `koanf:"min_name_length"`
	// MinPrefixLength is the shortest greedy prefix worth testing.
	MinPrefixLength int `koanf:"min_prefix_length"`

	// NameBlocklist suppresses whole catalog entries: ambiguous
	// real-word names, organization names, generic resource words.
	// Checked against the normalized name with and without a trailing
	// variant marker.
	NameBlocklist []string `koanf:"name_blocklist"`
	// SingleWordBlocklist suppresses one-word greedy prefixes, which
	// collide with ordinary prose far more than longer phrases.
	SingleWordBlocklist []string `koanf:"single_word_blocklist"`
	// MultiWordBlocklist suppresses multi-word greedy prefixes.
	MultiWordBlocklist []string `koanf:"multi_word_blocklist"`

	// Confidence bands. The three categories are scored independently;
	// no cross-category renormalization happens.
	BothConfidenceFloor     float64 `koanf:"both_confidence_floor"`
	LLMOnlyConfidenceMin    float64 `koanf:"llm_only_confidence_min"`
	LLMOnlyConfidenceMax    float64 `koanf:"llm_only_confidence_max"`
	AlgoValidatedConfidence float64 `koanf:"algo_validated_confidence"`

	// Voting defaults, used when the caller passes zero values.
	NumRuns   int     `koanf:"num_runs"`
	Threshold float64 `koanf:"threshold"`
}

// Validate checks the tunables for values the engine cannot work with.
func (c Config) Validate() error {
	if c.MinNameLength < 1 {
		return errors.New("min_name_length must be at least 1")
	}
	if c.MinPrefixLength < 1 {
		return errors.New("min_prefix_length must be at least 1")
	}
	if c.BothConfidenceFloor < 0 || c.BothConfidenceFloor > 1 {
		return errors.New("both_confidence_floor must be in [0,1]")
	}
	if c.LLMOnlyConfidenceMin < 0 || c.LLMOnlyConfidenceMax > 1 ||
		c.LLMOnlyConfidenceMin > c.LLMOnlyConfidenceMax {
		return errors.New("llm_only confidence band must be an ordered range within [0,1]")
	}
	if c.AlgoValidatedConfidence < 0 || c.AlgoValidatedConfidence > 1 {
		return errors.New("algo_validated_confidence must be in [0,1]")
	}
	if c.NumRuns < 1 {
		return errors.New("num_runs must be at least 1")
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		return errors.New("threshold must be in (0,1]")
	}
	return nil
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		MinNameLength:   4,
		MinPrefixLength: 4,
		NameBlocklist: []string{
			"coins", "bones", "rope", "knife", "hammer", "bucket", "vial",
			"feather", "coal", "clay", "flour", "seed", "thread", "needle",
			"cannonball", "compost", "arrow", "bolt", "nails", "plank",
		},
		SingleWordBlocklist: []string{
			"dragon", "rune", "iron", "steel", "black", "white", "gold",
			"silver", "magic", "air", "water", "earth", "fire", "mind",
			"body", "chaos", "death", "law", "nature", "soul", "blood",
			"wrath", "ancient", "royal", "light", "dark", "super", "divine",
			"prayer", "attack", "amulet", "ring", "staff", "crystal",
		},
		MultiWordBlocklist: []string{
			"grand exchange", "bounty hunter", "castle wars",
			"last man standing", "theatre of blood", "chambers of xeric",
		},
		BothConfidenceFloor:     0.9,
		LLMOnlyConfidenceMin:    0.3,
		LLMOnlyConfidenceMax:    0.6,
		AlgoValidatedConfidence: 0.7,
		NumRuns:                 5,
		Threshold:               0.6,
	}
}
