package mentions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/AssortedFood/surge/internal/catalog"
	"github.com/AssortedFood/surge/internal/oracle"
	"github.com/AssortedFood/surge/internal/telemetry"
)

var _ Runner = (*Combiner)(nil)

// Combiner runs one hybrid extraction pass: the oracle extraction call
// and the lexical scan over the same article, reconciled into a single
// per-item mention list with source-banded confidences.
type Combiner struct {
	oracle    oracle.Client
	matcher   *Matcher
	validator *Validator
	cfg       Config
	logger    *zap.Logger
	metrics   *telemetry.Metrics
}

// NewCombiner creates a combiner. logger may be nil.
func NewCombiner(client oracle.Client, cfg Config, logger *zap.Logger) *Combiner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Combiner{
		oracle:    client,
		matcher:   NewMatcher(cfg),
		validator: &Validator{},
		cfg:       cfg,
		logger:    logger,
		metrics:   telemetry.NewMetrics(logger),
	}
}

// Combine extracts mentions from one article. The oracle call runs in
// its own goroutine while the lexical scan executes on the calling
// goroutine; neither depends on the other. A malformed oracle reply is
// logged and treated as zero candidates; a transport failure after the
// client's own retries fails the whole pass so voting can isolate it.
func (c *Combiner) Combine(ctx context.Context, title, text string, idx *catalog.Index) (*CombineResult, error) {
	start := time.Now()

	type extractOut struct {
		res oracle.ExtractResult
		err error
	}
	ch := make(chan extractOut, 1)
	go func() {
		res, err := c.oracle.Extract(ctx, title, text)
		ch <- extractOut{res: res, err: err}
	}()

	// Pure CPU work; runs alongside the oracle round-trip.
	lexical := c.matcher.Match(text, idx, true)

	out := <-ch
	usage := out.res.Usage
	candidates := out.res.Candidates
	if out.err != nil {
		if !errors.Is(out.err, oracle.ErrMalformedResponse) {
			return nil, fmt.Errorf("oracle extraction failed: %w", out.err)
		}
		c.logger.Warn("oracle returned malformed output, continuing with lexical signal only",
			zap.Error(out.err))
		candidates = nil
	}

	validated := c.validator.Validate(candidates, idx)

	// Partition by membership in the lexical-match set. The three
	// categories are mutually exclusive and cover every matched id.
	var mentions []ScoredMention
	oracleIDs := make(map[int]struct{}, len(validated))

	for _, vc := range validated {
		oracleIDs[vc.ItemID] = struct{}{}
		if _, inLexical := lexical[vc.ItemID]; inLexical {
			conf := vc.Confidence
			if conf < c.cfg.BothConfidenceFloor {
				conf = c.cfg.BothConfidenceFloor
			}
			mentions = append(mentions, ScoredMention{
				ItemID:     vc.ItemID,
				Name:       vc.Name,
				Snippet:    vc.Snippet,
				Confidence: conf,
				Source:     SourceBoth,
			})
		} else {
			mentions = append(mentions, ScoredMention{
				ItemID:     vc.ItemID,
				Name:       vc.Name,
				Snippet:    vc.Snippet,
				Confidence: clamp(vc.Confidence, c.cfg.LLMOnlyConfidenceMin, c.cfg.LLMOnlyConfidenceMax),
				Source:     SourceLLMOnly,
			})
		}
	}

	// Items only the lexical scan found go through the smaller yes/no
	// confirmation call before they are allowed in.
	algoOnly := c.collectAlgoOnly(lexical, oracleIDs, idx)
	if len(algoOnly) > 0 {
		confirmed, confirmUsage := c.confirmAlgoOnly(ctx, title, text, algoOnly)
		usage = usage.Add(confirmUsage)
		mentions = append(mentions, confirmed...)
	}

	sortMentions(mentions)

	latency := time.Since(start)
	c.metrics.RecordCombine(ctx, latency, usage.PromptTokens, usage.CompletionTokens)

	return &CombineResult{
		Mentions: mentions,
		Usage:    usage,
		Latency:  latency,
	}, nil
}

// algoCandidate pairs a lexical-only match with its canonical entry.
type algoCandidate struct {
	item  catalog.Item
	match LexicalMatch
}

func (c *Combiner) collectAlgoOnly(lexical map[int]LexicalMatch, oracleIDs map[int]struct{}, idx *catalog.Index) []algoCandidate {
	var out []algoCandidate
	for id, match := range lexical {
		if _, ok := oracleIDs[id]; ok {
			continue
		}
		item, ok := idx.Item(id)
		if !ok {
			continue
		}
		out = append(out, algoCandidate{item: item, match: match})
	}
	// Map iteration order is random; keep the confirm prompt stable.
	sort.Slice(out, func(i, j int) bool { return out[i].item.ID < out[j].item.ID })
	return out
}

// confirmAlgoOnly asks the oracle to accept or reject each lexical-only
// hit. Confirmation failures are logged and drop the whole algo-only
// subset rather than failing the pass: the confirmed and llm-only
// mentions already gathered are still worth returning.
func (c *Combiner) confirmAlgoOnly(ctx context.Context, title, text string, candidates []algoCandidate) ([]ScoredMention, oracle.Usage) {
	names := make([]string, len(candidates))
	for i, ac := range candidates {
		names[i] = ac.item.Name
	}

	res, err := c.oracle.Confirm(ctx, title, text, names)
	if err != nil {
		c.logger.Warn("algo-only confirmation call failed, dropping unconfirmed lexical matches",
			zap.Int("candidates", len(candidates)), zap.Error(err))
		return nil, res.Usage
	}

	var out []ScoredMention
	for _, ac := range candidates {
		if !res.Confirmed[ac.item.Name] {
			continue
		}
		out = append(out, ScoredMention{
			ItemID:     ac.item.ID,
			Name:       ac.item.Name,
			Snippet:    ac.match.MatchedPhrase,
			Confidence: c.cfg.AlgoValidatedConfidence,
			Source:     SourceAlgoValidated,
		})
	}
	return out, res.Usage
}

// sortMentions orders by confidence descending, item id ascending for
// equal confidence so output is deterministic.
func sortMentions(mentions []ScoredMention) {
	sort.SliceStable(mentions, func(i, j int) bool {
		if mentions[i].Confidence != mentions[j].Confidence {
			return mentions[i].Confidence > mentions[j].Confidence
		}
		return mentions[i].ItemID < mentions[j].ItemID
	})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
