package mentions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AssortedFood/surge/internal/catalog"
	"github.com/AssortedFood/surge/internal/oracle"
	"github.com/AssortedFood/surge/internal/telemetry"
)

// Weights of the blended voting-confidence formula. Empirically tuned;
// tunable, not load-bearing for correctness.
const (
	voteWeightRatio       = 0.5
	voteWeightConfidence  = 0.3
	voteWeightConsistency = 0.2
)

// Runner is one extraction pass over an article. *Combiner is the
// production implementation; tests inject scripted fakes.
type Runner interface {
	Combine(ctx context.Context, title, text string, idx *catalog.Index) (*CombineResult, error)
}

// Engine stabilizes the combiner's output by running it several times
// in parallel and keeping only mentions that recur in enough runs.
type Engine struct {
	combiner Runner
	cfg      Config
	logger   *zap.Logger
	metrics  *telemetry.Metrics
}

// NewEngine creates a voting engine around a combiner. logger may be nil.
func NewEngine(combiner Runner, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		combiner: combiner,
		cfg:      cfg,
		logger:   logger,
		metrics:  telemetry.NewMetrics(logger),
	}
}

// Vote runs numRuns independent combiner passes over the article and
// aggregates them. Zero values fall back to the config defaults; the
// single-pass mode is numRuns=1 threshold=0 and shares this code path.
//
// A failed run contributes nothing to any appearance count and is not
// retried here; retry policy lives in the oracle client. The engine
// errors only when every run fails or the context is cancelled; a
// cancelled vote discards partial aggregation rather than returning an
// under-counted result.
func (e *Engine) Vote(ctx context.Context, title, text string, idx *catalog.Index, numRuns int, threshold float64) (*VoteResult, error) {
	if numRuns <= 0 {
		numRuns = e.cfg.NumRuns
	}
	if numRuns <= 0 {
		numRuns = 1
	}
	if threshold < 0 {
		threshold = e.cfg.Threshold
	}

	scanID := uuid.NewString()
	log := e.logger.With(zap.String("scan_id", scanID))

	type runOut struct {
		run int
		res *CombineResult
		err error
	}
	outCh := make(chan runOut, numRuns)
	var wg sync.WaitGroup

	for i := 0; i < numRuns; i++ {
		wg.Add(1)
		go func(run int) {
			defer wg.Done()
			res, err := e.combiner.Combine(ctx, title, text, idx)
			outCh <- runOut{run: run, res: res, err: err}
		}(i)
	}

	go func() {
		wg.Wait()
		close(outCh)
	}()

	var (
		usage    oracle.Usage
		latency  time.Duration
		executed int
		failed   int
		lastErr  error
		results  []*CombineResult
	)
	for out := range outCh {
		e.metrics.RecordRun(ctx, out.err != nil)
		if out.err != nil {
			failed++
			lastErr = out.err
			log.Warn("voting run failed", zap.Int("run", out.run), zap.Error(out.err))
			continue
		}
		executed++
		usage = usage.Add(out.res.Usage)
		latency += out.res.Latency
		results = append(results, out.res)
	}

	// All runs have completed or aborted; a cancelled vote returns no
	// partial consensus.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if executed == 0 {
		return nil, fmt.Errorf("%w: %d runs attempted, last error: %v", ErrAllRunsFailed, numRuns, lastErr)
	}

	mentions := tally(results, executed, threshold)

	stats := VotingStats{
		ScanID:        scanID,
		RunsRequested: numRuns,
		RunsExecuted:  executed,
		RunsFailed:    failed,
		Threshold:     threshold,
	}

	log.Info("vote complete",
		zap.Int("runs_executed", executed),
		zap.Int("runs_failed", failed),
		zap.Int("mentions", len(mentions)),
		zap.Int("tokens", usage.Total()),
	)

	return &VoteResult{
		Mentions: mentions,
		Stats:    stats,
		Usage:    usage,
		// Summed per run; wall-clock time is shorter since runs overlap.
		Latency: latency,
	}, nil
}

// tallied accumulates one item's appearances across runs.
type tallied struct {
	mention     ScoredMention
	appearances int
	confidences []float64
	sources     map[Source]struct{}
}

// tally merges per-run mention lists into voted mentions. The
// denominator is the number of runs that actually executed, so failed
// runs neither add nor subtract evidence. Acceptance is inclusive:
// ratio >= threshold passes.
func tally(results []*CombineResult, executed int, threshold float64) []VotedMention {
	byItem := make(map[int]*tallied)
	for _, res := range results {
		for _, m := range res.Mentions {
			t, ok := byItem[m.ItemID]
			if !ok {
				t = &tallied{
					mention: m,
					sources: make(map[Source]struct{}, 3),
				}
				byItem[m.ItemID] = t
			}
			t.appearances++
			t.confidences = append(t.confidences, m.Confidence)
			t.sources[m.Source] = struct{}{}
			// Keep the highest-confidence run's snippet and source tag
			// as the representative.
			if m.Confidence > t.mention.Confidence {
				t.mention = m
			}
		}
	}

	var out []VotedMention
	for _, t := range byItem {
		ratio := float64(t.appearances) / float64(executed)
		if ratio < threshold {
			continue
		}

		avg := mean(t.confidences)
		consistency := 1.0 / float64(len(t.sources))
		blended := voteWeightRatio*ratio + voteWeightConfidence*avg + voteWeightConsistency*consistency
		final := avg
		if blended > final {
			final = blended
		}

		vm := VotedMention{
			ScoredMention:     t.mention,
			Appearances:       t.appearances,
			TotalRuns:         executed,
			AppearanceRatio:   ratio,
			AvgConfidence:     avg,
			SourceConsistency: consistency,
		}
		vm.Confidence = final
		out = append(out, vm)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
