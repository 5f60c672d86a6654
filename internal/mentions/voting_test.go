package mentions

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AssortedFood/surge/internal/catalog"
	"github.com/AssortedFood/surge/internal/oracle"
)

// fakeRunner hands out one scripted outcome per Combine call. Runs
// execute concurrently, so consumption order is not significant; tests
// script outcomes whose aggregate does not depend on ordering.
type fakeRunner struct {
	mu      sync.Mutex
	next    int
	outputs []func() (*CombineResult, error)
}

var _ Runner = (*fakeRunner)(nil)

func (f *fakeRunner) Combine(ctx context.Context, title, text string, idx *catalog.Index) (*CombineResult, error) {
	f.mu.Lock()
	i := f.next
	f.next++
	f.mu.Unlock()
	if i >= len(f.outputs) {
		return &CombineResult{}, nil
	}
	return f.outputs[i]()
}

func okRun(mentions ...ScoredMention) func() (*CombineResult, error) {
	return func() (*CombineResult, error) {
		return &CombineResult{
			Mentions: mentions,
			Usage:    oracle.Usage{PromptTokens: 10, CompletionTokens: 2},
		}, nil
	}
}

func failRun() (*CombineResult, error) {
	return nil, errors.New("oracle exploded")
}

func mention(id int, conf float64, src Source) ScoredMention {
	return ScoredMention{ItemID: id, Name: "item", Confidence: conf, Source: src}
}

func votingEngine(runner Runner) *Engine {
	cfg := DefaultConfig()
	return NewEngine(runner, cfg, nil)
}

func TestVoteThresholdBoundaryInclusive(t *testing.T) {
	// Item 1 appears in 3 of 5 runs: ratio 0.6 meets threshold 0.6.
	// Item 2 appears once: ratio 0.2 misses.
	runner := &fakeRunner{outputs: []func() (*CombineResult, error){
		okRun(mention(1, 0.9, SourceBoth), mention(2, 0.9, SourceBoth)),
		okRun(mention(1, 0.9, SourceBoth)),
		okRun(mention(1, 0.9, SourceBoth)),
		okRun(),
		okRun(),
	}}

	res, err := votingEngine(runner).Vote(context.Background(), "t", "text", testIndex(), 5, 0.6)
	require.NoError(t, err)

	require.Len(t, res.Mentions, 1)
	got := res.Mentions[0]
	assert.Equal(t, 1, got.ItemID)
	assert.Equal(t, 3, got.Appearances)
	assert.Equal(t, 5, got.TotalRuns)
	assert.InDelta(t, 0.6, got.AppearanceRatio, 1e-9)
	assert.InDelta(t, 0.9, got.AvgConfidence, 1e-9)
	assert.InDelta(t, 1.0, got.SourceConsistency, 1e-9)
	// avg (0.9) beats the blend (0.5*0.6 + 0.3*0.9 + 0.2*1.0 = 0.77).
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)

	assert.Equal(t, 5, res.Stats.RunsRequested)
	assert.Equal(t, 5, res.Stats.RunsExecuted)
	assert.Equal(t, 0, res.Stats.RunsFailed)
}

func TestVoteBlendedConfidenceCanExceedAverage(t *testing.T) {
	// Two runs, same item, different sources and spread confidences.
	runner := &fakeRunner{outputs: []func() (*CombineResult, error){
		okRun(mention(1, 0.9, SourceBoth)),
		okRun(mention(1, 0.5, SourceLLMOnly)),
	}}

	res, err := votingEngine(runner).Vote(context.Background(), "t", "text", testIndex(), 2, 0.5)
	require.NoError(t, err)

	require.Len(t, res.Mentions, 1)
	got := res.Mentions[0]
	assert.InDelta(t, 1.0, got.AppearanceRatio, 1e-9)
	assert.InDelta(t, 0.7, got.AvgConfidence, 1e-9)
	assert.InDelta(t, 0.5, got.SourceConsistency, 1e-9, "two distinct sources")
	// blend = 0.5*1.0 + 0.3*0.7 + 0.2*0.5 = 0.81 > avg 0.7.
	assert.InDelta(t, 0.81, got.Confidence, 1e-9)
	// The representative run is the highest-confidence one.
	assert.Equal(t, SourceBoth, got.Source)
}

func TestVoteFailedRunsShrinkDenominator(t *testing.T) {
	runner := &fakeRunner{outputs: []func() (*CombineResult, error){
		okRun(mention(1, 0.8, SourceBoth)),
		okRun(mention(1, 0.8, SourceBoth)),
		okRun(mention(1, 0.8, SourceBoth)),
		failRun,
		failRun,
	}}

	res, err := votingEngine(runner).Vote(context.Background(), "t", "text", testIndex(), 5, 0.6)
	require.NoError(t, err, "partial failure must not surface as an error")

	assert.Equal(t, 5, res.Stats.RunsRequested)
	assert.Equal(t, 3, res.Stats.RunsExecuted)
	assert.Equal(t, 2, res.Stats.RunsFailed)

	require.Len(t, res.Mentions, 1)
	got := res.Mentions[0]
	assert.Equal(t, 3, got.Appearances)
	assert.Equal(t, 3, got.TotalRuns, "denominator counts surviving runs only")
	assert.InDelta(t, 1.0, got.AppearanceRatio, 1e-9)
}

func TestVoteAllRunsFailed(t *testing.T) {
	runner := &fakeRunner{outputs: []func() (*CombineResult, error){
		failRun, failRun, failRun,
	}}

	_, err := votingEngine(runner).Vote(context.Background(), "t", "text", testIndex(), 3, 0.6)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllRunsFailed))
}

func TestVoteCancelledContextDiscardsPartials(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &fakeRunner{outputs: []func() (*CombineResult, error){
		okRun(mention(1, 0.9, SourceBoth)),
		okRun(mention(1, 0.9, SourceBoth)),
	}}

	res, err := votingEngine(runner).Vote(ctx, "t", "text", testIndex(), 2, 0.5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Nil(t, res, "a cancelled vote returns no partial consensus")
}

func TestVoteSinglePassMode(t *testing.T) {
	// One run, threshold zero: everything the run produced passes
	// through the same aggregation path.
	runner := &fakeRunner{outputs: []func() (*CombineResult, error){
		okRun(mention(1, 0.9, SourceBoth), mention(6, 0.4, SourceLLMOnly)),
	}}

	res, err := votingEngine(runner).Vote(context.Background(), "t", "text", testIndex(), 1, 0)
	require.NoError(t, err)

	require.Len(t, res.Mentions, 2)
	for _, m := range res.Mentions {
		assert.Equal(t, 1, m.Appearances)
		assert.Equal(t, 1, m.TotalRuns)
		assert.InDelta(t, 1.0, m.AppearanceRatio, 1e-9)
	}
}

func TestVoteDefaultsFromConfig(t *testing.T) {
	runner := &fakeRunner{}
	cfg := DefaultConfig()
	cfg.NumRuns = 3
	cfg.Threshold = 0.5
	engine := NewEngine(runner, cfg, nil)

	res, err := engine.Vote(context.Background(), "t", "text", testIndex(), 0, -1)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Stats.RunsRequested)
	assert.InDelta(t, 0.5, res.Stats.Threshold, 1e-9)
	assert.Equal(t, 3, runner.next)
}

func TestVoteUsageSummedAcrossRuns(t *testing.T) {
	runner := &fakeRunner{outputs: []func() (*CombineResult, error){
		okRun(), okRun(), okRun(),
	}}

	res, err := votingEngine(runner).Vote(context.Background(), "t", "text", testIndex(), 3, 0.6)
	require.NoError(t, err)
	assert.Equal(t, oracle.Usage{PromptTokens: 30, CompletionTokens: 6}, res.Usage)
}

func TestVoteAppearanceRatioMonotonic(t *testing.T) {
	// More appearances never lowers the ratio.
	buildRunner := func(appearances int) *fakeRunner {
		outputs := make([]func() (*CombineResult, error), 5)
		for i := 0; i < 5; i++ {
			if i < appearances {
				outputs[i] = okRun(mention(1, 0.5, SourceLLMOnly))
			} else {
				outputs[i] = okRun()
			}
		}
		return &fakeRunner{outputs: outputs}
	}

	var prev float64
	for n := 1; n <= 5; n++ {
		res, err := votingEngine(buildRunner(n)).Vote(context.Background(), "t", "text", testIndex(), 5, 0)
		require.NoError(t, err)
		require.Len(t, res.Mentions, 1)
		ratio := res.Mentions[0].AppearanceRatio
		assert.GreaterOrEqual(t, ratio, prev)
		prev = ratio
	}
}

func TestVoteDeterministicOrdering(t *testing.T) {
	runner := func() *fakeRunner {
		return &fakeRunner{outputs: []func() (*CombineResult, error){
			okRun(mention(3, 0.7, SourceAlgoValidated), mention(1, 0.9, SourceBoth), mention(6, 0.7, SourceLLMOnly)),
			okRun(mention(1, 0.9, SourceBoth), mention(6, 0.7, SourceLLMOnly), mention(3, 0.7, SourceAlgoValidated)),
		}}
	}

	first, err := votingEngine(runner()).Vote(context.Background(), "t", "text", testIndex(), 2, 0.5)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := votingEngine(runner()).Vote(context.Background(), "t", "text", testIndex(), 2, 0.5)
		require.NoError(t, err)
		require.Len(t, again.Mentions, len(first.Mentions))
		for j := range first.Mentions {
			assert.Equal(t, first.Mentions[j].ItemID, again.Mentions[j].ItemID)
		}
	}
}
