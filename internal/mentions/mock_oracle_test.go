package mentions

import (
	"context"
	"sync/atomic"

	"github.com/AssortedFood/surge/internal/oracle"
)

// fakeOracle is a scriptable oracle.Client for combiner tests.
type fakeOracle struct {
	extractFn func(ctx context.Context, title, body string) (oracle.ExtractResult, error)
	confirmFn func(ctx context.Context, title, body string, names []string) (oracle.ConfirmResult, error)

	extractCalls atomic.Int32
	confirmCalls atomic.Int32
	confirmNames atomic.Value // []string from the most recent call
}

var _ oracle.Client = (*fakeOracle)(nil)

func (f *fakeOracle) Extract(ctx context.Context, title, body string) (oracle.ExtractResult, error) {
	f.extractCalls.Add(1)
	if f.extractFn == nil {
		return oracle.ExtractResult{}, nil
	}
	return f.extractFn(ctx, title, body)
}

func (f *fakeOracle) Confirm(ctx context.Context, title, body string, names []string) (oracle.ConfirmResult, error) {
	f.confirmCalls.Add(1)
	f.confirmNames.Store(names)
	if f.confirmFn == nil {
		confirmed := make(map[string]bool, len(names))
		for _, n := range names {
			confirmed[n] = true
		}
		return oracle.ConfirmResult{Confirmed: confirmed}, nil
	}
	return f.confirmFn(ctx, title, body, names)
}

func extractResult(usage oracle.Usage, candidates ...oracle.Candidate) func(context.Context, string, string) (oracle.ExtractResult, error) {
	return func(context.Context, string, string) (oracle.ExtractResult, error) {
		return oracle.ExtractResult{Candidates: candidates, Usage: usage}, nil
	}
}
