package modelsession

import (
	"context"
	"fmt"
	"sync"

	"github.com/obra/lace-sub007/internal/models"
)

// FakeSession is a scriptable Session test double: a queue of canned
// responses consumed in order, with every call recorded for assertions.
type FakeSession struct {
	mu sync.Mutex

	def Definition

	responses []ChatResult
	errs      []error
	calls     []ChatCall

	countResult CountTokensResult
	countErr    error
}

// ChatCall records one Chat invocation for later inspection.
type ChatCall struct {
	Messages []models.Message
	Options  ChatOptions
}

// NewFakeSession creates a FakeSession with the given definition. Use
// QueueResponse/QueueError to script Chat's return values.
func NewFakeSession(def Definition) *FakeSession {
	return &FakeSession{def: def}
}

// QueueResponse appends a ChatResult to be returned, in order, by
// successive Chat calls.
func (f *FakeSession) QueueResponse(result ChatResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, result)
	f.errs = append(f.errs, nil)
}

// QueueError appends an error to be returned, in order, by a
// successive Chat call (simulating a transport/provider failure
// subject to RetryPolicy).
func (f *FakeSession) QueueError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, ChatResult{})
	f.errs = append(f.errs, err)
}

// SetCountTokensResult scripts CountTokens's return value.
func (f *FakeSession) SetCountTokensResult(result CountTokensResult, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countResult = result
	f.countErr = err
}

func (f *FakeSession) Chat(ctx context.Context, messages []models.Message, opts ChatOptions) (ChatResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, ChatCall{Messages: messages, Options: opts})

	if len(f.responses) == 0 {
		return ChatResult{}, fmt.Errorf("modelsession: fake session has no queued responses")
	}
	result, err := f.responses[0], f.errs[0]
	f.responses, f.errs = f.responses[1:], f.errs[1:]

	if opts.OnTokenUpdate != nil && result.Content != "" {
		opts.OnTokenUpdate(TokenUpdate{Token: result.Content})
	}
	return result, err
}

func (f *FakeSession) CountTokens(ctx context.Context, messages []models.Message, opts CountTokensOptions) (CountTokensResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return CountTokensResult{}, f.countErr
	}
	if f.countResult.Success {
		return f.countResult, nil
	}
	// Default best-effort estimate: 4 characters per token, a common
	// rough heuristic for when no tokenizer is available.
	total := 0
	for _, m := range messages {
		total += len(m.Content) / 4
	}
	return CountTokensResult{Success: true, InputTokens: total, TotalTokens: total}, nil
}

func (f *FakeSession) Definition() Definition {
	return f.def
}

// Calls returns every Chat call observed so far, for test assertions.
func (f *FakeSession) Calls() []ChatCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ChatCall, len(f.calls))
	copy(out, f.calls)
	return out
}

var _ Session = (*FakeSession)(nil)
