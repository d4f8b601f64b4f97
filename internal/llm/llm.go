// Package llm defines the completion client used by llm_call steps and a
// recording stub for tests and offline evaluation. A real provider client
// plugs in behind the same contract.
package llm

import (
	"context"
	"errors"
	"sync"

	"github.com/corintai/corint/internal/runtime"
	"github.com/corintai/corint/internal/value"
)

// ErrNoResponse is returned by the stub when it runs out of scripted
// responses.
var ErrNoResponse = errors.New("no scripted llm response")

// Call records one completion request.
type Call struct {
	Model  string
	Prompt string
}

// StubClient replays scripted responses in order and records every prompt
// it receives. Decisions that reach llm_call steps stay reproducible under
// replay.
type StubClient struct {
	mu        sync.Mutex
	responses []value.Value
	errs      []error
	calls     []Call
}

var _ runtime.LLMClient = (*StubClient)(nil)

// NewStubClient builds a stub that will return the given responses in
// order.
func NewStubClient(responses ...value.Value) *StubClient {
	return &StubClient{responses: responses}
}

// FailWith queues an error before the remaining responses. Used to exercise
// on_error policies.
func (c *StubClient) FailWith(err error) *StubClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
	return c
}

// Complete pops the next scripted error or response.
func (c *StubClient) Complete(_ context.Context, model, prompt string) (value.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{Model: model, Prompt: prompt})
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		return value.Null(), err
	}
	if len(c.responses) == 0 {
		return value.Null(), ErrNoResponse
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

// Calls returns the recorded requests.
func (c *StubClient) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	calls := make([]Call, len(c.calls))
	copy(calls, c.calls)
	return calls
}
