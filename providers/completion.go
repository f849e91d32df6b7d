package providers

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Completion is the result of one provider call: a finite, non-restartable
// sequence of text fragments pulled with Next in receipt order. Once the
// sequence ends, Err reports whether it ended in failure and Text holds
// everything received up to that point.
type Completion struct {
	provider   string
	credential string
	chunks     <-chan StreamChunk
	ctx        context.Context
	cancel     context.CancelFunc

	mu    sync.Mutex
	text  strings.Builder
	err   error
	done  bool
	usage *Usage
}

// errCutOff marks a producer that closed its stream without a Done or Error chunk
var errCutOff = errors.New("response ended without a final chunk")

// Producer writes chunks to stream and must close it when finished. The last
// chunk is Done or carries an Error; a stream closed without either counts as
// a failure. It should stop sending once ctx is done.
type Producer func(ctx context.Context, stream chan<- StreamChunk)

// NewCompletion runs the producer in its own goroutine and exposes what it
// sends as a Completion.
func NewCompletion(ctx context.Context, provider, credential string, run Producer) *Completion {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan StreamChunk)
	c := &Completion{provider: provider, credential: credential, chunks: ch, ctx: ctx, cancel: cancel}
	go run(ctx, ch)
	return c
}

// FailedCompletion returns a completion that has already failed with err
func FailedCompletion(provider string, err error) *Completion {
	return &Completion{provider: provider, err: err, done: true, cancel: func() {}}
}

// Next returns the next fragment. ok is false once the sequence has ended,
// either by completion or failure; no fragment follows that point.
func (c *Completion) Next() (fragment string, ok bool) {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return "", false
	}
	c.mu.Unlock()

	for {
		chunk, open := <-c.chunks

		c.mu.Lock()
		if c.done {
			c.mu.Unlock()
			return "", false
		}
		if chunk.Usage != nil {
			u := *chunk.Usage
			c.usage = &u
		}
		switch {
		case !open:
			// No terminal chunk: the caller went away or the producer was
			// cut off. Either way the round failed.
			c.finish(classify(c.ctx, c.provider, c.credential, 0, errCutOff))
			c.mu.Unlock()
			return "", false
		case chunk.Error != nil:
			c.finish(chunk.Error)
			c.mu.Unlock()
			return "", false
		case chunk.Done:
			c.finish(nil)
			c.mu.Unlock()
			return "", false
		case chunk.Data == "":
			c.mu.Unlock()
			continue
		}
		c.text.WriteString(chunk.Data)
		c.mu.Unlock()
		return chunk.Data, true
	}
}

// finish marks the sequence ended. Caller holds c.mu.
func (c *Completion) finish(err error) {
	c.done = true
	c.err = err
	c.cancel()
	// Unblock the producer if it is still trying to send.
	go func(ch <-chan StreamChunk) {
		for range ch {
		}
	}(c.chunks)
}

// Wait drains the remaining fragments and returns the aggregate text
func (c *Completion) Wait() (string, error) {
	for {
		if _, ok := c.Next(); !ok {
			break
		}
	}
	return c.Text(), c.Err()
}

// Text returns everything received so far
func (c *Completion) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text.String()
}

// Err returns the failure, or nil if the sequence completed or is still running
func (c *Completion) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Usage returns token usage when the backend reported it
func (c *Completion) Usage() (Usage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.usage == nil {
		return Usage{}, false
	}
	return *c.usage, true
}

// Close abandons the completion and releases the underlying request
func (c *Completion) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.done {
		c.finish(&Error{Kind: Cancelled, Provider: c.provider, Credential: c.credential, Err: context.Canceled})
	}
}

// send delivers a chunk unless the consumer went away
func send(ctx context.Context, stream chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case stream <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
