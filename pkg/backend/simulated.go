// Package backend holds the answer producers consulted on a cache miss.
package backend

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/pario-ai/recall/pkg/models"
)

// Simulated stands in for an expensive model call: it waits for a fixed
// delay plus optional random jitter and returns a templated summary.
type Simulated struct {
	delay  time.Duration
	jitter time.Duration
	tokens int
}

// NewSimulated creates a Simulated backend that reports tokens per answer.
func NewSimulated(delay, jitter time.Duration, tokens int) *Simulated {
	return &Simulated{delay: delay, jitter: jitter, tokens: tokens}
}

// Synthesize implements cache.Synthesizer. It returns early with the context
// error if ctx is done before the delay elapses.
func (s *Simulated) Synthesize(ctx context.Context, query string) (models.Completion, error) {
	wait := s.delay
	if s.jitter > 0 {
		wait += time.Duration(rand.Int63n(int64(s.jitter)))
	}

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return models.Completion{}, ctx.Err()
		case <-timer.C:
		}
	}

	return models.Completion{
		Text:   fmt.Sprintf("Summarized '%s' (used %d tokens)", query, s.tokens),
		Tokens: s.tokens,
	}, nil
}
