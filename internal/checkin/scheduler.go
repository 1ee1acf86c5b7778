package checkin

import (
	"context"
	"time"

	"go.uber.org/zap"

	"clockin/internal/portal"
)

// RunBatch fans the users out across the bounded worker pool, one
// orchestrator run each, and collects a complete outcome list. Outcome order
// is unspecified but the identifier set always equals the input set; a
// panicking run is converted to a FAILED outcome and never disturbs its
// siblings.
func (e *Engine) RunBatch(ctx context.Context, users []Credential, rawToken string) []Outcome {
	tok := portal.ParseToken(rawToken)
	if exp, ok := tok.ExpiresAt(); ok && e.now().After(exp) {
		// Diagnostic only: the shape heuristic is best-effort and the portal
		// has the final word, so an apparently expired token is still sent.
		e.log.Warn("check-in token looks expired", zap.Time("exp", exp))
	}

	workers := e.opts.PoolSize
	if workers > len(users) {
		workers = len(users)
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan Credential)
	results := make(chan Outcome)

	for i := 0; i < workers; i++ {
		go func() {
			for cred := range jobs {
				results <- e.guardedRun(ctx, cred, tok)
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, cred := range users {
			jobs <- cred
		}
	}()

	outcomes := make([]Outcome, 0, len(users))
	for range users {
		outcomes = append(outcomes, <-results)
	}
	return outcomes
}

// LoginBatch authenticates every user without a token, caching sessions for
// later history or check-in calls.
func (e *Engine) LoginBatch(ctx context.Context, users []Credential) []Outcome {
	return e.RunBatch(ctx, users, "")
}

// guardedRun isolates one user's run: a panic inside the orchestrator
// becomes that user's FAILED outcome instead of tearing down the batch.
func (e *Engine) guardedRun(ctx context.Context, cred Credential, tok portal.Token) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcomesTotal.WithLabelValues(resultInternal).Inc()
			e.log.Error("run panicked", zap.String("user", cred.ID), zap.Any("panic", r))
			out = failed(cred.ID, "internal error during run")
		}
	}()
	start := time.Now()
	out = e.runOne(ctx, cred, tok)
	e.log.Info("run finished",
		zap.String("user", cred.ID),
		zap.String("status", out.Status),
		zap.Duration("took", time.Since(start)))
	return out
}
