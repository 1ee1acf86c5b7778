// Package checkin implements the check-in orchestration engine: per-user
// authenticate/submit/verify state machines fanned out over a bounded worker
// pool. The portal's HTTP answers are not trusted as a success signal; a run
// only succeeds once the portal's own record listing shows a timestamp close
// enough to the locally recorded request instant.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"clockin/internal/portal"
	"clockin/internal/record"
	"clockin/internal/session"
)

// Options tune the verification loop and the batch pool.
type Options struct {
	PoolSize    int
	Tolerance   time.Duration
	ProbeDelays []time.Duration
}

func (o Options) withDefaults() Options {
	if o.PoolSize <= 0 {
		o.PoolSize = 10
	}
	if o.Tolerance <= 0 {
		o.Tolerance = 60 * time.Second
	}
	if len(o.ProbeDelays) == 0 {
		o.ProbeDelays = []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond, 3 * time.Second}
	}
	return o
}

// Engine drives check-in runs against the portal and owns nothing mutable
// itself; the session registry is the only shared state between runs.
type Engine struct {
	portal   *portal.Client
	registry *session.Registry
	opts     Options
	log      *zap.Logger
	now      func() time.Time
}

// NewEngine wires the engine to a portal client and session registry.
func NewEngine(pc *portal.Client, reg *session.Registry, opts Options, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		portal:   pc,
		registry: reg,
		opts:     opts.withDefaults(),
		log:      log,
		now:      time.Now,
	}
}

// runOne is the per-user state machine: authenticate (the token, when
// present, makes the same POST double as the check-in submission), classify
// the landing document, then poll the record listing until a timestamp
// within tolerance of the request instant confirms the check-in.
func (e *Engine) runOne(ctx context.Context, cred Credential, tok portal.Token) Outcome {
	requestInstant := e.now().In(record.PortalZone)
	log := e.log.With(zap.String("user", cred.ID))

	sess, landing, err := e.portal.Login(ctx, cred.ID, cred.Password, tok)
	if err != nil {
		if errors.Is(err, portal.ErrBadCredentials) {
			outcomesTotal.WithLabelValues(resultAuthFailed).Inc()
			return failed(cred.ID, "credentials rejected: check identifier and password")
		}
		outcomesTotal.WithLabelValues(resultTransient).Inc()
		log.Warn("login failed", zap.Error(err))
		return failed(cred.ID, "transient failure, try again: "+err.Error())
	}

	if tok.Empty() {
		e.registry.Put(cred.ID, sess)
		outcomesTotal.WithLabelValues(resultSuccess).Inc()
		return success(cred.ID, "login ok")
	}

	// The landing page can report a business rejection even though the login
	// redirect succeeded. That is terminal for this token; the session is
	// still cached since authentication itself went through.
	if err := portal.ClassifyLanding(landing); err != nil {
		e.registry.Put(cred.ID, sess)
		outcomesTotal.WithLabelValues(resultRejected).Inc()
		var rej *portal.BusinessRejection
		if errors.As(err, &rej) {
			return failed(cred.ID, fmt.Sprintf("check-in refused: token expired or invalid (%q)", rej.Phrase))
		}
		return failed(cred.ID, "check-in refused: "+err.Error())
	}

	outcome := e.verify(ctx, log, cred.ID, sess, requestInstant)
	// Keep the session either way: a verification miss does not invalidate
	// the authenticated cookies, and the caller's next attempt skips a login.
	e.registry.Put(cred.ID, sess)
	return outcome
}

// verify polls the record listing on an increasing delay schedule and
// reconciles scraped timestamps against the request instant. The first
// record within tolerance confirms the check-in; exhausting the schedule is
// a verification timeout, reported with the freshest stale timestamp seen.
func (e *Engine) verify(ctx context.Context, log *zap.Logger, id string, sess *portal.Session, requestInstant time.Time) Outcome {
	var lastSeen time.Time
	var seen bool

	for probe, delay := range e.opts.ProbeDelays {
		select {
		case <-ctx.Done():
			outcomesTotal.WithLabelValues(resultCancelled).Inc()
			return failed(id, "cancelled before confirmation: "+ctx.Err().Error())
		case <-time.After(delay):
		}

		doc, err := e.portal.Records(ctx, sess)
		if err != nil {
			log.Warn("record probe failed", zap.Int("probe", probe+1), zap.Error(err))
			continue
		}
		ts, ok := record.Latest(doc)
		if !ok {
			continue
		}
		if !seen || ts.After(lastSeen) {
			lastSeen, seen = ts, true
		}

		diff := ts.Sub(requestInstant)
		if diff < 0 {
			diff = -diff
		}
		if diff <= e.opts.Tolerance {
			verifyProbes.Observe(float64(probe + 1))
			outcomesTotal.WithLabelValues(resultSuccess).Inc()
			log.Info("check-in confirmed",
				zap.Time("record", ts),
				zap.Duration("skew", diff),
				zap.Int("probe", probe+1))
			return success(id, fmt.Sprintf("check-in confirmed (record %s, skew %ds)", ts.Format(record.Layout), int(diff.Seconds())))
		}
	}

	verifyProbes.Observe(float64(len(e.opts.ProbeDelays)))
	outcomesTotal.WithLabelValues(resultVerifyTimeout).Inc()
	if seen {
		return failed(id, fmt.Sprintf("not confirmed: most recent record is %s, outside tolerance", lastSeen.Format(record.Layout)))
	}
	return failed(id, "not confirmed: no record found within retry budget")
}

// History returns the raw record-page HTML for one user, reusing a cached
// session when it is still live and re-authenticating otherwise.
func (e *Engine) History(ctx context.Context, cred Credential, targetURL string) ([]byte, error) {
	if sess, ok := e.registry.Get(cred.ID); ok {
		if e.portal.Probe(ctx, sess) {
			return e.portal.Fetch(ctx, sess, targetURL)
		}
		e.registry.Evict(cred.ID)
	}

	sess, _, err := e.portal.Login(ctx, cred.ID, cred.Password, portal.Token{})
	if err != nil {
		return nil, err
	}
	e.registry.Put(cred.ID, sess)
	return e.portal.Fetch(ctx, sess, targetURL)
}
