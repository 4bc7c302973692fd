package store

import (
	"context"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/stitch/internal/errors"
	"github.com/roach88/stitch/internal/ir"
)

// RetryPolicy bounds retries of transient store failures.
type RetryPolicy struct {
	Attempts int           // total tries, at least 1
	Backoff  time.Duration // first delay
	MaxDelay time.Duration // delay cap
}

// DefaultRetryPolicy matches the settings defaults.
var DefaultRetryPolicy = RetryPolicy{Attempts: 5, Backoff: 100 * time.Millisecond, MaxDelay: 5 * time.Second}

// delay returns the wait before try n+1 (n counts from 1).
func (p RetryPolicy) delay(n int) time.Duration {
	d := p.Backoff
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Retrying retries operations of an inner store that fail with a store
// error. Statement writes are idempotent, so a Put may be replayed.
type Retrying struct {
	Store
	policy RetryPolicy
	log    *zap.SugaredLogger
	sleep  func(context.Context, time.Duration) error
}

// NewRetrying wraps s. A nil logger discards retry warnings.
func NewRetrying(s Store, policy RetryPolicy, log *zap.SugaredLogger) *Retrying {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Retrying{Store: s, policy: policy, log: log, sleep: sleepCtx}
}

// Unwrap returns the inner store.
func (r *Retrying) Unwrap() Store { return r.Store }

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// do runs op until it succeeds, fails with a non-store error, or the
// attempts are spent.
func (r *Retrying) do(ctx context.Context, name string, op func() error) error {
	var err error
	for n := 1; ; n++ {
		err = op()
		if err == nil || !errors.Is(err, errors.ErrStore) || errors.Is(err, ErrClosed) {
			return err
		}
		if n >= r.policy.Attempts {
			break
		}
		wait := r.policy.delay(n)
		r.log.Warnw("store operation failed, retrying", "op", name, "attempt", n, "wait", wait, "error", err)
		if serr := r.sleep(ctx, wait); serr != nil {
			return serr
		}
	}
	return errors.Wrapf(err, "%s failed after %d attempts", name, r.policy.Attempts)
}

func (r *Retrying) Put(ctx context.Context, stmts []ir.Statement) (int, error) {
	var n int
	err := r.do(ctx, "put", func() error {
		var err error
		n, err = r.Store.Put(ctx, stmts)
		return err
	})
	return n, err
}

func (r *Retrying) Get(ctx context.Context, entityID string) ([]ir.Statement, error) {
	var stmts []ir.Statement
	err := r.do(ctx, "get", func() error {
		var err error
		stmts, err = r.Store.Get(ctx, entityID)
		return err
	})
	return stmts, err
}

// Scan restarts a failed inner scan and skips ids already yielded.
func (r *Retrying) Scan(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		last, started := "", false
		for n := 1; ; n++ {
			var failed error
			for id, err := range r.Store.Scan(ctx) {
				if err != nil {
					failed = err
					break
				}
				if started && id <= last {
					continue
				}
				last, started = id, true
				if !yield(id, nil) {
					return
				}
			}
			if failed == nil {
				return
			}
			if !errors.Is(failed, errors.ErrStore) || errors.Is(failed, ErrClosed) {
				yield("", failed)
				return
			}
			if n >= r.policy.Attempts {
				yield("", errors.Wrapf(failed, "scan failed after %d attempts", r.policy.Attempts))
				return
			}
			wait := r.policy.delay(n)
			r.log.Warnw("store scan failed, resuming", "after", last, "attempt", n, "wait", wait, "error", failed)
			if err := r.sleep(ctx, wait); err != nil {
				yield("", err)
				return
			}
		}
	}
}

// HasTag delegates when the inner store supports tags.
func (r *Retrying) HasTag(ctx context.Context, key string) (bool, error) {
	t, ok := r.Store.(Tags)
	if !ok {
		return false, nil
	}
	var has bool
	err := r.do(ctx, "has tag", func() error {
		var err error
		has, err = t.HasTag(ctx, key)
		return err
	})
	return has, err
}

// PutTag delegates when the inner store supports tags.
func (r *Retrying) PutTag(ctx context.Context, key, value string) error {
	t, ok := r.Store.(Tags)
	if !ok {
		return nil
	}
	return r.do(ctx, "put tag", func() error { return t.PutTag(ctx, key, value) })
}

// MaxSeq delegates when the inner store is a Sequencer.
func (r *Retrying) MaxSeq(ctx context.Context) (int64, error) {
	s, ok := r.Store.(Sequencer)
	if !ok {
		return 0, nil
	}
	var seq int64
	err := r.do(ctx, "max seq", func() error {
		var err error
		seq, err = s.MaxSeq(ctx)
		return err
	})
	return seq, err
}
