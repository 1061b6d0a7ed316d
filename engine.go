package authcore

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/authcore-io/authcore/internal/limiters"
	"github.com/authcore-io/authcore/jwt"
	"github.com/authcore-io/authcore/password"
)

// Engine is the token lifecycle engine: it issues access + refresh pairs,
// verifies access tokens, rotates refresh credentials, and revokes them.
// Construct it with [New]; a zero Engine is not usable.
//
// All methods are safe for concurrent use.
type Engine struct {
	config       Config
	store        CredentialStore
	lockout      *limiters.LockoutLimiter
	audit        *auditDispatcher
	metrics      *Metrics
	passwordHash *password.Argon2
	jwtManager   *jwt.Manager
	userProvider UserProvider

	sweepStop chan struct{}
	sweepWG   sync.WaitGroup
}

// Close stops the background sweeper and flushes the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.sweepStop != nil {
		close(e.sweepStop)
		e.sweepWG.Wait()
		e.sweepStop = nil
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were dropped because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine's metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Sweep deletes expired refresh records from the store. It also runs
// automatically when [RefreshConfig.SweepInterval] is set.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	if e == nil || e.store == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.store.Sweep(ctx)
	if n > 0 && e.metrics != nil {
		e.metrics.Add(MetricCredentialsSwept, uint64(n))
	}
	return n, err
}

func (e *Engine) startSweeper(interval time.Duration) {
	e.sweepStop = make(chan struct{})
	e.sweepWG.Add(1)

	go func() {
		defer e.sweepWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := e.Sweep(context.Background()); err != nil {
					log.Print("authcore: background sweep failed")
				}
			case <-e.sweepStop:
				return
			}
		}
	}()
}
