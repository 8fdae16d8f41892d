// Package scheduler expires payment windows whose deadline has passed.
package scheduler

import (
	"context"
	"log"
	"time"

	"payment_reconciliation/internal/clock"
	"payment_reconciliation/internal/domain"
)

const DefaultInterval = time.Second

// Registry is what the scheduler needs from the transaction registry.
type Registry interface {
	ListDue(now time.Time) []string
	Resolve(ctx context.Context, id string, status domain.TxStatus, by domain.ResolvedBy, operator, reason string) (bool, domain.PendingTransaction, error)
}

type Scheduler struct {
	reg      Registry
	clock    clock.Clock
	interval time.Duration
	verbose  bool
}

type Option func(*Scheduler)

// WithInterval sets the sweep period. Non-positive values keep the default.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithVerbose logs transactions that were resolved by someone else between
// listing and expiring them.
func WithVerbose(v bool) Option {
	return func(s *Scheduler) { s.verbose = v }
}

func New(reg Registry, clk clock.Clock, opts ...Option) *Scheduler {
	s := &Scheduler{reg: reg, clock: clk, interval: DefaultInterval}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps once per interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("INFO: Expiry scheduler started (interval %s)", s.interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("INFO: Expiry scheduler stopped")
			return
		case <-ticker.C():
			s.Sweep(ctx)
		}
	}
}

// Sweep expires every open transaction that is due and returns how many it
// expired. Losing a race to a confirmation is normal and not reported.
func (s *Scheduler) Sweep(ctx context.Context) int {
	expired := 0
	for _, id := range s.reg.ListDue(s.clock.Now()) {
		ok, prior, err := s.reg.Resolve(ctx, id, domain.StatusExpired, domain.ResolvedByTimeout, "", "")
		if err != nil {
			log.Printf("ERROR: Failed to expire %s: %v", id, err)
			continue
		}
		if !ok {
			if s.verbose {
				log.Printf("INFO: %s already %s by %s before expiry", id, prior.Status, prior.ResolvedBy)
			}
			continue
		}
		expired++
	}
	if expired > 0 {
		log.Printf("INFO: Expired %d transactions", expired)
	}
	return expired
}
