// Package matcher pairs parsed transfers with open payment requests.
package matcher

import (
	"context"
	"log"
	"strings"

	"payment_reconciliation/internal/domain"
)

// Registry is the slice of the transaction registry the matcher needs.
type Registry interface {
	FindOpenByCode(token string) []domain.PendingTransaction
	FindResolvedByCode(token string) []domain.PendingTransaction
	Resolve(ctx context.Context, id string, status domain.TxStatus, by domain.ResolvedBy, operator, reason string) (bool, domain.PendingTransaction, error)
}

type Matcher struct {
	reg Registry
}

func New(reg Registry) *Matcher {
	return &Matcher{reg: reg}
}

// Match evaluates every entry independently and returns one outcome per
// entry, in input order. An entry confirms a transaction only when exactly
// one open transaction has both the same amount and a verification code that
// appears in the entry's reference. Several candidates resolve nothing.
func (m *Matcher) Match(ctx context.Context, entries []domain.ParsedEntry) []domain.MatchOutcome {
	outcomes := make([]domain.MatchOutcome, 0, len(entries))
	for _, e := range entries {
		outcomes = append(outcomes, m.matchOne(ctx, e))
	}
	return outcomes
}

func (m *Matcher) matchOne(ctx context.Context, e domain.ParsedEntry) domain.MatchOutcome {
	out := domain.MatchOutcome{Kind: domain.OutcomeNoMatch, Entry: e}

	candidates := filterByAmount(m.reg.FindOpenByCode(e.Reference), e)
	switch len(candidates) {
	case 0:
		if prior, ok := m.lastResolved(e); ok {
			out.Kind = domain.OutcomeAlreadyResolved
			out.Transaction = &prior
		}
		return out

	case 1:
		target := candidates[0]
		ok, record, err := m.reg.Resolve(ctx, target.ID, domain.StatusConfirmed, domain.ResolvedByAutomatic, "", "")
		if err != nil {
			log.Printf("ERROR: Failed to confirm %s from matched entry: %v", target.ID, err)
			return out
		}
		out.Transaction = &record
		if !ok {
			// Someone else resolved it first, or the deadline had passed.
			out.Kind = domain.OutcomeAlreadyResolved
			return out
		}
		out.Kind = domain.OutcomeMatched
		log.Printf("INFO: Matched transaction %s (order %s, %d %s)", record.ID, record.OrderRef, record.ExpectedAmount, record.Currency)
		return out

	default:
		out.Kind = domain.OutcomeAmbiguous
		for _, c := range candidates {
			out.Candidates = append(out.Candidates, c.ID)
		}
		log.Printf("WARN: Entry %q matches %d open transactions, leaving all open", e.RawText, len(candidates))
		return out
	}
}

// lastResolved finds the most recent terminal record the entry would have
// matched, so a replayed notification is reported as such.
func (m *Matcher) lastResolved(e domain.ParsedEntry) (domain.PendingTransaction, bool) {
	resolved := filterByAmount(m.reg.FindResolvedByCode(e.Reference), e)
	if len(resolved) == 0 {
		return domain.PendingTransaction{}, false
	}
	return resolved[len(resolved)-1], true
}

func filterByAmount(txs []domain.PendingTransaction, e domain.ParsedEntry) []domain.PendingTransaction {
	var out []domain.PendingTransaction
	for _, t := range txs {
		if t.ExpectedAmount != e.Amount {
			continue
		}
		if e.Currency != "" && !strings.EqualFold(e.Currency, t.Currency) {
			continue
		}
		out = append(out, t)
	}
	return out
}
