package domain

import "time"

// ParsedEntry is one candidate incoming transfer extracted from a text blob.
type ParsedEntry struct {
	Amount int64
	// Currency is empty when the source did not say; the matcher then
	// compares amounts only.
	Currency   string
	Reference  string
	OccurredAt time.Time
	RawText    string
}

type OutcomeKind string

const (
	OutcomeMatched         OutcomeKind = "matched"
	OutcomeNoMatch         OutcomeKind = "no-match"
	OutcomeAmbiguous       OutcomeKind = "ambiguous"
	OutcomeAlreadyResolved OutcomeKind = "already-resolved"
)

// MatchOutcome records what happened to one parsed entry.
type MatchOutcome struct {
	Kind  OutcomeKind
	Entry ParsedEntry
	// Transaction is set for matched and already-resolved outcomes.
	Transaction *PendingTransaction
	// Candidates lists the ids that made the entry ambiguous.
	Candidates []string
}

// IngestSummary is what the operator console sees after submitting text.
type IngestSummary struct {
	ParsedCount          int
	MatchedCount         int
	AmbiguousCount       int
	NoMatchCount         int
	AlreadyResolvedCount int
	Outcomes             []MatchOutcome
}

// Summarize counts outcomes by kind.
func Summarize(outcomes []MatchOutcome) IngestSummary {
	s := IngestSummary{
		ParsedCount: len(outcomes),
		Outcomes:    outcomes,
	}
	for _, o := range outcomes {
		switch o.Kind {
		case OutcomeMatched:
			s.MatchedCount++
		case OutcomeAmbiguous:
			s.AmbiguousCount++
		case OutcomeNoMatch:
			s.NoMatchCount++
		case OutcomeAlreadyResolved:
			s.AlreadyResolvedCount++
		}
	}
	return s
}

// AuditRecord is one persisted match outcome.
type AuditRecord struct {
	ID            int64
	Source        string
	Kind          OutcomeKind
	Amount        int64
	Currency      string
	Reference     string
	RawText       string
	OccurredAt    time.Time
	TransactionID string
	Candidates    []string
	RecordedAt    time.Time
}

// AuditFor flattens an outcome for the audit log.
func AuditFor(source string, o MatchOutcome, at time.Time) AuditRecord {
	rec := AuditRecord{
		Source:     source,
		Kind:       o.Kind,
		Amount:     o.Entry.Amount,
		Currency:   o.Entry.Currency,
		Reference:  o.Entry.Reference,
		RawText:    o.Entry.RawText,
		OccurredAt: o.Entry.OccurredAt,
		Candidates: o.Candidates,
		RecordedAt: at,
	}
	if o.Transaction != nil {
		rec.TransactionID = o.Transaction.ID
	}
	return rec
}
