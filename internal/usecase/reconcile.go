package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"payment_reconciliation/internal/clock"
	"payment_reconciliation/internal/domain"
	"payment_reconciliation/internal/matcher"
	"payment_reconciliation/internal/notify"
	"payment_reconciliation/internal/parser"
	"payment_reconciliation/internal/registry"
	"payment_reconciliation/internal/repository"
)

// AuditStore is the queryable history behind the operator console.
type AuditStore interface {
	InsertMatchAudit(ctx context.Context, a *domain.AuditRecord) error
	ListMatchAudit(ctx context.Context, transactionID string, limit, offset int) ([]domain.AuditRecord, error)
	ListTransactions(ctx context.Context, f repository.TxFilter, limit, offset int) ([]domain.PendingTransaction, error)
	GetByID(ctx context.Context, id string) (*domain.PendingTransaction, error)
}

// PaymentRequest is what the storefront shows the payer.
type PaymentRequest struct {
	ID               string
	OrderRef         string
	VerificationCode string
	Amount           int64
	Currency         string
	Channel          domain.Channel
	Deadline         time.Time
	PaymentContent   string
}

// Transfer is one structured incoming transfer from a wallet feed.
type Transfer struct {
	Amount     int64
	Currency   string
	Memo       string
	OccurredAt time.Time
}

type ReconcileService struct {
	reg     *registry.Registry
	matcher *matcher.Matcher
	parser  *parser.Parser
	pub     *notify.Publisher
	audit   AuditStore
	clock   clock.Clock
	windows map[domain.Channel]time.Duration
	payee   string
	country string
}

type Option func(*ReconcileService)

// WithWindow overrides the payment window for one channel.
func WithWindow(ch domain.Channel, d time.Duration) Option {
	return func(s *ReconcileService) {
		if d > 0 {
			s.windows[ch] = d
		}
	}
}

// WithPayee sets the merchant name embedded in payment content.
func WithPayee(name string) Option {
	return func(s *ReconcileService) { s.payee = name }
}

// WithCountry sets the two-letter merchant country embedded in payment content.
func WithCountry(code string) Option {
	return func(s *ReconcileService) { s.country = code }
}

// NewReconcileService wires the registry to the publisher so every terminal
// transition is announced exactly once, whoever caused it.
func NewReconcileService(reg *registry.Registry, p *parser.Parser, pub *notify.Publisher, audit AuditStore, clk clock.Clock, opts ...Option) *ReconcileService {
	s := &ReconcileService{
		reg:     reg,
		matcher: matcher.New(reg),
		parser:  p,
		pub:     pub,
		audit:   audit,
		clock:   clk,
		windows: map[domain.Channel]time.Duration{
			domain.ChannelBankTransfer: registry.DefaultWindow,
			domain.ChannelWalletQR:     registry.DefaultWindow,
		},
		payee: "MERCHANT",
	}
	for _, opt := range opts {
		opt(s)
	}

	reg.OnResolved(func(t domain.PendingTransaction) {
		pub.Emit(t.ID, domain.EventFor(t))
	})
	return s
}

func (s *ReconcileService) CreateRequest(ctx context.Context, orderRef string, amountMinor int64, channel domain.Channel) (*PaymentRequest, error) {
	t, err := s.reg.Create(ctx, orderRef, amountMinor, channel, s.windows[channel])
	if err != nil {
		return nil, err
	}

	log.Printf("INFO: Opened payment window %s for order %s (%d %s, code %s, until %s)",
		t.ID, t.OrderRef, t.ExpectedAmount, t.Currency, t.VerificationCode, t.Deadline.Format(time.RFC3339))

	return &PaymentRequest{
		ID:               t.ID,
		OrderRef:         t.OrderRef,
		VerificationCode: t.VerificationCode,
		Amount:           t.ExpectedAmount,
		Currency:         t.Currency,
		Channel:          t.Channel,
		Deadline:         t.Deadline,
		PaymentContent:   paymentContent(s.payee, s.country, t),
	}, nil
}

// IngestText parses free text and matches every entry found. Noise, no-match
// and ambiguity are reported in the summary, not as errors.
func (s *ReconcileService) IngestText(ctx context.Context, source, text string) (domain.IngestSummary, error) {
	if err := ctx.Err(); err != nil {
		return domain.IngestSummary{}, err
	}
	entries := s.parser.Parse(text)
	return s.ingest(ctx, source, entries), nil
}

// IngestTransfers matches structured transfers. Non-positive amounts are
// outgoing and dropped.
func (s *ReconcileService) IngestTransfers(ctx context.Context, source string, transfers []Transfer) (domain.IngestSummary, error) {
	if err := ctx.Err(); err != nil {
		return domain.IngestSummary{}, err
	}
	entries := make([]domain.ParsedEntry, 0, len(transfers))
	for _, tr := range transfers {
		if tr.Amount <= 0 {
			continue
		}
		entries = append(entries, domain.ParsedEntry{
			Amount:     tr.Amount,
			Currency:   strings.ToUpper(tr.Currency),
			Reference:  tr.Memo,
			OccurredAt: tr.OccurredAt,
			RawText:    fmt.Sprintf("%d %s %s", tr.Amount, tr.Currency, tr.Memo),
		})
	}
	return s.ingest(ctx, source, entries), nil
}

func (s *ReconcileService) ingest(ctx context.Context, source string, entries []domain.ParsedEntry) domain.IngestSummary {
	outcomes := s.matcher.Match(ctx, entries)

	if s.audit != nil {
		now := s.clock.Now()
		for _, o := range outcomes {
			rec := domain.AuditFor(source, o, now)
			if err := s.audit.InsertMatchAudit(ctx, &rec); err != nil {
				log.Printf("ERROR: Failed to record %s outcome from %s: %v", o.Kind, source, err)
			}
		}
	}

	summary := domain.Summarize(outcomes)
	log.Printf("INFO: Ingested %d entries from %s: %d matched, %d ambiguous, %d no-match, %d already resolved",
		summary.ParsedCount, source, summary.MatchedCount, summary.AmbiguousCount, summary.NoMatchCount, summary.AlreadyResolvedCount)
	return summary
}

// ManualConfirm confirms a transaction on an operator's word. It goes through
// the same compare-and-set as automatic matches.
func (s *ReconcileService) ManualConfirm(ctx context.Context, id, operator string) (bool, domain.PendingTransaction, error) {
	if strings.TrimSpace(operator) == "" {
		return false, domain.PendingTransaction{}, domain.ErrOperatorRequired
	}
	ok, t, err := s.reg.Resolve(ctx, id, domain.StatusConfirmed, domain.ResolvedByOperator, operator, "")
	if err != nil {
		return false, domain.PendingTransaction{}, err
	}
	if ok {
		log.Printf("INFO: Operator %s confirmed %s", operator, id)
	}
	return ok, t, nil
}

func (s *ReconcileService) ManualReject(ctx context.Context, id, operator, reason string) (bool, domain.PendingTransaction, error) {
	if strings.TrimSpace(operator) == "" {
		return false, domain.PendingTransaction{}, domain.ErrOperatorRequired
	}
	if strings.TrimSpace(reason) == "" {
		return false, domain.PendingTransaction{}, domain.ErrReasonRequired
	}
	ok, t, err := s.reg.Resolve(ctx, id, domain.StatusRejected, domain.ResolvedByOperator, operator, reason)
	if err != nil {
		return false, domain.PendingTransaction{}, err
	}
	if ok {
		log.Printf("INFO: Operator %s rejected %s: %s", operator, id, reason)
	}
	return ok, t, nil
}

func (s *ReconcileService) Subscribe(ctx context.Context, id string) (*notify.Subscription, error) {
	return s.pub.Subscribe(ctx, id)
}

// GetStatus reads the live registry first. Rows the registry does not hold
// (written by another instance sharing the store) are read from the store.
func (s *ReconcileService) GetStatus(ctx context.Context, id string) (domain.PendingTransaction, error) {
	t, err := s.reg.Get(id)
	if err == nil || !errors.Is(err, domain.ErrNotFound) || s.audit == nil {
		return t, err
	}
	stored, serr := s.audit.GetByID(ctx, id)
	if serr != nil {
		return domain.PendingTransaction{}, serr
	}
	return *stored, nil
}

func (s *ReconcileService) ListOpen(ctx context.Context) []domain.PendingTransaction {
	return s.reg.ListOpen()
}

func (s *ReconcileService) ListTransactions(ctx context.Context, f repository.TxFilter, limit, offset int) ([]domain.PendingTransaction, error) {
	if s.audit == nil {
		return nil, fmt.Errorf("list transactions: no audit store configured")
	}
	return s.audit.ListTransactions(ctx, f, limit, offset)
}

// ListAudit returns recorded match outcomes, newest first.
func (s *ReconcileService) ListAudit(ctx context.Context, transactionID string, limit, offset int) ([]domain.AuditRecord, error) {
	if s.audit == nil {
		return nil, fmt.Errorf("list audit: no audit store configured")
	}
	return s.audit.ListMatchAudit(ctx, transactionID, limit, offset)
}
