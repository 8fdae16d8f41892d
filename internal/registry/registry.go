// Package registry owns the canonical set of payment requests.
//
// Every status change goes through Resolve, which is a compare-and-set under
// the registry's single mutex: the first caller to resolve an open
// transaction wins and everyone else observes the already-resolved record.
package registry

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"payment_reconciliation/internal/clock"
	"payment_reconciliation/internal/domain"
	"payment_reconciliation/internal/textnorm"
)

const (
	DefaultWindow     = 60 * time.Second
	DefaultCodeLength = 6
	MinCodeLength     = 4

	// codeAlphabet leaves out 0/O and 1/I, which payers mistype.
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeAttempts = 64
)

// Store persists the audit trail. The registry writes through to it but
// keeps its own map as the source of truth while running.
type Store interface {
	InsertTransaction(ctx context.Context, t *domain.PendingTransaction) error
	UpdateResolution(ctx context.Context, t *domain.PendingTransaction) error
	LoadTransactions(ctx context.Context) ([]domain.PendingTransaction, error)
}

// ResolvedFunc observes terminal transitions. It runs once per transaction,
// after the registry lock is released.
type ResolvedFunc func(domain.PendingTransaction)

type Registry struct {
	mu        sync.Mutex
	txs       map[string]*domain.PendingTransaction
	openCodes map[string]string // verification code -> id, open entries only

	clock    clock.Clock
	store    Store
	currency string
	newCode  func() (string, error)
	hooks    []ResolvedFunc
}

type Option func(*Registry)

func WithStore(s Store) Option {
	return func(r *Registry) { r.store = s }
}

// WithCurrency sets the currency stamped on new requests.
func WithCurrency(code string) Option {
	return func(r *Registry) { r.currency = strings.ToUpper(code) }
}

// WithCodeLength sets the length of generated verification codes.
func WithCodeLength(n int) Option {
	return func(r *Registry) {
		if n < MinCodeLength {
			n = MinCodeLength
		}
		r.newCode = func() (string, error) { return randomCode(n) }
	}
}

// WithCodeGenerator replaces the random code source.
func WithCodeGenerator(fn func() (string, error)) Option {
	return func(r *Registry) { r.newCode = fn }
}

func New(clk clock.Clock, opts ...Option) *Registry {
	r := &Registry{
		txs:       make(map[string]*domain.PendingTransaction),
		openCodes: make(map[string]string),
		clock:     clk,
		currency:  "VND",
		newCode:   func() (string, error) { return randomCode(DefaultCodeLength) },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnResolved registers fn to be called after every terminal transition.
func (r *Registry) OnResolved(fn ResolvedFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// Load rebuilds the in-memory state from the store.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	txs, err := r.store.LoadTransactions(ctx)
	if err != nil {
		return fmt.Errorf("load transactions: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range txs {
		t := txs[i]
		r.txs[t.ID] = &t
		if t.IsOpen() {
			r.openCodes[textnorm.Key(t.VerificationCode)] = t.ID
		}
	}
	log.Printf("INFO: Registry loaded %d transactions (%d open)", len(txs), len(r.openCodes))
	return nil
}

// Create opens a payment window with a verification code no other open
// transaction holds. A non-positive window falls back to DefaultWindow.
func (r *Registry) Create(ctx context.Context, orderRef string, expectedAmount int64, channel domain.Channel, window time.Duration) (domain.PendingTransaction, error) {
	if strings.TrimSpace(orderRef) == "" {
		return domain.PendingTransaction{}, domain.ErrInvalidOrderRef
	}
	if expectedAmount <= 0 {
		return domain.PendingTransaction{}, domain.ErrInvalidAmount
	}
	if !channel.Valid() {
		return domain.PendingTransaction{}, fmt.Errorf("%w: %q", domain.ErrInvalidChannel, channel)
	}
	if window <= 0 {
		window = DefaultWindow
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	code, err := r.freeCode()
	if err != nil {
		return domain.PendingTransaction{}, err
	}

	now := r.clock.Now()
	t := &domain.PendingTransaction{
		ID:               uuid.New().String(),
		OrderRef:         orderRef,
		VerificationCode: code,
		ExpectedAmount:   expectedAmount,
		Currency:         r.currency,
		Channel:          channel,
		Status:           domain.StatusOpen,
		CreatedAt:        now,
		Deadline:         now.Add(window),
	}

	// Persist before publishing the code so nothing can resolve a record the
	// audit trail never saw.
	if r.store != nil {
		if err := r.store.InsertTransaction(ctx, t); err != nil {
			return domain.PendingTransaction{}, fmt.Errorf("persist transaction: %w", err)
		}
	}

	r.txs[t.ID] = t
	r.openCodes[textnorm.Key(code)] = t.ID
	return *t, nil
}

func (r *Registry) freeCode() (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code, err := r.newCode()
		if err != nil {
			return "", fmt.Errorf("generate verification code: %w", err)
		}
		if _, taken := r.openCodes[textnorm.Key(code)]; !taken {
			return code, nil
		}
	}
	return "", domain.ErrCodeSpaceExhausted
}

// Resolve moves an open transaction to a terminal status. ok is false when
// the transaction was no longer open; prior is then the record as resolved
// by whoever got there first. A confirmation or rejection that arrives at or
// after the deadline expires the transaction instead and reports ok=false.
// The only errors are an unknown id and a non-terminal target status.
func (r *Registry) Resolve(ctx context.Context, id string, status domain.TxStatus, by domain.ResolvedBy, operator, reason string) (bool, domain.PendingTransaction, error) {
	if !status.Terminal() {
		return false, domain.PendingTransaction{}, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}

	r.mu.Lock()
	t, exists := r.txs[id]
	if !exists {
		r.mu.Unlock()
		return false, domain.PendingTransaction{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if !t.IsOpen() {
		snapshot := *t
		r.mu.Unlock()
		return false, snapshot, nil
	}

	now := r.clock.Now()
	applied := true
	if status != domain.StatusExpired && !now.Before(t.Deadline) {
		status, by, operator, reason = domain.StatusExpired, domain.ResolvedByTimeout, "", ""
		applied = false
	}

	t.Status = status
	t.ResolvedAt = &now
	t.ResolvedBy = by
	t.Operator = operator
	t.RejectionReason = reason
	delete(r.openCodes, textnorm.Key(t.VerificationCode))

	snapshot := *t
	hooks := append([]ResolvedFunc(nil), r.hooks...)
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.UpdateResolution(ctx, &snapshot); err != nil {
			log.Printf("ERROR: Failed to persist resolution of %s (%s): %v", snapshot.ID, snapshot.Status, err)
		}
	}
	for _, fn := range hooks {
		fn(snapshot)
	}

	return applied, snapshot, nil
}

// Get returns a copy of the transaction.
func (r *Registry) Get(id string) (domain.PendingTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.txs[id]
	if !ok {
		return domain.PendingTransaction{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return *t, nil
}

// ListOpen returns open transactions, earliest deadline first.
func (r *Registry) ListOpen() []domain.PendingTransaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.PendingTransaction, 0, len(r.openCodes))
	for _, id := range r.openCodes {
		out = append(out, *r.txs[id])
	}
	sortByDeadline(out)
	return out
}

// ListDue returns the ids of open transactions whose deadline is not after now.
func (r *Registry) ListDue(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, id := range r.openCodes {
		if !now.Before(r.txs[id].Deadline) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// FindOpenByCode returns open transactions whose verification code equals
// token or occurs inside it. Comparison is case- and diacritic-insensitive.
func (r *Registry) FindOpenByCode(token string) []domain.PendingTransaction {
	key := textnorm.Key(token)
	if key == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.PendingTransaction
	for code, id := range r.openCodes {
		if strings.Contains(key, code) {
			out = append(out, *r.txs[id])
		}
	}
	sortByDeadline(out)
	return out
}

// FindResolvedByCode is FindOpenByCode over terminal transactions. Codes are
// reused, so several historical records may share one code.
func (r *Registry) FindResolvedByCode(token string) []domain.PendingTransaction {
	key := textnorm.Key(token)
	if key == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.PendingTransaction
	for _, t := range r.txs {
		if t.IsOpen() {
			continue
		}
		if strings.Contains(key, textnorm.Key(t.VerificationCode)) {
			out = append(out, *t)
		}
	}
	sortByDeadline(out)
	return out
}

func sortByDeadline(txs []domain.PendingTransaction) {
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].Deadline.Equal(txs[j].Deadline) {
			return txs[i].ID < txs[j].ID
		}
		return txs[i].Deadline.Before(txs[j].Deadline)
	})
}

func randomCode(n int) (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[idx.Int64()])
	}
	return b.String(), nil
}
