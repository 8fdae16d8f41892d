package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment_reconciliation/internal/clock"
	"payment_reconciliation/internal/domain"
)

var t0 = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

// sequenceCodes hands out the given codes in order, then repeats the last.
func sequenceCodes(codes ...string) func() (string, error) {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		c := codes[i]
		if i < len(codes)-1 {
			i++
		}
		return c, nil
	}
}

type memStore struct {
	mu        sync.Mutex
	rows      map[string]domain.PendingTransaction
	insertErr error
	updates   int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]domain.PendingTransaction)}
}

func (m *memStore) InsertTransaction(ctx context.Context, t *domain.PendingTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.rows[t.ID] = *t
	return nil
}

func (m *memStore) UpdateResolution(ctx context.Context, t *domain.PendingTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[t.ID] = *t
	m.updates++
	return nil
}

func (m *memStore) LoadTransactions(ctx context.Context) ([]domain.PendingTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PendingTransaction, 0, len(m.rows))
	for _, t := range m.rows {
		out = append(out, t)
	}
	return out, nil
}

func TestCreate_SetsOpenWindow(t *testing.T) {
	clk := clock.NewManual(t0)
	reg := New(clk, WithCodeGenerator(sequenceCodes("DH42")), WithCurrency("vnd"))

	tx, err := reg.Create(context.Background(), "order-1", 150000, domain.ChannelBankTransfer, 90*time.Second)
	require.NoError(t, err)

	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, "order-1", tx.OrderRef)
	assert.Equal(t, "DH42", tx.VerificationCode)
	assert.Equal(t, int64(150000), tx.ExpectedAmount)
	assert.Equal(t, "VND", tx.Currency)
	assert.Equal(t, domain.StatusOpen, tx.Status)
	assert.Equal(t, t0, tx.CreatedAt)
	assert.Equal(t, t0.Add(90*time.Second), tx.Deadline)
	assert.Nil(t, tx.ResolvedAt)
}

func TestCreate_DefaultWindow(t *testing.T) {
	reg := New(clock.NewManual(t0))

	tx, err := reg.Create(context.Background(), "order-1", 1000, domain.ChannelWalletQR, 0)
	require.NoError(t, err)

	assert.Equal(t, t0.Add(DefaultWindow), tx.Deadline)
	assert.Len(t, tx.VerificationCode, DefaultCodeLength)
}

func TestCreate_Validation(t *testing.T) {
	reg := New(clock.NewManual(t0))
	ctx := context.Background()

	_, err := reg.Create(ctx, "", 1000, domain.ChannelBankTransfer, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidOrderRef)

	_, err = reg.Create(ctx, "order-1", 0, domain.ChannelBankTransfer, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = reg.Create(ctx, "order-1", 1000, domain.Channel("card"), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidChannel)

	assert.Empty(t, reg.ListOpen())
}

func TestCreate_CodeUniqueAmongOpenOnly(t *testing.T) {
	clk := clock.NewManual(t0)
	reg := New(clk, WithCodeGenerator(sequenceCodes("DH42", "DH42", "XK9P", "DH42")))
	ctx := context.Background()

	first, err := reg.Create(ctx, "order-1", 1000, domain.ChannelBankTransfer, 0)
	require.NoError(t, err)
	second, err := reg.Create(ctx, "order-2", 1000, domain.ChannelBankTransfer, 0)
	require.NoError(t, err)
	assert.Equal(t, "DH42", first.VerificationCode)
	assert.Equal(t, "XK9P", second.VerificationCode, "taken code must be skipped")

	ok, _, err := reg.Resolve(ctx, first.ID, domain.StatusRejected, domain.ResolvedByOperator, "alice", "customer cancelled")
	require.NoError(t, err)
	require.True(t, ok)

	third, err := reg.Create(ctx, "order-3", 1000, domain.ChannelBankTransfer, 0)
	require.NoError(t, err)
	assert.Equal(t, "DH42", third.VerificationCode, "code of a resolved transaction may be reused")
}

func TestCreate_CodeSpaceExhausted(t *testing.T) {
	reg := New(clock.NewManual(t0), WithCodeGenerator(sequenceCodes("DH42")))
	ctx := context.Background()

	_, err := reg.Create(ctx, "order-1", 1000, domain.ChannelBankTransfer, 0)
	require.NoError(t, err)

	_, err = reg.Create(ctx, "order-2", 1000, domain.ChannelBankTransfer, 0)
	assert.ErrorIs(t, err, domain.ErrCodeSpaceExhausted)
}

func TestCreate_StoreFailureLeavesNoRecord(t *testing.T) {
	store := newMemStore()
	store.insertErr = errors.New("disk full")
	reg := New(clock.NewManual(t0), WithStore(store))

	_, err := reg.Create(context.Background(), "order-1", 1000, domain.ChannelBankTransfer, 0)
	require.Error(t, err)
	assert.Empty(t, reg.ListOpen())
}

func TestResolve_FirstCallerWins(t *testing.T) {
	clk := clock.NewManual(t0)
	reg := New(clk)
	ctx := context.Background()
	tx, err := reg.Create(ctx, "order-1", 1000, domain.ChannelBankTransfer, 0)
	require.NoError(t, err)

	clk.Advance(10 * time.Second)
	ok, got, err := reg.Resolve(ctx, tx.ID, domain.StatusConfirmed, domain.ResolvedByAutomatic, "", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.StatusConfirmed, got.Status)
	assert.Equal(t, domain.ResolvedByAutomatic, got.ResolvedBy)
	require.NotNil(t, got.ResolvedAt)
	assert.Equal(t, t0.Add(10*time.Second), *got.ResolvedAt)

	clk.Advance(5 * time.Second)
	ok, prior, err := reg.Resolve(ctx, tx.ID, domain.StatusRejected, domain.ResolvedByOperator, "alice", "duplicate")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, domain.StatusConfirmed, prior.Status)
	assert.Equal(t, domain.ResolvedByAutomatic, prior.ResolvedBy)
	assert.Equal(t, t0.Add(10*time.Second), *prior.ResolvedAt)
	assert.Empty(t, prior.RejectionReason)
}

func TestResolve_Errors(t *testing.T) {
	reg := New(clock.NewManual(t0))
	ctx := context.Background()

	_, _, err := reg.Resolve(ctx, "missing", domain.StatusConfirmed, domain.ResolvedByAutomatic, "", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	tx, err := reg.Create(ctx, "order-1", 1000, domain.ChannelBankTransfer, 0)
	require.NoError(t, err)
	_, _, err = reg.Resolve(ctx, tx.ID, domain.StatusOpen, domain.ResolvedByAutomatic, "", "")
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	got, err := reg.Get(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, got.Status)
}

func TestResolve_AfterDeadlineExpiresInstead(t *testing.T) {
	clk := clock.NewManual(t0)
	reg := New(clk)
	ctx := context.Background()
	tx, err := reg.Create(ctx, "order-1", 1000, domain.ChannelBankTransfer, time.Minute)
	require.NoError(t, err)

	var events []domain.PendingTransaction
	reg.OnResolved(func(t domain.PendingTransaction) { events = append(events, t) })

	clk.Advance(time.Minute)
	ok, got, err := reg.Resolve(ctx, tx.ID, domain.StatusConfirmed, domain.ResolvedByAutomatic, "", "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, domain.StatusExpired, got.Status)
	assert.Equal(t, domain.ResolvedByTimeout, got.ResolvedBy)
	require.Len(t, events, 1)
	assert.Equal(t, domain.StatusExpired, events[0].Status)
}

func TestResolve_ConcurrentCallersResolveOnce(t *testing.T) {
	clk := clock.NewManual(t0)
	store := newMemStore()
	reg := New(clk, WithStore(store))
	ctx := context.Background()
	tx, err := reg.Create(ctx, "order-1", 1000, domain.ChannelBankTransfer, 0)
	require.NoError(t, err)

	var hookCalls atomic.Int32
	reg.OnResolved(func(domain.PendingTransaction) { hookCalls.Add(1) })

	attempts := []struct {
		status domain.TxStatus
		by     domain.ResolvedBy
	}{
		{domain.StatusConfirmed, domain.ResolvedByAutomatic},
		{domain.StatusConfirmed, domain.ResolvedByOperator},
		{domain.StatusRejected, domain.ResolvedByOperator},
		{domain.StatusExpired, domain.ResolvedByTimeout},
	}

	const perKind = 25
	var wins atomic.Int32
	var wg sync.WaitGroup
	for _, a := range attempts {
		for i := 0; i < perKind; i++ {
			wg.Add(1)
			go func(status domain.TxStatus, by domain.ResolvedBy) {
				defer wg.Done()
				ok, _, err := reg.Resolve(ctx, tx.ID, status, by, "op", "reason")
				if err != nil {
					t.Errorf("Resolve() error = %v", err)
				}
				if ok {
					wins.Add(1)
				}
			}(a.status, a.by)
		}
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(1), hookCalls.Load())
	assert.Equal(t, 1, store.updates)

	final, err := reg.Get(tx.ID)
	require.NoError(t, err)
	assert.True(t, final.Status.Terminal())
	assert.Empty(t, reg.ListOpen())
}

func TestFindOpenByCode(t *testing.T) {
	reg := New(clock.NewManual(t0), WithCodeGenerator(sequenceCodes("DH42", "XK9P", "QW12")))
	ctx := context.Background()
	a, _ := reg.Create(ctx, "order-a", 1000, domain.ChannelBankTransfer, 0)
	b, _ := reg.Create(ctx, "order-b", 1000, domain.ChannelBankTransfer, 0)
	c, _ := reg.Create(ctx, "order-c", 1000, domain.ChannelBankTransfer, 0)

	_, _, err := reg.Resolve(ctx, c.ID, domain.StatusRejected, domain.ResolvedByOperator, "alice", "test")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  []string
	}{
		{name: "exact", token: "DH42", want: []string{a.ID}},
		{name: "inside memo", token: "CK thanh toan dh42 NGUYEN", want: []string{a.ID}},
		{name: "diacritics folded", token: "ĐH42", want: []string{a.ID}},
		{name: "both codes", token: "DH42 XK9P", want: []string{a.ID, b.ID}},
		{name: "resolved code ignored", token: "QW12", want: nil},
		{name: "partial code", token: "DH4", want: nil},
		{name: "empty", token: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ids []string
			for _, tx := range reg.FindOpenByCode(tt.token) {
				ids = append(ids, tx.ID)
			}
			assert.ElementsMatch(t, tt.want, ids)
		})
	}

	resolved := reg.FindResolvedByCode("memo QW12")
	require.Len(t, resolved, 1)
	assert.Equal(t, c.ID, resolved[0].ID)
}

func TestListDueAndListOpen(t *testing.T) {
	clk := clock.NewManual(t0)
	reg := New(clk)
	ctx := context.Background()
	short, _ := reg.Create(ctx, "order-short", 1000, domain.ChannelWalletQR, 30*time.Second)
	long, _ := reg.Create(ctx, "order-long", 1000, domain.ChannelBankTransfer, 90*time.Second)

	open := reg.ListOpen()
	require.Len(t, open, 2)
	assert.Equal(t, short.ID, open[0].ID, "earliest deadline first")
	assert.Equal(t, long.ID, open[1].ID)

	assert.Empty(t, reg.ListDue(clk.Now()))
	assert.Equal(t, []string{short.ID}, reg.ListDue(t0.Add(30*time.Second)))
	assert.ElementsMatch(t, []string{short.ID, long.ID}, reg.ListDue(t0.Add(2*time.Minute)))
}

func TestLoad_RestoresOpenAndResolved(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	first := New(clock.NewManual(t0), WithStore(store), WithCodeGenerator(sequenceCodes("DH42", "XK9P")))
	open, _ := first.Create(ctx, "order-1", 1000, domain.ChannelBankTransfer, 0)
	done, _ := first.Create(ctx, "order-2", 2000, domain.ChannelBankTransfer, 0)
	_, _, err := first.Resolve(ctx, done.ID, domain.StatusConfirmed, domain.ResolvedByOperator, "alice", "")
	require.NoError(t, err)

	second := New(clock.NewManual(t0), WithStore(store), WithCodeGenerator(sequenceCodes("DH42", "ZZ77")))
	require.NoError(t, second.Load(ctx))

	got, err := second.Get(done.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, got.Status)
	require.Len(t, second.ListOpen(), 1)
	assert.Equal(t, open.ID, second.ListOpen()[0].ID)

	next, err := second.Create(ctx, "order-3", 1000, domain.ChannelBankTransfer, 0)
	require.NoError(t, err)
	assert.Equal(t, "ZZ77", next.VerificationCode, "restored open code stays reserved")
}
