package payments

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransferer struct {
	mu      sync.Mutex
	height  uint64
	err     error
	amounts []decimal.Decimal
}

func (f *fakeTransferer) Transfer(_ context.Context, _ string, amount decimal.Decimal) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.height++
	f.amounts = append(f.amounts, amount)
	return f.height, nil
}

type fakePoster struct {
	id  string
	err error

	entities []string
}

func (f *fakePoster) Send(_ context.Context, entity string, _ uint64) (string, error) {
	f.entities = append(f.entities, entity)
	return f.id, f.err
}

func newTestLedger(t *testing.T, tr Transferer, opts ...Option) *Ledger {
	t.Helper()
	l, err := NewLedger(Config{TicketPrice: decimal.RequireFromString("0.25")}, tr, opts...)
	require.NoError(t, err)
	return l
}

func TestPrice(t *testing.T) {
	l := newTestLedger(t, &fakeTransferer{})

	tests := []struct {
		count uint64
		want  string
	}{
		{0, "0"},
		{1, "0.25"},
		{3, "0.75"},
		{1_000_000, "250000"},
		{1 << 63, "2305843009213693952"},
		{math.MaxUint64, "4611686018427387903.75"},
	}
	for _, tt := range tests {
		assert.True(t, decimal.RequireFromString(tt.want).Equal(l.Price(tt.count)),
			"Price(%d) = %s, want %s", tt.count, l.Price(tt.count), tt.want)
	}
}

func TestValidateTicketCount(t *testing.T) {
	tests := []struct {
		count   uint64
		wantErr bool
	}{
		{0, true},
		{MinTickets, false},
		{MaxTickets, false},
		{MaxTickets + 1, true},
		{math.MaxUint64, true},
	}
	for _, tt := range tests {
		err := ValidateTicketCount(tt.count)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidTicketCount, "count %d", tt.count)
		} else {
			assert.NoError(t, err, "count %d", tt.count)
		}
	}
}

func TestRegister_ValidatesTicketCount(t *testing.T) {
	tr := &fakeTransferer{}
	l := newTestLedger(t, tr)

	for _, count := range []uint64{0, MaxTickets + 1} {
		_, err := l.Register(context.Background(), "payer", count)
		assert.ErrorIs(t, err, ErrInvalidTicketCount, "count %d", count)
	}
	assert.Empty(t, tr.amounts, "invalid purchases must not transfer")
	assert.Empty(t, l.Purchases())

	_, err := l.Register(context.Background(), "payer", MaxTickets)
	assert.NoError(t, err)
}

func TestRegister_RecordsPayment(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := &fakeTransferer{}
	poster := &fakePoster{id: "contrib-1"}
	l := newTestLedger(t, tr, WithContributionPoster(poster), WithClock(func() time.Time { return now }))

	p, err := l.Register(context.Background(), "client-a", 4)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), p.ID)
	assert.Equal(t, uint64(1), p.BlockHeight)
	assert.Equal(t, "client-a", p.Payer)
	assert.Equal(t, uint64(4), p.TicketCount)
	assert.Equal(t, "contrib-1", p.ContributionID)
	assert.Equal(t, now, p.CreatedAt)
	assert.True(t, p.Amount().Equal(decimal.NewFromInt(1)))
	require.Len(t, tr.amounts, 1)
	assert.True(t, tr.amounts[0].Equal(decimal.NewFromInt(1)))
	assert.Equal(t, []string{"client-a"}, poster.entities)

	p2, err := l.Register(context.Background(), "client-b", 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), p2.ID)
}

func TestRegister_TransferFailure(t *testing.T) {
	boom := errors.New("insufficient allowance")
	l := newTestLedger(t, &fakeTransferer{err: boom})

	_, err := l.Register(context.Background(), "payer", 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, l.Purchases())
}

func TestRegister_ContributionFailureKeepsPayment(t *testing.T) {
	poster := &fakePoster{err: errors.New("contribution api down")}
	l := newTestLedger(t, &fakeTransferer{}, WithContributionPoster(poster))

	p, err := l.Register(context.Background(), "payer", 2)
	require.NoError(t, err)
	assert.Empty(t, p.ContributionID)
	assert.Len(t, l.Purchases(), 1)
}

func TestPurchases_DoesNotDrain(t *testing.T) {
	l := newTestLedger(t, &fakeTransferer{})
	_, err := l.Register(context.Background(), "a", 1)
	require.NoError(t, err)
	_, err = l.Register(context.Background(), "b", 2)
	require.NoError(t, err)

	first := l.Purchases()
	second := l.Purchases()
	assert.Len(t, first, 2)
	assert.Equal(t, first, second)

	first[0].Payer = "mutated"
	assert.Equal(t, "a", l.Purchases()[0].Payer, "returned slice is a copy")

	byB := l.PurchasesBy("b")
	require.Len(t, byB, 1)
	assert.Equal(t, uint64(2), byB[0].TicketCount)
}

func TestOffsetBudget(t *testing.T) {
	l := newTestLedger(t, &fakeTransferer{})
	payments := []Payment{{TicketCount: 3}, {TicketCount: 7}}
	assert.InDelta(t, 10.0, l.OffsetBudget(payments), 1e-12)
	assert.Zero(t, l.OffsetBudget(nil))

	heavy, err := NewLedger(Config{KgPerTicket: 2.5}, &fakeTransferer{})
	require.NoError(t, err)
	assert.InDelta(t, 25.0, heavy.OffsetBudget(payments), 1e-12)
}

func TestNewLedger_Validation(t *testing.T) {
	_, err := NewLedger(Config{}, nil)
	assert.Error(t, err)

	_, err = NewLedger(Config{TicketPrice: decimal.NewFromInt(-1)}, &fakeTransferer{})
	assert.Error(t, err)
}

func TestRegister_Concurrent(t *testing.T) {
	l := newTestLedger(t, &fakeTransferer{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Register(context.Background(), "payer", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for _, p := range l.Purchases() {
		assert.False(t, seen[p.ID], "duplicate id %d", p.ID)
		seen[p.ID] = true
	}
	assert.Len(t, seen, 20)
}

func TestTrustedTransferer(t *testing.T) {
	tr := NewTrustedTransferer(100)

	h, err := tr.Transfer(context.Background(), "payer", decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.Equal(t, uint64(101), h)

	h, err = tr.Transfer(context.Background(), "payer", decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, uint64(102), h)

	_, err = tr.Transfer(context.Background(), "", decimal.NewFromInt(1))
	assert.Error(t, err)

	_, err = tr.Transfer(context.Background(), "payer", decimal.NewFromInt(-1))
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.Transfer(ctx, "payer", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, context.Canceled)
}
