// Package payments records offset ticket purchases and turns them into
// offset budgets.
package payments

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	// MinTickets and MaxTickets bound the ticket count of one purchase.
	MinTickets uint64 = 1
	MaxTickets uint64 = 1_000_000

	// DefaultKgPerTicket is the carbon (kg) one ticket offsets. Contributions
	// are denominated in kilos, so one ticket is one kilo.
	DefaultKgPerTicket = 1.0
)

var (
	// ErrInvalidTicketCount is returned for counts outside [MinTickets, MaxTickets].
	ErrInvalidTicketCount = errors.New("invalid ticket count")

	// ErrTransferFailed wraps errors from the Transferer.
	ErrTransferFailed = errors.New("payment transfer failed")
)

// Transferer moves amount from payer to the offset wallet and returns the
// block height of the settled transfer.
type Transferer interface {
	Transfer(ctx context.Context, payer string, amount decimal.Decimal) (uint64, error)
}

// ContributionPoster records a prepaid contribution of amount kilos on
// behalf of entity and returns its id.
type ContributionPoster interface {
	Send(ctx context.Context, entity string, amount uint64) (string, error)
}

// Payment is one settled ticket purchase.
type Payment struct {
	ID             uint64          `json:"id"`
	BlockHeight    uint64          `json:"block_height"`
	Payer          string          `json:"payer"`
	TicketCount    uint64          `json:"ticket_count"`
	TicketPrice    decimal.Decimal `json:"ticket_price"`
	ContributionID string          `json:"contribution_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Amount is the price paid for the purchase.
func (p Payment) Amount() decimal.Decimal {
	return p.TicketPrice.Mul(decimal.NewFromInt(int64(p.TicketCount)))
}

// Config configures a Ledger.
type Config struct {
	// TicketPrice is the price of one ticket in the wallet's token units.
	TicketPrice decimal.Decimal `yaml:"ticket_price"`

	// KgPerTicket is the carbon one ticket offsets (default: 1).
	KgPerTicket float64 `yaml:"kg_per_ticket"`
}

// Option configures optional Ledger collaborators.
type Option func(*Ledger)

// WithContributionPoster posts a contribution for every registered payment.
func WithContributionPoster(p ContributionPoster) Option {
	return func(l *Ledger) { l.poster = p }
}

// WithLogger sets the ledger's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithClock overrides the clock used to stamp payments.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Ledger prices tickets, settles purchases and keeps the payments.
type Ledger struct {
	ticketPrice decimal.Decimal
	kgPerTicket float64
	transferer  Transferer
	poster      ContributionPoster
	logger      zerolog.Logger
	now         func() time.Time

	mu       sync.RWMutex
	nextID   uint64
	payments []Payment
}

// NewLedger creates a Ledger settling through transferer.
func NewLedger(cfg Config, transferer Transferer, opts ...Option) (*Ledger, error) {
	if transferer == nil {
		return nil, errors.New("payments ledger requires a transferer")
	}
	if cfg.TicketPrice.IsNegative() {
		return nil, fmt.Errorf("ticket price %s must not be negative", cfg.TicketPrice)
	}
	if cfg.KgPerTicket <= 0 {
		cfg.KgPerTicket = DefaultKgPerTicket
	}

	l := &Ledger{
		ticketPrice: cfg.TicketPrice,
		kgPerTicket: cfg.KgPerTicket,
		transferer:  transferer,
		logger:      zerolog.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// TicketPrice returns the price of one ticket.
func (l *Ledger) TicketPrice() decimal.Decimal {
	return l.ticketPrice
}

// Price returns the price of count tickets. It does not check count
// against the purchase bounds; see ValidateTicketCount.
func (l *Ledger) Price(count uint64) decimal.Decimal {
	return l.ticketPrice.Mul(decimal.NewFromBigInt(new(big.Int).SetUint64(count), 0))
}

// ValidateTicketCount returns ErrInvalidTicketCount unless count lies in
// [MinTickets, MaxTickets].
func ValidateTicketCount(count uint64) error {
	if count < MinTickets || count > MaxTickets {
		return fmt.Errorf("%d tickets (want %d..%d): %w", count, MinTickets, MaxTickets, ErrInvalidTicketCount)
	}
	return nil
}

// Register settles a purchase of count tickets by payer and records it.
//
// The transfer is the point of no return: once it succeeds the payment is
// stored even if posting the contribution fails, in which case the payment
// carries no ContributionID and the failure is logged.
func (l *Ledger) Register(ctx context.Context, payer string, count uint64) (Payment, error) {
	if err := ValidateTicketCount(count); err != nil {
		return Payment{}, fmt.Errorf("register payment: %w", err)
	}

	amount := l.Price(count)
	height, err := l.transferer.Transfer(ctx, payer, amount)
	if err != nil {
		return Payment{}, fmt.Errorf("register payment: %w: %w", ErrTransferFailed, err)
	}

	p := Payment{
		BlockHeight: height,
		Payer:       payer,
		TicketCount: count,
		TicketPrice: l.ticketPrice,
		CreatedAt:   l.now(),
	}

	if l.poster != nil {
		id, err := l.poster.Send(ctx, payer, count)
		if err != nil {
			l.logger.Warn().
				Err(err).
				Str("payer", payer).
				Uint64("block_height", height).
				Msg("payment settled but contribution was not recorded")
		} else {
			p.ContributionID = id
		}
	}

	l.mu.Lock()
	l.nextID++
	p.ID = l.nextID
	l.payments = append(l.payments, p)
	l.mu.Unlock()

	l.logger.Info().
		Uint64("payment_id", p.ID).
		Str("payer", payer).
		Uint64("ticket_count", count).
		Str("amount", amount.String()).
		Uint64("block_height", height).
		Msg("payment registered")
	return p, nil
}

// Purchases returns a copy of every recorded payment in registration order.
func (l *Ledger) Purchases() []Payment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Payment, len(l.payments))
	copy(out, l.payments)
	return out
}

// PurchasesBy returns the payments made by payer.
func (l *Ledger) PurchasesBy(payer string) []Payment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Payment
	for _, p := range l.payments {
		if p.Payer == payer {
			out = append(out, p)
		}
	}
	return out
}

// OffsetBudget converts payments into an offset budget in kg.
func (l *Ledger) OffsetBudget(payments []Payment) float64 {
	var tickets uint64
	for _, p := range payments {
		tickets += p.TicketCount
	}
	return float64(tickets) * l.kgPerTicket
}
