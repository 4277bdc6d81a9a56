package ledger

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mcclellann/loanledger/pkg/metrics"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/store"
)

const defaultTermMonths = 12

// Ledger handles the business logic for loan cards and their sub-ledgers.
// Every mutating operation runs in a single store transaction.
type Ledger struct {
	storage store.Storage
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	prepaidChargeName string
	termMonths        int
	defaultRate       decimal.Decimal
}

type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithMetrics records anomalies, postings and schedule growth. Nil disables recording.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithPrepaidChargeName sets the charge type that feeds the prepaid amortizer.
func WithPrepaidChargeName(name string) Option {
	return func(l *Ledger) {
		if name != "" {
			l.prepaidChargeName = name
		}
	}
}

// WithDefaultTerm sets the term used when a loan has no maturity date.
func WithDefaultTerm(months int) Option {
	return func(l *Ledger) {
		if months > 0 {
			l.termMonths = months
		}
	}
}

// WithDefaultRate sets the rate applied to loans and draws created without one.
func WithDefaultRate(rate decimal.Decimal) Option {
	return func(l *Ledger) { l.defaultRate = rate }
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts ...Option) *Ledger {
	l := &Ledger{
		storage:           s,
		logger:            slog.Default(),
		now:               func() time.Time { return time.Now().UTC() },
		prepaidChargeName: models.DefaultPrepaidChargeName,
		termMonths:        defaultTermMonths,
		defaultRate:       decimal.RequireFromString("0.13"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}
