package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/loanledger/pkg/models"
)

// Tx is the set of reads and writes available both on the store and inside a transaction.
// Writes against posted interest periods are rejected with models.ErrPeriodImmutable.
type Tx interface {
	CreateBorrower(ctx context.Context, b *models.Borrower) error
	GetBorrower(ctx context.Context, id uuid.UUID) (*models.Borrower, error)
	ListBorrowers(ctx context.Context) ([]*models.Borrower, error)
	DeleteBorrower(ctx context.Context, id uuid.UUID) error

	CreateChargeType(ctx context.Context, ct *models.SettlementChargeType) error
	GetChargeType(ctx context.Context, id uuid.UUID) (*models.SettlementChargeType, error)
	GetChargeTypeByName(ctx context.Context, name string) (*models.SettlementChargeType, error)
	ListChargeTypes(ctx context.Context, activeOnly bool) ([]*models.SettlementChargeType, error)
	DeleteChargeType(ctx context.Context, id uuid.UUID) error

	CreateLoan(ctx context.Context, loan *models.Loan) error
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	GetLoanByCardNumber(ctx context.Context, cardNumber string) (*models.Loan, error)
	UpdateLoan(ctx context.Context, loan *models.Loan) error
	UpdateSettlementChargesTotal(ctx context.Context, loanID uuid.UUID, total decimal.Decimal) error
	DeleteLoan(ctx context.Context, id uuid.UUID) error
	GetAllLoans(ctx context.Context) ([]*models.Loan, error)

	CreateSettlementCharge(ctx context.Context, c *models.SettlementCharge) error
	GetSettlementCharge(ctx context.Context, id uuid.UUID) (*models.SettlementCharge, error)
	UpdateSettlementCharge(ctx context.Context, c *models.SettlementCharge) error
	DeleteSettlementCharge(ctx context.Context, id uuid.UUID) error
	GetSettlementChargesForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.SettlementCharge, error)
	SumSettlementCharges(ctx context.Context, loanID uuid.UUID) (decimal.Decimal, error)
	LatestChargeOfType(ctx context.Context, loanID uuid.UUID, typeName string) (*models.SettlementCharge, error)

	CreateDraw(ctx context.Context, d *models.Draw) error
	GetDrawsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Draw, error)
	MaxDrawNumber(ctx context.Context, loanID uuid.UUID) (int, error)

	CreateExtension(ctx context.Context, e *models.Extension) error
	GetExtensionsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Extension, error)
	MaxExtensionNumber(ctx context.Context, loanID uuid.UUID) (int, error)

	CreatePeriod(ctx context.Context, p *models.InterestSchedulePeriod) error
	GetPeriod(ctx context.Context, id uuid.UUID) (*models.InterestSchedulePeriod, error)
	GetPeriodsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.InterestSchedulePeriod, error)
	UpdateOpenPeriod(ctx context.Context, p *models.InterestSchedulePeriod) error
	MarkPeriodPosted(ctx context.Context, p *models.InterestSchedulePeriod) error
	DeleteOpenPeriod(ctx context.Context, id uuid.UUID) error

	UpsertPrepaidInterest(ctx context.Context, p *models.PrepaidInterest) (created bool, err error)
	GetPrepaidInterest(ctx context.Context, loanID uuid.UUID) (*models.PrepaidInterest, error)
	DeletePrepaidInterest(ctx context.Context, loanID uuid.UUID) error

	SearchInvoices(ctx context.Context, query string) ([]*models.InvoiceMatch, error)
}

// Storage defines the interface for database operations related to loans and their sub-ledgers.
type Storage interface {
	Tx

	// WithTx runs fn in a single transaction. fn's error rolls everything back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}
