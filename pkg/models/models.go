package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/loanledger/pkg/calendar"
	"github.com/mcclellann/loanledger/pkg/money"
)

// DefaultPrepaidChargeName is the charge type whose amount is amortized into prepaid interest.
const DefaultPrepaidChargeName = "Prepaid Interest"

type Borrower struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	LoanCount int       `json:"loan_count"` // Filled by list queries only
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SettlementChargeType is shared reference data. A type referenced by any charge cannot be deleted.
type SettlementChargeType struct {
	ID            uuid.UUID       `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	DisplayOrder  int             `json:"display_order"`
	IsActive      bool            `json:"is_active"`
	IsRequired    bool            `json:"is_required"`
	DefaultAmount decimal.Decimal `json:"default_amount"`
	CreatedAt     time.Time       `json:"created_at"`
}

type LoanStatus string

const (
	LoanStatusPending   LoanStatus = "pending"
	LoanStatusActive    LoanStatus = "active"
	LoanStatusClosed    LoanStatus = "closed"
	LoanStatusDefaulted LoanStatus = "defaulted"
)

// Valid reports whether s is one of the known lifecycle states.
func (s LoanStatus) Valid() bool {
	switch s {
	case LoanStatusPending, LoanStatusActive, LoanStatusClosed, LoanStatusDefaulted:
		return true
	}
	return false
}

// Loan is the loan card, the aggregate root for every other ledger record.
type Loan struct {
	ID                     uuid.UUID       `json:"id"`
	CardNumber             string          `json:"card_number"`
	BorrowerID             uuid.UUID       `json:"borrower_id"`
	PropertyAddress        string          `json:"property_address,omitempty"`
	AdvancedLoanAmount     decimal.Decimal `json:"advanced_loan_amount"` // Debt the borrower signed for
	AdvancedLoanInvoice    string          `json:"advanced_loan_invoice,omitempty"`
	FirstWiredAmount       decimal.Decimal `json:"first_wired_amount"`       // Cash actually disbursed
	SettlementChargesTotal decimal.Decimal `json:"settlement_charges_total"` // Cached sum of settlement charges
	InitialInterestRate    decimal.Decimal `json:"initial_interest_rate"`
	FirstLoanDate          time.Time       `json:"first_loan_date"`
	MaturityDate           *time.Time      `json:"maturity_date,omitempty"`
	Status                 LoanStatus      `json:"status"`
	Notes                  string          `json:"notes,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// Checkpoint is first_wired + settlement_total - advanced, which must be zero for a consistent loan.
func (l *Loan) Checkpoint() decimal.Decimal {
	return l.FirstWiredAmount.Add(l.SettlementChargesTotal).Sub(l.AdvancedLoanAmount)
}

func (l *Loan) CheckpointValid() bool {
	return l.Checkpoint().Abs().LessThan(money.CheckpointTolerance)
}

// MonthlyInterestForInitial is the unrounded monthly interest on the first wired amount.
func (l *Loan) MonthlyInterestForInitial() decimal.Decimal {
	return money.MonthlyInterest(l.FirstWiredAmount, l.InitialInterestRate)
}

// TotalFunded is the advanced amount plus every supplemental draw.
func (l *Loan) TotalFunded(draws []*Draw) decimal.Decimal {
	total := l.AdvancedLoanAmount
	for _, d := range draws {
		total = total.Add(d.Amount)
	}
	return total
}

type SettlementCharge struct {
	ID            uuid.UUID       `json:"id"`
	LoanID        uuid.UUID       `json:"loan_id"`
	ChargeTypeID  uuid.UUID       `json:"charge_type_id"`
	ChargeType    string          `json:"charge_type"` // Type name, joined on read
	Amount        decimal.Decimal `json:"amount"`
	InvoiceNumber string          `json:"invoice_number,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Draw is supplemental funding after the initial advance. Draw 1 is the advance itself,
// so stored draws are numbered from 2.
type Draw struct {
	ID            uuid.UUID       `json:"id"`
	LoanID        uuid.UUID       `json:"loan_id"`
	DrawNumber    int             `json:"draw_number"`
	DrawDate      time.Time       `json:"draw_date"`
	Amount        decimal.Decimal `json:"amount"`
	InterestRate  decimal.Decimal `json:"interest_rate"`
	InvoiceNumber string          `json:"invoice_number,omitempty"`
	DrawFee       decimal.Decimal `json:"draw_fee"`
	InspectionFee decimal.Decimal `json:"inspection_fee"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

const FirstDrawNumber = 2

func (d *Draw) MonthlyInterest() decimal.Decimal {
	return money.MonthlyInterest(d.Amount, d.InterestRate)
}

type Extension struct {
	ID              uuid.UUID           `json:"id"`
	LoanID          uuid.UUID           `json:"loan_id"`
	ExtensionNumber int                 `json:"extension_number"`
	Months          int                 `json:"months"`
	ExtensionFee    decimal.Decimal     `json:"extension_fee"`
	InterestRate    decimal.NullDecimal `json:"interest_rate"` // Optional override for the extended months
	InvoiceNumber   string              `json:"invoice_number,omitempty"`
	Notes           string              `json:"notes,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

type PeriodType string

const (
	PeriodTypeDaily   PeriodType = "daily"
	PeriodTypeMonthly PeriodType = "monthly"
)

// DailyPeriodNumber is the fixed number of the partial-month stub period.
const DailyPeriodNumber = 0

// InterestSchedulePeriod is one accrual billing unit. Once posted it is immutable.
type InterestSchedulePeriod struct {
	ID               uuid.UUID           `json:"id"`
	LoanID           uuid.UUID           `json:"loan_id"`
	PeriodType       PeriodType          `json:"period_type"`
	PeriodNumber     int                 `json:"period_number"`
	ChargeDate       time.Time           `json:"charge_date"`
	CalculatedAmount decimal.Decimal     `json:"calculated_amount"`
	AdjustedAmount   decimal.NullDecimal `json:"adjusted_amount"`
	IsPosted         bool                `json:"is_posted"`
	ReceivedDate     *time.Time          `json:"received_date,omitempty"`
	InvoiceNumber    string              `json:"invoice_number,omitempty"`
	PaymentSource    string              `json:"payment_source,omitempty"`
	PostedAt         *time.Time          `json:"posted_at,omitempty"`
	PostedBy         string              `json:"posted_by,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// EffectiveAmount is the manual adjustment when present, otherwise the calculated amount.
func (p *InterestSchedulePeriod) EffectiveAmount() decimal.Decimal {
	if p.AdjustedAmount.Valid {
		return p.AdjustedAmount.Decimal
	}
	return p.CalculatedAmount
}

func (p *InterestSchedulePeriod) IsPaid() bool {
	return p.ReceivedDate != nil
}

// PrepaidInterest is derived from the newest prepaid-interest settlement charge; one per loan.
type PrepaidInterest struct {
	ID                 uuid.UUID       `json:"id"`
	LoanID             uuid.UUID       `json:"loan_id"`
	SettlementChargeID uuid.UUID       `json:"settlement_charge_id"`
	InitialAmount      decimal.Decimal `json:"initial_amount"`
	RemainingBalance   decimal.Decimal `json:"remaining_balance"`
	MonthsCovered      int             `json:"months_covered"`
	MonthlyAmount      decimal.Decimal `json:"monthly_amount"`
	Remainder          decimal.Decimal `json:"remainder"` // Not persisted
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// MonthsRemaining is how many whole months the remaining balance still covers.
func (p *PrepaidInterest) MonthsRemaining() int {
	if !p.MonthlyAmount.IsPositive() {
		return 0
	}
	return int(p.RemainingBalance.Div(p.MonthlyAmount).Floor().IntPart())
}

// InvoiceMatch is one hit of an invoice-number search.
type InvoiceMatch struct {
	Source        string    `json:"source"` // loan, settlement_charge, draw or interest_schedule
	CardNumber    string    `json:"card_number"`
	InvoiceNumber string    `json:"invoice_number"`
	RecordID      uuid.UUID `json:"record_id"`
}

// ChargeDateString is a convenience for logs and JSON-free callers.
func (p *InterestSchedulePeriod) ChargeDateString() string {
	return calendar.Format(p.ChargeDate)
}
