package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/loanledger/pkg/calendar"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/money"
	"github.com/mcclellann/loanledger/pkg/store"
)

// ValidateCheckpoint computes first_wired + settlement_total - advanced. The caller
// decides acceptance with CheckpointWithinTolerance.
func ValidateCheckpoint(advanced, firstWired, settlementTotal decimal.Decimal) decimal.Decimal {
	return firstWired.Add(settlementTotal).Sub(advanced)
}

// CheckpointWithinTolerance reports whether |checkpoint| is below one cent.
func CheckpointWithinTolerance(checkpoint decimal.Decimal) bool {
	return checkpoint.Abs().LessThan(money.CheckpointTolerance)
}

// NewLoan is a loan card together with the settlement charges booked at funding.
type NewLoan struct {
	CardNumber          string
	BorrowerID          uuid.UUID
	PropertyAddress     string
	AdvancedLoanAmount  decimal.Decimal
	AdvancedLoanInvoice string
	FirstWiredAmount    decimal.Decimal
	InitialInterestRate decimal.NullDecimal // Defaults to the ledger's configured rate
	FirstLoanDate       time.Time
	MaturityDate        *time.Time
	Status              models.LoanStatus // Defaults to active
	Notes               string
	Charges             []NewCharge
}

// NewCharge names its type by ID or, when the ID is nil, by catalog name.
type NewCharge struct {
	ChargeTypeID   uuid.UUID
	ChargeTypeName string
	Amount         decimal.Decimal
	InvoiceNumber  string
	Notes          string
}

// CheckpointReport is the funding identity evaluated against persisted state.
type CheckpointReport struct {
	CardNumber   string          `json:"card_number"`
	Checkpoint   decimal.Decimal `json:"checkpoint"`
	Valid        bool            `json:"valid"`
	ChargesTotal decimal.Decimal `json:"charges_total"`
	CachedTotal  decimal.Decimal `json:"cached_total"`
}

// LoanSummary is a list row with its integrity status.
type LoanSummary struct {
	*models.Loan
	Checkpoint      decimal.Decimal `json:"checkpoint"`
	CheckpointValid bool            `json:"checkpoint_valid"`
}

// CreateLoan validates the checkpoint before touching the store. A failing
// checkpoint returns *models.CheckpointError and nothing is written; otherwise the
// loan, its charges, the cached settlement total and the prepaid record commit together.
func (l *Ledger) CreateLoan(ctx context.Context, req NewLoan) (*models.Loan, error) {
	loan, err := l.buildLoan(req)
	if err != nil {
		return nil, err
	}

	amounts := make([]decimal.Decimal, 0, len(req.Charges))
	for i, c := range req.Charges {
		if err := money.ValidateAmount(c.Amount); err != nil {
			return nil, fmt.Errorf("charge %d: %w", i+1, err)
		}
		amounts = append(amounts, c.Amount)
	}

	checkpoint := ValidateCheckpoint(loan.AdvancedLoanAmount, loan.FirstWiredAmount, money.Sum(amounts...))
	if !CheckpointWithinTolerance(checkpoint) {
		l.metrics.CheckpointRejected()
		l.logger.Info("loan rejected by checkpoint",
			"card_number", loan.CardNumber,
			"checkpoint", checkpoint.StringFixed(2),
		)
		return nil, &models.CheckpointError{Checkpoint: checkpoint}
	}

	err = l.storage.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateLoan(ctx, loan); err != nil {
			return err
		}
		for _, c := range req.Charges {
			if _, err := l.createCharge(ctx, tx, loan.ID, c); err != nil {
				return err
			}
		}
		total, err := l.recomputeTotal(ctx, tx, loan.ID)
		if err != nil {
			return err
		}
		loan.SettlementChargesTotal = total
		_, err = l.amortizePrepaid(ctx, tx, loan.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create loan %s: %w", loan.CardNumber, err)
	}

	l.logger.Info("loan created",
		"card_number", loan.CardNumber,
		"advanced", loan.AdvancedLoanAmount.StringFixed(2),
		"charges", len(req.Charges),
	)
	return loan, nil
}

func (l *Ledger) buildLoan(req NewLoan) (*models.Loan, error) {
	card := strings.TrimSpace(req.CardNumber)
	if card == "" {
		return nil, fmt.Errorf("%w: card number is required", models.ErrInvalidRequest)
	}
	if req.BorrowerID == uuid.Nil {
		return nil, fmt.Errorf("%w: borrower is required", models.ErrInvalidRequest)
	}
	if req.FirstLoanDate.IsZero() {
		return nil, fmt.Errorf("%w: first loan date is required", models.ErrInvalidDate)
	}
	if err := money.ValidateAmount(req.AdvancedLoanAmount); err != nil {
		return nil, fmt.Errorf("advanced loan amount: %w", err)
	}
	if err := money.ValidateAmount(req.FirstWiredAmount); err != nil {
		return nil, fmt.Errorf("first wired amount: %w", err)
	}

	rate := l.defaultRate
	if req.InitialInterestRate.Valid {
		rate = req.InitialInterestRate.Decimal
	}
	if err := money.ValidateRate(rate); err != nil {
		return nil, err
	}

	status := req.Status
	if status == "" {
		status = models.LoanStatusActive
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidStatus, status)
	}

	var maturity *time.Time
	if req.MaturityDate != nil {
		m := calendar.DateOnly(*req.MaturityDate)
		if !m.After(calendar.DateOnly(req.FirstLoanDate)) {
			return nil, fmt.Errorf("%w: maturity date must be after the first loan date", models.ErrInvalidDate)
		}
		maturity = &m
	}

	ts := l.now()
	return &models.Loan{
		ID:                     uuid.New(),
		CardNumber:             card,
		BorrowerID:             req.BorrowerID,
		PropertyAddress:        req.PropertyAddress,
		AdvancedLoanAmount:     req.AdvancedLoanAmount,
		AdvancedLoanInvoice:    req.AdvancedLoanInvoice,
		FirstWiredAmount:       req.FirstWiredAmount,
		SettlementChargesTotal: decimal.Zero,
		InitialInterestRate:    rate,
		FirstLoanDate:          calendar.DateOnly(req.FirstLoanDate),
		MaturityDate:           maturity,
		Status:                 status,
		Notes:                  req.Notes,
		CreatedAt:              ts,
		UpdatedAt:              ts,
	}, nil
}

// LoanCheckpoint re-runs the checkpoint against the charges as currently persisted.
func (l *Ledger) LoanCheckpoint(ctx context.Context, cardNumber string) (*CheckpointReport, error) {
	loan, err := l.storage.GetLoanByCardNumber(ctx, cardNumber)
	if err != nil {
		return nil, err
	}
	total, err := l.storage.SumSettlementCharges(ctx, loan.ID)
	if err != nil {
		return nil, err
	}

	checkpoint := ValidateCheckpoint(loan.AdvancedLoanAmount, loan.FirstWiredAmount, total)
	return &CheckpointReport{
		CardNumber:   loan.CardNumber,
		Checkpoint:   checkpoint,
		Valid:        CheckpointWithinTolerance(checkpoint),
		ChargesTotal: total,
		CachedTotal:  loan.SettlementChargesTotal,
	}, nil
}

// ListLoans returns every loan, newest first, with its checkpoint status.
func (l *Ledger) ListLoans(ctx context.Context) ([]LoanSummary, error) {
	loans, err := l.storage.GetAllLoans(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]LoanSummary, 0, len(loans))
	for _, loan := range loans {
		summaries = append(summaries, LoanSummary{
			Loan:            loan,
			Checkpoint:      loan.Checkpoint(),
			CheckpointValid: loan.CheckpointValid(),
		})
	}
	return summaries, nil
}

func (l *Ledger) loanByCard(ctx context.Context, tx store.Tx, cardNumber string) (*models.Loan, error) {
	loan, err := tx.GetLoanByCardNumber(ctx, cardNumber)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("loan %q: %w", cardNumber, models.ErrNotFound)
	}
	return loan, err
}
