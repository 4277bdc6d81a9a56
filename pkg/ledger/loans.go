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

type NewBorrower struct {
	Name    string
	Email   string
	Phone   string
	Address string
	Notes   string
}

// NewDraw is supplemental funding. An unset InterestRate inherits the loan's initial rate.
type NewDraw struct {
	DrawDate      time.Time
	Amount        decimal.Decimal
	InterestRate  decimal.NullDecimal
	InvoiceNumber string
	DrawFee       decimal.Decimal
	InspectionFee decimal.Decimal
	Notes         string
}

type NewExtension struct {
	Months        int
	ExtensionFee  decimal.Decimal
	InterestRate  decimal.NullDecimal
	InvoiceNumber string
	Notes         string
}

// LoanUpdate edits loan card fields. Nil pointers are left unchanged. Amounts that
// feed the checkpoint are not editable.
type LoanUpdate struct {
	PropertyAddress     *string
	AdvancedLoanInvoice *string
	InitialInterestRate *decimal.Decimal
	MaturityDate        *time.Time
	ClearMaturityDate   bool
	Notes               *string
}

// LoanDetail is a loan card with every sub-ledger and the derived figures shown beside it.
type LoanDetail struct {
	Loan            *models.Loan                     `json:"loan"`
	Charges         []*models.SettlementCharge       `json:"settlement_charges"`
	Draws           []*models.Draw                   `json:"draws"`
	Extensions      []*models.Extension              `json:"extensions"`
	Schedule        []*models.InterestSchedulePeriod `json:"schedule"`
	Prepaid         *models.PrepaidInterest          `json:"prepaid_interest,omitempty"`
	Checkpoint      decimal.Decimal                  `json:"checkpoint"`
	CheckpointValid bool                             `json:"checkpoint_valid"`
	TotalFunded     decimal.Decimal                  `json:"total_funded"`
	MonthlyInterest decimal.Decimal                  `json:"monthly_interest"`
	InterestPosted  decimal.Decimal                  `json:"interest_posted"`
	ScheduleEndDate time.Time                        `json:"schedule_end_date"`
}

func (l *Ledger) CreateBorrower(ctx context.Context, req NewBorrower) (*models.Borrower, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: borrower name is required", models.ErrInvalidRequest)
	}
	ts := l.now()
	b := &models.Borrower{
		ID:        uuid.New(),
		Name:      name,
		Email:     strings.TrimSpace(req.Email),
		Phone:     strings.TrimSpace(req.Phone),
		Address:   req.Address,
		Notes:     req.Notes,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	if err := l.storage.CreateBorrower(ctx, b); err != nil {
		return nil, err
	}
	l.logger.Info("borrower created", "borrower_id", b.ID)
	return b, nil
}

func (l *Ledger) ListBorrowers(ctx context.Context) ([]*models.Borrower, error) {
	return l.storage.ListBorrowers(ctx)
}

// DeleteBorrower fails with models.ErrBorrowerInUse while the borrower has loans.
func (l *Ledger) DeleteBorrower(ctx context.Context, id uuid.UUID) error {
	return l.storage.WithTx(ctx, func(tx store.Tx) error {
		return tx.DeleteBorrower(ctx, id)
	})
}

func (l *Ledger) GetLoan(ctx context.Context, cardNumber string) (*models.Loan, error) {
	return l.loanByCard(ctx, l.storage, cardNumber)
}

// AddDraw records the next supplemental draw. Numbers start at 2 because draw 1 is
// the initial advance.
func (l *Ledger) AddDraw(ctx context.Context, cardNumber string, req NewDraw) (*models.Draw, error) {
	if req.DrawDate.IsZero() {
		return nil, fmt.Errorf("%w: draw date is required", models.ErrInvalidDate)
	}
	for _, a := range []decimal.Decimal{req.Amount, req.DrawFee, req.InspectionFee} {
		if err := money.ValidateAmount(a); err != nil {
			return nil, err
		}
	}
	if req.InterestRate.Valid {
		if err := money.ValidateRate(req.InterestRate.Decimal); err != nil {
			return nil, err
		}
	}

	var draw *models.Draw
	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		loan, err := l.loanByCard(ctx, tx, cardNumber)
		if err != nil {
			return err
		}
		last, err := tx.MaxDrawNumber(ctx, loan.ID)
		if err != nil {
			return err
		}
		rate := loan.InitialInterestRate
		if req.InterestRate.Valid {
			rate = req.InterestRate.Decimal
		}
		draw = &models.Draw{
			ID:            uuid.New(),
			LoanID:        loan.ID,
			DrawNumber:    max(last+1, models.FirstDrawNumber),
			DrawDate:      calendar.DateOnly(req.DrawDate),
			Amount:        req.Amount,
			InterestRate:  rate,
			InvoiceNumber: req.InvoiceNumber,
			DrawFee:       req.DrawFee,
			InspectionFee: req.InspectionFee,
			Notes:         req.Notes,
			CreatedAt:     l.now(),
		}
		return tx.CreateDraw(ctx, draw)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add draw: %w", err)
	}

	l.logger.Info("draw added",
		"card_number", cardNumber,
		"draw_number", draw.DrawNumber,
		"amount", draw.Amount.StringFixed(2),
	)
	return draw, nil
}

// AddExtension pushes the schedule end date out by req.Months.
func (l *Ledger) AddExtension(ctx context.Context, cardNumber string, req NewExtension) (*models.Extension, error) {
	if req.Months < 1 {
		return nil, fmt.Errorf("%w: extension months must be at least 1", models.ErrInvalidRequest)
	}
	if err := money.ValidateAmount(req.ExtensionFee); err != nil {
		return nil, err
	}
	if req.InterestRate.Valid {
		if err := money.ValidateRate(req.InterestRate.Decimal); err != nil {
			return nil, err
		}
	}

	var ext *models.Extension
	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		loan, err := l.loanByCard(ctx, tx, cardNumber)
		if err != nil {
			return err
		}
		last, err := tx.MaxExtensionNumber(ctx, loan.ID)
		if err != nil {
			return err
		}
		ext = &models.Extension{
			ID:              uuid.New(),
			LoanID:          loan.ID,
			ExtensionNumber: last + 1,
			Months:          req.Months,
			ExtensionFee:    req.ExtensionFee,
			InterestRate:    req.InterestRate,
			InvoiceNumber:   req.InvoiceNumber,
			Notes:           req.Notes,
			CreatedAt:       l.now(),
		}
		return tx.CreateExtension(ctx, ext)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add extension: %w", err)
	}

	l.logger.Info("extension added", "card_number", cardNumber, "extension_number", ext.ExtensionNumber, "months", ext.Months)
	return ext, nil
}

// UpdateLoan edits the descriptive fields and rate of a loan card.
func (l *Ledger) UpdateLoan(ctx context.Context, cardNumber string, req LoanUpdate) (*models.Loan, error) {
	if req.InitialInterestRate != nil {
		if err := money.ValidateRate(*req.InitialInterestRate); err != nil {
			return nil, err
		}
	}

	var loan *models.Loan
	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if loan, err = l.loanByCard(ctx, tx, cardNumber); err != nil {
			return err
		}
		if req.PropertyAddress != nil {
			loan.PropertyAddress = *req.PropertyAddress
		}
		if req.AdvancedLoanInvoice != nil {
			loan.AdvancedLoanInvoice = *req.AdvancedLoanInvoice
		}
		if req.InitialInterestRate != nil {
			loan.InitialInterestRate = *req.InitialInterestRate
		}
		if req.Notes != nil {
			loan.Notes = *req.Notes
		}
		switch {
		case req.ClearMaturityDate:
			loan.MaturityDate = nil
		case req.MaturityDate != nil:
			m := calendar.DateOnly(*req.MaturityDate)
			if !m.After(loan.FirstLoanDate) {
				return fmt.Errorf("%w: maturity date must be after the first loan date", models.ErrInvalidDate)
			}
			loan.MaturityDate = &m
		}
		loan.UpdatedAt = l.now()
		if err := tx.UpdateLoan(ctx, loan); err != nil {
			return err
		}
		// The prepaid month count depends on the rate.
		_, err = l.amortizePrepaid(ctx, tx, loan.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update loan: %w", err)
	}
	return loan, nil
}

func (l *Ledger) ChangeLoanStatus(ctx context.Context, cardNumber string, status models.LoanStatus) (*models.Loan, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidStatus, status)
	}

	var loan *models.Loan
	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if loan, err = l.loanByCard(ctx, tx, cardNumber); err != nil {
			return err
		}
		loan.Status = status
		loan.UpdatedAt = l.now()
		return tx.UpdateLoan(ctx, loan)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to change loan status: %w", err)
	}

	l.logger.Info("loan status changed", "card_number", cardNumber, "status", status)
	return loan, nil
}

// DeleteLoan removes the loan card and, by cascade, everything it owns.
func (l *Ledger) DeleteLoan(ctx context.Context, cardNumber string) error {
	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		loan, err := l.loanByCard(ctx, tx, cardNumber)
		if err != nil {
			return err
		}
		return tx.DeleteLoan(ctx, loan.ID)
	})
	if err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}
	l.logger.Info("loan deleted", "card_number", cardNumber)
	return nil
}

func (l *Ledger) GetLoanDetail(ctx context.Context, cardNumber string) (*LoanDetail, error) {
	loan, err := l.loanByCard(ctx, l.storage, cardNumber)
	if err != nil {
		return nil, err
	}
	charges, err := l.storage.GetSettlementChargesForLoan(ctx, loan.ID)
	if err != nil {
		return nil, err
	}
	draws, extensions, periods, err := loadAccrualInputs(ctx, l.storage, loan.ID)
	if err != nil {
		return nil, err
	}
	prepaid, err := l.storage.GetPrepaidInterest(ctx, loan.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	if prepaid != nil {
		prepaid.Remainder = CoverPrepaid(prepaid.InitialAmount, loan.FirstWiredAmount, loan.InitialInterestRate).Remainder
	}

	return &LoanDetail{
		Loan:            loan,
		Charges:         charges,
		Draws:           draws,
		Extensions:      extensions,
		Schedule:        periods,
		Prepaid:         prepaid,
		Checkpoint:      loan.Checkpoint(),
		CheckpointValid: loan.CheckpointValid(),
		TotalFunded:     loan.TotalFunded(draws),
		MonthlyInterest: l.PeriodInterest(loan, draws, extensions, l.now()),
		InterestPosted:  postedTotal(periods),
		ScheduleEndDate: l.ScheduleEndDate(loan, extensions),
	}, nil
}

// SearchInvoices finds invoice numbers containing query across every sub-ledger.
func (l *Ledger) SearchInvoices(ctx context.Context, query string) ([]*models.InvoiceMatch, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: search query is required", models.ErrInvalidRequest)
	}
	return l.storage.SearchInvoices(ctx, query)
}
