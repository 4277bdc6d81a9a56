package ledger

import (
	"context"
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

// ScheduleResult counts what a generation run did. Only Created is the new-period count;
// Updated periods were open and recalculated, Skipped periods were posted and left alone.
type ScheduleResult struct {
	Created int       `json:"created_count"`
	Updated int       `json:"updated_count"`
	Skipped int       `json:"skipped_count"`
	EndDate time.Time `json:"end_date"`
}

// ScheduleView is a loan's schedule with running totals of effective amounts.
type ScheduleView struct {
	CardNumber  string                           `json:"card_number"`
	EndDate     time.Time                        `json:"end_date"`
	Periods     []*models.InterestSchedulePeriod `json:"periods"`
	Total       decimal.Decimal                  `json:"total"`
	TotalPosted decimal.Decimal                  `json:"total_posted"`
	TotalOpen   decimal.Decimal                  `json:"total_open"`
}

// PeriodUpdate edits an open period. Empty ChargeDate keeps the date; a nil pointer keeps
// the field and an empty AdjustedAmount clears the adjustment.
type PeriodUpdate struct {
	ChargeDate     string
	AdjustedAmount *string
	InvoiceNumber  *string
}

// GenerateSchedule builds or refreshes the monthly schedule from the funding date to the
// end date in one transaction. Posted periods are never touched, open periods are
// recalculated in place and missing periods are created, so re-running is idempotent.
func (l *Ledger) GenerateSchedule(ctx context.Context, cardNumber string) (ScheduleResult, error) {
	var res ScheduleResult
	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		loan, err := l.loanByCard(ctx, tx, cardNumber)
		if err != nil {
			return err
		}
		draws, extensions, periods, err := loadAccrualInputs(ctx, tx, loan.ID)
		if err != nil {
			return err
		}

		monthly := make(map[int]*models.InterestSchedulePeriod, len(periods))
		for _, p := range periods {
			if p.PeriodType == models.PeriodTypeMonthly {
				monthly[p.PeriodNumber] = p
			}
		}

		res = ScheduleResult{EndDate: l.ScheduleEndDate(loan, extensions)}
		ts := l.now()
		for n := 1; ; n++ {
			chargeDate := chargeDateFor(loan, n)
			if chargeDate.After(res.EndDate) {
				break
			}
			amount := l.PeriodInterest(loan, draws, extensions, chargeDate)

			existing, ok := monthly[n]
			switch {
			case ok && existing.IsPosted:
				res.Skipped++
			case ok:
				existing.ChargeDate = chargeDate
				existing.CalculatedAmount = amount
				existing.UpdatedAt = ts
				if err := tx.UpdateOpenPeriod(ctx, existing); err != nil {
					return err
				}
				res.Updated++
			default:
				p := &models.InterestSchedulePeriod{
					ID:               uuid.New(),
					LoanID:           loan.ID,
					PeriodType:       models.PeriodTypeMonthly,
					PeriodNumber:     n,
					ChargeDate:       chargeDate,
					CalculatedAmount: amount,
					CreatedAt:        ts,
					UpdatedAt:        ts,
				}
				if err := tx.CreatePeriod(ctx, p); err != nil {
					return err
				}
				res.Created++
			}
		}
		return nil
	})
	if err != nil {
		return ScheduleResult{}, fmt.Errorf("failed to generate schedule: %w", err)
	}

	l.metrics.PeriodsCreatedAdd(res.Created)
	l.logger.Info("interest schedule generated",
		"card_number", cardNumber,
		"created", res.Created,
		"updated", res.Updated,
		"skipped", res.Skipped,
		"end_date", calendar.Format(res.EndDate),
	)
	return res, nil
}

// AddDailyPeriod creates or refreshes the loan's partial-month stub ending on stubDate.
// It accrues actual/365 from the last monthly charge date before stubDate, or from the
// funding date when no monthly period precedes it.
func (l *Ledger) AddDailyPeriod(ctx context.Context, cardNumber, stubDate string) (*models.InterestSchedulePeriod, error) {
	stub, err := calendar.ParseDate(stubDate)
	if err != nil {
		return nil, err
	}

	var period *models.InterestSchedulePeriod
	err = l.storage.WithTx(ctx, func(tx store.Tx) error {
		loan, err := l.loanByCard(ctx, tx, cardNumber)
		if err != nil {
			return err
		}
		if !stub.After(loan.FirstLoanDate) {
			return fmt.Errorf("%w: stub date must be after the first loan date", models.ErrInvalidDate)
		}
		draws, extensions, periods, err := loadAccrualInputs(ctx, tx, loan.ID)
		if err != nil {
			return err
		}

		start := loan.FirstLoanDate
		for _, p := range periods {
			if p.PeriodType == models.PeriodTypeDaily {
				period = p
				continue
			}
			if p.ChargeDate.Before(stub) && p.ChargeDate.After(start) {
				start = p.ChargeDate
			}
		}
		amount := l.StubInterest(loan, draws, extensions, start, stub)

		ts := l.now()
		if period != nil {
			if period.IsPosted {
				return fmt.Errorf("daily period: %w", models.ErrPeriodImmutable)
			}
			period.ChargeDate = stub
			period.CalculatedAmount = amount
			period.UpdatedAt = ts
			return tx.UpdateOpenPeriod(ctx, period)
		}
		period = &models.InterestSchedulePeriod{
			ID:               uuid.New(),
			LoanID:           loan.ID,
			PeriodType:       models.PeriodTypeDaily,
			PeriodNumber:     models.DailyPeriodNumber,
			ChargeDate:       stub,
			CalculatedAmount: amount,
			CreatedAt:        ts,
			UpdatedAt:        ts,
		}
		return tx.CreatePeriod(ctx, period)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add daily period: %w", err)
	}

	l.logger.Info("daily period recorded",
		"card_number", cardNumber,
		"charge_date", period.ChargeDateString(),
		"amount", period.CalculatedAmount.StringFixed(2),
	)
	return period, nil
}

func (l *Ledger) ListSchedule(ctx context.Context, cardNumber string) (*ScheduleView, error) {
	loan, err := l.loanByCard(ctx, l.storage, cardNumber)
	if err != nil {
		return nil, err
	}
	periods, err := l.storage.GetPeriodsForLoan(ctx, loan.ID)
	if err != nil {
		return nil, err
	}
	extensions, err := l.storage.GetExtensionsForLoan(ctx, loan.ID)
	if err != nil {
		return nil, err
	}

	view := &ScheduleView{
		CardNumber:  loan.CardNumber,
		EndDate:     l.ScheduleEndDate(loan, extensions),
		Periods:     periods,
		Total:       decimal.Zero,
		TotalPosted: decimal.Zero,
		TotalOpen:   decimal.Zero,
	}
	for _, p := range periods {
		amount := p.EffectiveAmount()
		view.Total = view.Total.Add(amount)
		if p.IsPosted {
			view.TotalPosted = view.TotalPosted.Add(amount)
		} else {
			view.TotalOpen = view.TotalOpen.Add(amount)
		}
	}
	return view, nil
}

// UpdatePeriod edits an open period. Posted periods are rejected with
// models.ErrPeriodImmutable before any field changes.
func (l *Ledger) UpdatePeriod(ctx context.Context, periodID uuid.UUID, req PeriodUpdate) (*models.InterestSchedulePeriod, error) {
	var chargeDate time.Time
	if req.ChargeDate != "" {
		d, err := calendar.ParseDate(req.ChargeDate)
		if err != nil {
			return nil, err
		}
		chargeDate = d
	}
	var adjusted *decimal.NullDecimal
	if req.AdjustedAmount != nil {
		a, err := parseAdjustment(*req.AdjustedAmount)
		if err != nil {
			return nil, err
		}
		adjusted = &a
	}

	var period *models.InterestSchedulePeriod
	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if period, err = tx.GetPeriod(ctx, periodID); err != nil {
			return err
		}
		if period.IsPosted {
			return fmt.Errorf("interest period %s: %w", periodID, models.ErrPeriodImmutable)
		}
		if !chargeDate.IsZero() {
			period.ChargeDate = chargeDate
		}
		if adjusted != nil {
			period.AdjustedAmount = *adjusted
		}
		if req.InvoiceNumber != nil {
			period.InvoiceNumber = strings.TrimSpace(*req.InvoiceNumber)
		}
		period.UpdatedAt = l.now()
		return tx.UpdateOpenPeriod(ctx, period)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update interest period: %w", err)
	}
	return period, nil
}

// DeletePeriod removes an open period. Posted periods are history and stay.
func (l *Ledger) DeletePeriod(ctx context.Context, periodID uuid.UUID) error {
	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		period, err := tx.GetPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		if period.IsPosted {
			return fmt.Errorf("interest period %s: %w", periodID, models.ErrPeriodImmutable)
		}
		return tx.DeleteOpenPeriod(ctx, periodID)
	})
	if err != nil {
		return fmt.Errorf("failed to delete interest period: %w", err)
	}
	l.logger.Info("interest period deleted", "period_id", periodID)
	return nil
}

func loadAccrualInputs(ctx context.Context, tx store.Tx, loanID uuid.UUID) ([]*models.Draw, []*models.Extension, []*models.InterestSchedulePeriod, error) {
	draws, err := tx.GetDrawsForLoan(ctx, loanID)
	if err != nil {
		return nil, nil, nil, err
	}
	extensions, err := tx.GetExtensionsForLoan(ctx, loanID)
	if err != nil {
		return nil, nil, nil, err
	}
	periods, err := tx.GetPeriodsForLoan(ctx, loanID)
	if err != nil {
		return nil, nil, nil, err
	}
	return draws, extensions, periods, nil
}

// parseAdjustment turns user input into an adjusted amount. Blank input means no adjustment.
func parseAdjustment(s string) (decimal.NullDecimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.NullDecimal{}, nil
	}
	amount, err := money.ParseAmount(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	if err := money.ValidateAmount(amount); err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(amount), nil
}
