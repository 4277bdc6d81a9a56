package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/loanledger/pkg/metrics"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/money"
	"github.com/mcclellann/loanledger/pkg/store"
)

var twelve = decimal.NewFromInt(12)

// PrepaidCoverage is the month count and leftover for a prepaid lump sum.
type PrepaidCoverage struct {
	MonthlyInterest decimal.Decimal
	MonthsCovered   int
	Remainder       decimal.Decimal
}

// CoverPrepaid divides amount by firstWired*rate/12. The month count is floored and the
// remainder is rounded half-even to cents. A non-positive monthly interest covers nothing.
func CoverPrepaid(amount, firstWired, rate decimal.Decimal) PrepaidCoverage {
	annual := firstWired.Mul(rate)
	cov := PrepaidCoverage{MonthlyInterest: money.MonthlyInterest(firstWired, rate)}
	if !annual.IsPositive() {
		cov.Remainder = money.Round(amount)
		return cov
	}

	// amount / (annual/12) == amount*12 / annual; the integer quotient is exact.
	q, _ := amount.Mul(twelve).QuoRem(annual, 0)
	if q.IsNegative() {
		q = decimal.Zero
	}
	cov.MonthsCovered = int(q.IntPart())
	cov.Remainder = money.Round(amount.Mul(twelve).Sub(annual.Mul(q)).Div(twelve))
	return cov
}

// AmortizePrepaid re-derives the loan's prepaid interest record from its newest prepaid
// charge. It returns nil when the loan has no such charge.
func (l *Ledger) AmortizePrepaid(ctx context.Context, loanID uuid.UUID) (*models.PrepaidInterest, error) {
	var record *models.PrepaidInterest
	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		var err error
		record, err = l.amortizePrepaid(ctx, tx, loanID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to amortize prepaid interest: %w", err)
	}
	return record, nil
}

func (l *Ledger) amortizePrepaid(ctx context.Context, tx store.Tx, loanID uuid.UUID) (*models.PrepaidInterest, error) {
	loan, err := tx.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	charge, err := tx.LatestChargeOfType(ctx, loanID, l.prepaidChargeName)
	if errors.Is(err, models.ErrNotFound) {
		return nil, tx.DeletePrepaidInterest(ctx, loanID)
	}
	if err != nil {
		return nil, err
	}

	cov := CoverPrepaid(charge.Amount, loan.FirstWiredAmount, loan.InitialInterestRate)
	switch {
	case !cov.MonthlyInterest.IsPositive():
		l.metrics.Anomaly(metrics.AnomalyNonPositiveInterest)
		l.logger.Warn("prepaid interest with non-positive monthly interest",
			"card_number", loan.CardNumber,
			"amount", charge.Amount.StringFixed(2),
			"monthly_interest", cov.MonthlyInterest.StringFixed(2),
		)
	case !cov.Remainder.IsZero():
		l.metrics.Anomaly(metrics.AnomalyPrepaidRemainder)
		l.logger.Warn("prepaid interest does not divide into whole months",
			"card_number", loan.CardNumber,
			"amount", charge.Amount.StringFixed(2),
			"monthly_interest", cov.MonthlyInterest.StringFixed(2),
			"months_covered", cov.MonthsCovered,
			"remainder", cov.Remainder.StringFixed(2),
		)
	}

	ts := l.now()
	record := &models.PrepaidInterest{
		ID:                 uuid.New(),
		LoanID:             loanID,
		SettlementChargeID: charge.ID,
		InitialAmount:      charge.Amount,
		RemainingBalance:   charge.Amount,
		MonthsCovered:      cov.MonthsCovered,
		MonthlyAmount:      money.Round(cov.MonthlyInterest),
		Remainder:          cov.Remainder,
		CreatedAt:          ts,
		UpdatedAt:          ts,
	}
	if _, err := tx.UpsertPrepaidInterest(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}
