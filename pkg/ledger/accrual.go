package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mcclellann/loanledger/pkg/calendar"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/money"
)

// baseEndDate is the maturity date, or the funding date plus the default term.
func (l *Ledger) baseEndDate(loan *models.Loan) time.Time {
	if loan.MaturityDate != nil {
		return calendar.DateOnly(*loan.MaturityDate)
	}
	return calendar.AddMonths(loan.FirstLoanDate, l.termMonths)
}

// ScheduleEndDate is the base end date pushed out by every extension's months.
func (l *Ledger) ScheduleEndDate(loan *models.Loan, extensions []*models.Extension) time.Time {
	months := 0
	for _, e := range extensions {
		months += e.Months
	}
	return calendar.AddMonths(l.baseEndDate(loan), months)
}

// principalRate is the annual rate on the advanced amount at chargeDate. Past the base
// end date, the extension whose window holds chargeDate may override the initial rate.
func (l *Ledger) principalRate(loan *models.Loan, extensions []*models.Extension, chargeDate time.Time) decimal.Decimal {
	base := l.baseEndDate(loan)
	if !chargeDate.After(base) {
		return loan.InitialInterestRate
	}

	rate := loan.InitialInterestRate
	start, months := base, 0
	for _, e := range extensions {
		months += e.Months
		end := calendar.AddMonths(base, months)
		if chargeDate.After(start) && !chargeDate.After(end) {
			if e.InterestRate.Valid {
				rate = e.InterestRate.Decimal
			}
			return rate
		}
		start = end
	}
	return rate
}

// PeriodInterest is the monthly accrual due on chargeDate: advanced principal at the
// applicable rate plus every draw funded on or before chargeDate at its own rate.
// The sum is rounded half-even to cents once.
func (l *Ledger) PeriodInterest(loan *models.Loan, draws []*models.Draw, extensions []*models.Extension, chargeDate time.Time) decimal.Decimal {
	chargeDate = calendar.DateOnly(chargeDate)
	total := money.MonthlyInterest(loan.AdvancedLoanAmount, l.principalRate(loan, extensions, chargeDate))
	for _, d := range draws {
		if !d.DrawDate.After(chargeDate) {
			total = total.Add(d.MonthlyInterest())
		}
	}
	return money.Round(total)
}

// StubInterest accrues actual/365 interest from start to stubDate. Draws funded inside
// the window accrue from their draw date.
func (l *Ledger) StubInterest(loan *models.Loan, draws []*models.Draw, extensions []*models.Extension, start, stubDate time.Time) decimal.Decimal {
	start, stubDate = calendar.DateOnly(start), calendar.DateOnly(stubDate)
	rate := l.principalRate(loan, extensions, stubDate)
	total := money.DailyInterest(loan.AdvancedLoanAmount, rate, calendar.DaysBetween(start, stubDate))
	for _, d := range draws {
		if d.DrawDate.After(stubDate) {
			continue
		}
		from := start
		if d.DrawDate.After(from) {
			from = d.DrawDate
		}
		total = total.Add(money.DailyInterest(d.Amount, d.InterestRate, calendar.DaysBetween(from, stubDate)))
	}
	return money.Round(total)
}

// chargeDateFor returns period n's billing date. Period 1 falls in the funding month and
// later periods keep the funding day, so month ends clamp (Jan 31, Feb 28/29, Mar 31).
func chargeDateFor(loan *models.Loan, n int) time.Time {
	return calendar.AddMonths(loan.FirstLoanDate, n-1)
}
