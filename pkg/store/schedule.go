package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mcclellann/loanledger/pkg/calendar"
	"github.com/mcclellann/loanledger/pkg/models"
)

const periodColumns = `id, loan_id, period_type, period_number, charge_date, calculated_amount, adjusted_amount,
	is_posted, received_date, invoice_number, payment_source, posted_at, posted_by, created_at, updated_at`

// CreatePeriod inserts an open schedule period. (loan, type, number) is unique.
func (q *queries) CreatePeriod(ctx context.Context, p *models.InterestSchedulePeriod) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO interest_schedule (`+periodColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.LoanID.String(), string(p.PeriodType), p.PeriodNumber, dateArg(p.ChargeDate),
		p.CalculatedAmount, p.AdjustedAmount, p.IsPosted, nullDateArg(p.ReceivedDate), nullString(p.InvoiceNumber),
		p.PaymentSource, p.PostedAt, p.PostedBy, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create interest period: %w", translate(err))
	}
	return nil
}

func (q *queries) GetPeriod(ctx context.Context, id uuid.UUID) (*models.InterestSchedulePeriod, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+periodColumns+` FROM interest_schedule WHERE id = ?`, id.String())
	p, err := scanPeriod(row)
	if err != nil {
		return nil, notFound("interest period", err)
	}
	return p, nil
}

// GetPeriodsForLoan lists the schedule by charge date, daily stubs before monthly periods on the same day.
func (q *queries) GetPeriodsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.InterestSchedulePeriod, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+periodColumns+` FROM interest_schedule WHERE loan_id = ? ORDER BY charge_date, period_type, period_number`,
		loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get interest schedule for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var periods []*models.InterestSchedulePeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan interest period row: %w", err)
		}
		periods = append(periods, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for interest schedule: %w", err)
	}
	return periods, nil
}

// UpdateOpenPeriod rewrites the mutable fields of a period that has not been posted.
// A posted period is left untouched and models.ErrPeriodImmutable is returned.
func (q *queries) UpdateOpenPeriod(ctx context.Context, p *models.InterestSchedulePeriod) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE interest_schedule SET charge_date = ?, calculated_amount = ?, adjusted_amount = ?,
		received_date = ?, invoice_number = ?, payment_source = ?, updated_at = ?
		WHERE id = ? AND is_posted = 0`,
		dateArg(p.ChargeDate), p.CalculatedAmount, p.AdjustedAmount, nullDateArg(p.ReceivedDate),
		nullString(p.InvoiceNumber), p.PaymentSource, p.UpdatedAt, p.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update interest period: %w", translate(err))
	}
	return q.guardOpen(ctx, res, p.ID, models.ErrPeriodImmutable)
}

// MarkPeriodPosted performs the open -> posted transition. The update only matches an
// open row, so of two concurrent posts exactly one changes the row and the other gets
// models.ErrAlreadyPosted.
func (q *queries) MarkPeriodPosted(ctx context.Context, p *models.InterestSchedulePeriod) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE interest_schedule SET is_posted = 1, adjusted_amount = ?, received_date = ?, invoice_number = ?,
		payment_source = ?, posted_at = ?, posted_by = ?, updated_at = ?
		WHERE id = ? AND is_posted = 0`,
		p.AdjustedAmount, nullDateArg(p.ReceivedDate), nullString(p.InvoiceNumber), p.PaymentSource,
		p.PostedAt, p.PostedBy, p.UpdatedAt, p.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to post interest period: %w", translate(err))
	}
	return q.guardOpen(ctx, res, p.ID, models.ErrAlreadyPosted)
}

// DeleteOpenPeriod removes an unposted period.
func (q *queries) DeleteOpenPeriod(ctx context.Context, id uuid.UUID) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM interest_schedule WHERE id = ? AND is_posted = 0`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete interest period: %w", err)
	}
	return q.guardOpen(ctx, res, id, models.ErrPeriodImmutable)
}

// guardOpen tells a missing row apart from a posted one after a write that matched nothing.
func (q *queries) guardOpen(ctx context.Context, res sql.Result, id uuid.UUID, postedErr error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var posted bool
	err = q.db.QueryRowContext(ctx, `SELECT is_posted FROM interest_schedule WHERE id = ?`, id.String()).Scan(&posted)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("interest period: %w", models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check interest period: %w", err)
	}
	return fmt.Errorf("interest period %s: %w", id, postedErr)
}

func scanPeriod(s scanner) (*models.InterestSchedulePeriod, error) {
	var p models.InterestSchedulePeriod
	var idStr, loanIDStr, periodType, chargeDate string
	var received, invoice sql.NullString
	var postedAt sql.NullTime
	if err := s.Scan(&idStr, &loanIDStr, &periodType, &p.PeriodNumber, &chargeDate, &p.CalculatedAmount,
		&p.AdjustedAmount, &p.IsPosted, &received, &invoice, &p.PaymentSource, &postedAt, &p.PostedBy,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ID = uuid.MustParse(idStr)
	p.LoanID = uuid.MustParse(loanIDStr)
	p.PeriodType = models.PeriodType(periodType)
	p.InvoiceNumber = invoice.String
	if postedAt.Valid {
		p.PostedAt = &postedAt.Time
	}

	var err error
	if p.ChargeDate, err = calendar.ParseDate(chargeDate); err != nil {
		return nil, err
	}
	if p.ReceivedDate, err = parseNullDate(received); err != nil {
		return nil, err
	}
	return &p, nil
}

const prepaidColumns = `id, loan_id, settlement_charge_id, initial_amount, remaining_balance, months_covered,
	monthly_amount, created_at, updated_at`

// UpsertPrepaidInterest creates or replaces the loan's prepaid interest record, keyed by loan.
// p.ID and p.CreatedAt are refreshed from the stored row.
func (q *queries) UpsertPrepaidInterest(ctx context.Context, p *models.PrepaidInterest) (bool, error) {
	existing, err := q.GetPrepaidInterest(ctx, p.LoanID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return false, err
	}
	if existing == nil {
		_, err := q.db.ExecContext(ctx,
			`INSERT INTO prepaid_interest (`+prepaidColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID.String(), p.LoanID.String(), p.SettlementChargeID.String(), p.InitialAmount, p.RemainingBalance,
			p.MonthsCovered, p.MonthlyAmount, p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			return false, fmt.Errorf("failed to create prepaid interest: %w", translate(err))
		}
		return true, nil
	}

	_, err = q.db.ExecContext(ctx,
		`UPDATE prepaid_interest SET settlement_charge_id = ?, initial_amount = ?, remaining_balance = ?,
		months_covered = ?, monthly_amount = ?, updated_at = ? WHERE loan_id = ?`,
		p.SettlementChargeID.String(), p.InitialAmount, p.RemainingBalance, p.MonthsCovered, p.MonthlyAmount,
		p.UpdatedAt, p.LoanID.String(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update prepaid interest: %w", translate(err))
	}
	p.ID = existing.ID
	p.CreatedAt = existing.CreatedAt
	return false, nil
}

func (q *queries) GetPrepaidInterest(ctx context.Context, loanID uuid.UUID) (*models.PrepaidInterest, error) {
	var p models.PrepaidInterest
	var idStr, loanIDStr, chargeIDStr string
	err := q.db.QueryRowContext(ctx, `SELECT `+prepaidColumns+` FROM prepaid_interest WHERE loan_id = ?`, loanID.String()).
		Scan(&idStr, &loanIDStr, &chargeIDStr, &p.InitialAmount, &p.RemainingBalance, &p.MonthsCovered,
			&p.MonthlyAmount, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound("prepaid interest", err)
	}
	p.ID = uuid.MustParse(idStr)
	p.LoanID = uuid.MustParse(loanIDStr)
	p.SettlementChargeID = uuid.MustParse(chargeIDStr)
	return &p, nil
}

// DeletePrepaidInterest drops the loan's prepaid record. A loan without one is not an error.
func (q *queries) DeletePrepaidInterest(ctx context.Context, loanID uuid.UUID) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM prepaid_interest WHERE loan_id = ?`, loanID.String()); err != nil {
		return fmt.Errorf("failed to delete prepaid interest: %w", err)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchInvoices matches invoice numbers by substring across loans, settlement charges,
// draws and posted schedule periods.
func (q *queries) SearchInvoices(ctx context.Context, query string) ([]*models.InvoiceMatch, error) {
	pattern := "%" + likeEscaper.Replace(query) + "%"
	rows, err := q.db.QueryContext(ctx, `
		SELECT 'loan', l.card_number, l.advanced_loan_invoice, l.id FROM loans l
		WHERE l.advanced_loan_invoice IS NOT NULL AND l.advanced_loan_invoice LIKE ? ESCAPE '\'
		UNION ALL
		SELECT 'settlement_charge', l.card_number, c.invoice_number, c.id FROM settlement_charges c
		JOIN loans l ON l.id = c.loan_id
		WHERE c.invoice_number IS NOT NULL AND c.invoice_number LIKE ? ESCAPE '\'
		UNION ALL
		SELECT 'draw', l.card_number, d.invoice_number, d.id FROM draws d
		JOIN loans l ON l.id = d.loan_id
		WHERE d.invoice_number IS NOT NULL AND d.invoice_number LIKE ? ESCAPE '\'
		UNION ALL
		SELECT 'interest_schedule', l.card_number, s.invoice_number, s.id FROM interest_schedule s
		JOIN loans l ON l.id = s.loan_id
		WHERE s.invoice_number IS NOT NULL AND s.is_posted = 1 AND s.invoice_number LIKE ? ESCAPE '\'
		ORDER BY 2, 3`,
		pattern, pattern, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search invoices: %w", err)
	}
	defer rows.Close()

	var matches []*models.InvoiceMatch
	for rows.Next() {
		var m models.InvoiceMatch
		var idStr string
		if err := rows.Scan(&m.Source, &m.CardNumber, &m.InvoiceNumber, &idStr); err != nil {
			return nil, fmt.Errorf("failed to scan invoice match: %w", err)
		}
		m.RecordID = uuid.MustParse(idStr)
		matches = append(matches, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for invoice search: %w", err)
	}
	return matches, nil
}
