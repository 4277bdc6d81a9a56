package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/loanledger/pkg/calendar"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/money"
)

const chargeSelect = `SELECT c.id, c.loan_id, c.charge_type_id, t.name, c.amount, c.invoice_number, c.notes, c.created_at
	FROM settlement_charges c JOIN settlement_charge_types t ON t.id = c.charge_type_id`

func (q *queries) CreateSettlementCharge(ctx context.Context, c *models.SettlementCharge) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO settlement_charges (id, loan_id, charge_type_id, amount, invoice_number, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.LoanID.String(), c.ChargeTypeID.String(), c.Amount, nullString(c.InvoiceNumber), c.Notes, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create settlement charge: %w", translate(err))
	}
	return nil
}

func (q *queries) GetSettlementCharge(ctx context.Context, id uuid.UUID) (*models.SettlementCharge, error) {
	row := q.db.QueryRowContext(ctx, chargeSelect+` WHERE c.id = ?`, id.String())
	c, err := scanCharge(row)
	if err != nil {
		return nil, notFound("settlement charge", err)
	}
	return c, nil
}

// UpdateSettlementCharge rewrites the type, amount, invoice and notes of a charge.
func (q *queries) UpdateSettlementCharge(ctx context.Context, c *models.SettlementCharge) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE settlement_charges SET charge_type_id = ?, amount = ?, invoice_number = ?, notes = ? WHERE id = ?`,
		c.ChargeTypeID.String(), c.Amount, nullString(c.InvoiceNumber), c.Notes, c.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update settlement charge: %w", translate(err))
	}
	return expectOne(res, "settlement charge")
}

func (q *queries) DeleteSettlementCharge(ctx context.Context, id uuid.UUID) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM settlement_charges WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete settlement charge: %w", err)
	}
	return expectOne(res, "settlement charge")
}

// GetSettlementChargesForLoan lists a loan's charges in catalog display order.
func (q *queries) GetSettlementChargesForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.SettlementCharge, error) {
	rows, err := q.db.QueryContext(ctx, chargeSelect+` WHERE c.loan_id = ? ORDER BY t.display_order, c.created_at, c.rowid`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement charges for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var charges []*models.SettlementCharge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement charge row: %w", err)
		}
		charges = append(charges, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for settlement charges: %w", err)
	}
	return charges, nil
}

// SumSettlementCharges adds the charge amounts in decimal. SQLite's SUM would go through
// floating point, so the rows are summed here instead.
func (q *queries) SumSettlementCharges(ctx context.Context, loanID uuid.UUID) (decimal.Decimal, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT amount FROM settlement_charges WHERE loan_id = ?`, loanID.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum settlement charges: %w", err)
	}
	defer rows.Close()

	var amounts []decimal.Decimal
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan settlement charge amount: %w", err)
		}
		amounts = append(amounts, amount)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error during rows iteration for settlement charges: %w", err)
	}
	return money.Sum(amounts...), nil
}

// LatestChargeOfType returns the most recently created charge of the named type.
func (q *queries) LatestChargeOfType(ctx context.Context, loanID uuid.UUID, typeName string) (*models.SettlementCharge, error) {
	row := q.db.QueryRowContext(ctx,
		chargeSelect+` WHERE c.loan_id = ? AND t.name = ? ORDER BY c.created_at DESC, c.rowid DESC LIMIT 1`,
		loanID.String(), typeName)
	c, err := scanCharge(row)
	if err != nil {
		return nil, notFound("settlement charge", err)
	}
	return c, nil
}

func scanCharge(s scanner) (*models.SettlementCharge, error) {
	var c models.SettlementCharge
	var idStr, loanIDStr, typeIDStr string
	var invoice sql.NullString
	if err := s.Scan(&idStr, &loanIDStr, &typeIDStr, &c.ChargeType, &c.Amount, &invoice, &c.Notes, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.ID = uuid.MustParse(idStr)
	c.LoanID = uuid.MustParse(loanIDStr)
	c.ChargeTypeID = uuid.MustParse(typeIDStr)
	c.InvoiceNumber = invoice.String
	return &c, nil
}

const drawColumns = `id, loan_id, draw_number, draw_date, amount, interest_rate, invoice_number,
	draw_fee, inspection_fee, notes, created_at`

// CreateDraw inserts a draw. A repeated draw number for the loan fails with models.ErrDuplicate.
func (q *queries) CreateDraw(ctx context.Context, d *models.Draw) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO draws (`+drawColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID.String(), d.LoanID.String(), d.DrawNumber, dateArg(d.DrawDate), d.Amount, d.InterestRate,
		nullString(d.InvoiceNumber), d.DrawFee, d.InspectionFee, d.Notes, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create draw: %w", translate(err))
	}
	return nil
}

func (q *queries) GetDrawsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Draw, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+drawColumns+` FROM draws WHERE loan_id = ? ORDER BY draw_number`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get draws for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var draws []*models.Draw
	for rows.Next() {
		var d models.Draw
		var idStr, loanIDStr, drawDate string
		var invoice sql.NullString
		if err := rows.Scan(&idStr, &loanIDStr, &d.DrawNumber, &drawDate, &d.Amount, &d.InterestRate, &invoice,
			&d.DrawFee, &d.InspectionFee, &d.Notes, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan draw row: %w", err)
		}
		d.ID = uuid.MustParse(idStr)
		d.LoanID = uuid.MustParse(loanIDStr)
		d.InvoiceNumber = invoice.String
		if d.DrawDate, err = calendar.ParseDate(drawDate); err != nil {
			return nil, fmt.Errorf("failed to parse draw date: %w", err)
		}
		draws = append(draws, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for draws: %w", err)
	}
	return draws, nil
}

// MaxDrawNumber returns the highest draw number on the loan, or 0 when there are none.
func (q *queries) MaxDrawNumber(ctx context.Context, loanID uuid.UUID) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(draw_number), 0) FROM draws WHERE loan_id = ?`, loanID.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to get max draw number: %w", err)
	}
	return n, nil
}

const extensionColumns = `id, loan_id, extension_number, months, extension_fee, interest_rate, invoice_number, notes, created_at`

func (q *queries) CreateExtension(ctx context.Context, e *models.Extension) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO extensions (`+extensionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.LoanID.String(), e.ExtensionNumber, e.Months, e.ExtensionFee, e.InterestRate,
		nullString(e.InvoiceNumber), e.Notes, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create extension: %w", translate(err))
	}
	return nil
}

// GetExtensionsForLoan lists extensions in the order they were granted.
func (q *queries) GetExtensionsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Extension, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+extensionColumns+` FROM extensions WHERE loan_id = ? ORDER BY extension_number`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get extensions for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var extensions []*models.Extension
	for rows.Next() {
		var e models.Extension
		var idStr, loanIDStr string
		var invoice sql.NullString
		if err := rows.Scan(&idStr, &loanIDStr, &e.ExtensionNumber, &e.Months, &e.ExtensionFee, &e.InterestRate,
			&invoice, &e.Notes, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan extension row: %w", err)
		}
		e.ID = uuid.MustParse(idStr)
		e.LoanID = uuid.MustParse(loanIDStr)
		e.InvoiceNumber = invoice.String
		extensions = append(extensions, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for extensions: %w", err)
	}
	return extensions, nil
}

func (q *queries) MaxExtensionNumber(ctx context.Context, loanID uuid.UUID) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(extension_number), 0) FROM extensions WHERE loan_id = ?`, loanID.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to get max extension number: %w", err)
	}
	return n, nil
}
