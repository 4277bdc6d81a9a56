package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/loanledger/pkg/calendar"
	"github.com/mcclellann/loanledger/pkg/models"
)

const borrowerColumns = `id, name, email, phone, address, notes, created_at, updated_at`

// CreateBorrower inserts a new borrower.
func (q *queries) CreateBorrower(ctx context.Context, b *models.Borrower) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO borrowers (`+borrowerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID.String(), b.Name, b.Email, b.Phone, b.Address, b.Notes, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create borrower: %w", translate(err))
	}
	return nil
}

func (q *queries) GetBorrower(ctx context.Context, id uuid.UUID) (*models.Borrower, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+borrowerColumns+`, (SELECT COUNT(*) FROM loans WHERE borrower_id = borrowers.id)
		FROM borrowers WHERE id = ?`, id.String())
	b, err := scanBorrower(row)
	if err != nil {
		return nil, notFound("borrower", err)
	}
	return b, nil
}

// ListBorrowers returns every borrower ordered by name, with loan counts.
func (q *queries) ListBorrowers(ctx context.Context) ([]*models.Borrower, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+borrowerColumns+`, (SELECT COUNT(*) FROM loans WHERE borrower_id = borrowers.id)
		FROM borrowers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list borrowers: %w", err)
	}
	defer rows.Close()

	var borrowers []*models.Borrower
	for rows.Next() {
		b, err := scanBorrower(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan borrower row: %w", err)
		}
		borrowers = append(borrowers, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return borrowers, nil
}

// DeleteBorrower removes a borrower with no loans.
func (q *queries) DeleteBorrower(ctx context.Context, id uuid.UUID) error {
	inUse, err := q.exists(ctx, `SELECT EXISTS(SELECT 1 FROM loans WHERE borrower_id = ?)`, id.String())
	if err != nil {
		return fmt.Errorf("failed to check borrower loans: %w", err)
	}
	if inUse {
		return fmt.Errorf("failed to delete borrower: %w", models.ErrBorrowerInUse)
	}

	res, err := q.db.ExecContext(ctx, `DELETE FROM borrowers WHERE id = ?`, id.String())
	if err != nil {
		if isRestrictError(err) {
			return fmt.Errorf("failed to delete borrower: %w", models.ErrBorrowerInUse)
		}
		return fmt.Errorf("failed to delete borrower: %w", err)
	}
	return expectOne(res, "borrower")
}

func scanBorrower(s scanner) (*models.Borrower, error) {
	var b models.Borrower
	var idStr string
	if err := s.Scan(&idStr, &b.Name, &b.Email, &b.Phone, &b.Address, &b.Notes, &b.CreatedAt, &b.UpdatedAt, &b.LoanCount); err != nil {
		return nil, err
	}
	b.ID = uuid.MustParse(idStr)
	return &b, nil
}

const chargeTypeColumns = `id, name, description, display_order, is_active, is_required, default_amount, created_at`

func (q *queries) CreateChargeType(ctx context.Context, ct *models.SettlementChargeType) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO settlement_charge_types (`+chargeTypeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ct.ID.String(), ct.Name, ct.Description, ct.DisplayOrder, ct.IsActive, ct.IsRequired, ct.DefaultAmount, ct.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create charge type: %w", translate(err))
	}
	return nil
}

func (q *queries) GetChargeType(ctx context.Context, id uuid.UUID) (*models.SettlementChargeType, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+chargeTypeColumns+` FROM settlement_charge_types WHERE id = ?`, id.String())
	ct, err := scanChargeType(row)
	if err != nil {
		return nil, notFound("charge type", err)
	}
	return ct, nil
}

func (q *queries) GetChargeTypeByName(ctx context.Context, name string) (*models.SettlementChargeType, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+chargeTypeColumns+` FROM settlement_charge_types WHERE name = ?`, name)
	ct, err := scanChargeType(row)
	if err != nil {
		return nil, notFound("charge type", err)
	}
	return ct, nil
}

// ListChargeTypes returns the catalog in display order.
func (q *queries) ListChargeTypes(ctx context.Context, activeOnly bool) ([]*models.SettlementChargeType, error) {
	query := `SELECT ` + chargeTypeColumns + ` FROM settlement_charge_types`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY display_order, name`

	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list charge types: %w", err)
	}
	defer rows.Close()

	var types []*models.SettlementChargeType
	for rows.Next() {
		ct, err := scanChargeType(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan charge type row: %w", err)
		}
		types = append(types, ct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return types, nil
}

// DeleteChargeType removes a catalog entry. Types referenced by a charge are protected.
func (q *queries) DeleteChargeType(ctx context.Context, id uuid.UUID) error {
	inUse, err := q.exists(ctx, `SELECT EXISTS(SELECT 1 FROM settlement_charges WHERE charge_type_id = ?)`, id.String())
	if err != nil {
		return fmt.Errorf("failed to check charge type usage: %w", err)
	}
	if inUse {
		return fmt.Errorf("failed to delete charge type: %w", models.ErrChargeTypeInUse)
	}

	res, err := q.db.ExecContext(ctx, `DELETE FROM settlement_charge_types WHERE id = ?`, id.String())
	if err != nil {
		if isRestrictError(err) {
			return fmt.Errorf("failed to delete charge type: %w", models.ErrChargeTypeInUse)
		}
		return fmt.Errorf("failed to delete charge type: %w", err)
	}
	return expectOne(res, "charge type")
}

func scanChargeType(s scanner) (*models.SettlementChargeType, error) {
	var ct models.SettlementChargeType
	var idStr string
	if err := s.Scan(&idStr, &ct.Name, &ct.Description, &ct.DisplayOrder, &ct.IsActive, &ct.IsRequired, &ct.DefaultAmount, &ct.CreatedAt); err != nil {
		return nil, err
	}
	ct.ID = uuid.MustParse(idStr)
	return &ct, nil
}

const loanColumns = `id, card_number, borrower_id, property_address, advanced_loan_amount, advanced_loan_invoice,
	first_wired_amount, settlement_charges_total, initial_interest_rate, first_loan_date, maturity_date,
	status, notes, created_at, updated_at`

// CreateLoan inserts a new loan into the database.
func (q *queries) CreateLoan(ctx context.Context, loan *models.Loan) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO loans (`+loanColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.CardNumber, loan.BorrowerID.String(), loan.PropertyAddress,
		loan.AdvancedLoanAmount, nullString(loan.AdvancedLoanInvoice), loan.FirstWiredAmount,
		loan.SettlementChargesTotal, loan.InitialInterestRate, dateArg(loan.FirstLoanDate),
		nullDateArg(loan.MaturityDate), string(loan.Status), loan.Notes, loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", translate(err))
	}
	return nil
}

// GetLoan retrieves a loan by its ID.
func (q *queries) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err != nil {
		return nil, notFound("loan", err)
	}
	return loan, nil
}

// GetLoanByCardNumber retrieves a loan by its card number.
func (q *queries) GetLoanByCardNumber(ctx context.Context, cardNumber string) (*models.Loan, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE card_number = ?`, cardNumber)
	loan, err := scanLoan(row)
	if err != nil {
		return nil, notFound("loan", err)
	}
	return loan, nil
}

// UpdateLoan updates the editable loan fields. The cached settlement total is only
// written by UpdateSettlementChargesTotal.
func (q *queries) UpdateLoan(ctx context.Context, loan *models.Loan) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE loans SET property_address = ?, advanced_loan_invoice = ?, initial_interest_rate = ?,
		maturity_date = ?, status = ?, notes = ?, updated_at = ? WHERE id = ?`,
		loan.PropertyAddress, nullString(loan.AdvancedLoanInvoice), loan.InitialInterestRate,
		nullDateArg(loan.MaturityDate), string(loan.Status), loan.Notes, loan.UpdatedAt, loan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", translate(err))
	}
	return expectOne(res, "loan")
}

func (q *queries) UpdateSettlementChargesTotal(ctx context.Context, loanID uuid.UUID, total decimal.Decimal) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE loans SET settlement_charges_total = ?, updated_at = ? WHERE id = ?`,
		total, now(), loanID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update settlement total: %w", err)
	}
	return expectOne(res, "loan")
}

// DeleteLoan removes a loan. Charges, draws, extensions, schedule and prepaid rows cascade.
func (q *queries) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM loans WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}
	return expectOne(res, "loan")
}

// GetAllLoans retrieves all loans, newest first.
func (q *queries) GetAllLoans(ctx context.Context) ([]*models.Loan, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+loanColumns+` FROM loans ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

func scanLoan(s scanner) (*models.Loan, error) {
	var loan models.Loan
	var idStr, borrowerIDStr, firstLoanDate, status string
	var invoice, maturity sql.NullString
	if err := s.Scan(&idStr, &loan.CardNumber, &borrowerIDStr, &loan.PropertyAddress,
		&loan.AdvancedLoanAmount, &invoice, &loan.FirstWiredAmount, &loan.SettlementChargesTotal,
		&loan.InitialInterestRate, &firstLoanDate, &maturity, &status, &loan.Notes,
		&loan.CreatedAt, &loan.UpdatedAt); err != nil {
		return nil, err
	}
	loan.ID = uuid.MustParse(idStr)
	loan.BorrowerID = uuid.MustParse(borrowerIDStr)
	loan.AdvancedLoanInvoice = invoice.String
	loan.Status = models.LoanStatus(status)

	var err error
	if loan.FirstLoanDate, err = calendar.ParseDate(firstLoanDate); err != nil {
		return nil, err
	}
	if loan.MaturityDate, err = parseNullDate(maturity); err != nil {
		return nil, err
	}
	return &loan, nil
}
