package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/money"
	"github.com/mcclellann/loanledger/pkg/store"
)

// ChargeUpdate replaces the mutable fields of a settlement charge.
type ChargeUpdate struct {
	ChargeTypeID   uuid.UUID
	ChargeTypeName string
	Amount         decimal.Decimal
	InvoiceNumber  string
	Notes          string
}

type NewChargeType struct {
	Name          string
	Description   string
	DisplayOrder  int
	IsActive      bool
	IsRequired    bool
	DefaultAmount decimal.Decimal
}

// RecomputeSettlementTotal sums the loan's charges and stores the result on the loan.
func (l *Ledger) RecomputeSettlementTotal(ctx context.Context, loanID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		var err error
		total, err = l.recomputeTotal(ctx, tx, loanID)
		return err
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to recompute settlement total: %w", err)
	}
	return total, nil
}

func (l *Ledger) recomputeTotal(ctx context.Context, tx store.Tx, loanID uuid.UUID) (decimal.Decimal, error) {
	total, err := tx.SumSettlementCharges(ctx, loanID)
	if err != nil {
		return decimal.Zero, err
	}
	if err := tx.UpdateSettlementChargesTotal(ctx, loanID, total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// AddSettlementCharge books a charge, refreshes the loan's settlement total and
// re-derives prepaid interest in one transaction.
func (l *Ledger) AddSettlementCharge(ctx context.Context, cardNumber string, req NewCharge) (*models.SettlementCharge, error) {
	if err := money.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}

	var charge *models.SettlementCharge
	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		loan, err := l.loanByCard(ctx, tx, cardNumber)
		if err != nil {
			return err
		}
		if charge, err = l.createCharge(ctx, tx, loan.ID, req); err != nil {
			return err
		}
		return l.afterChargeChange(ctx, tx, loan.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add settlement charge: %w", err)
	}

	l.logger.Info("settlement charge added",
		"card_number", cardNumber,
		"charge_type", charge.ChargeType,
		"amount", charge.Amount.StringFixed(2),
	)
	return charge, nil
}

// UpdateSettlementCharge rewrites a charge with the same recompute guarantees as AddSettlementCharge.
func (l *Ledger) UpdateSettlementCharge(ctx context.Context, chargeID uuid.UUID, req ChargeUpdate) (*models.SettlementCharge, error) {
	if err := money.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}

	var charge *models.SettlementCharge
	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if charge, err = tx.GetSettlementCharge(ctx, chargeID); err != nil {
			return err
		}
		ct, err := resolveChargeType(ctx, tx, req.ChargeTypeID, req.ChargeTypeName)
		if err != nil {
			return err
		}
		charge.ChargeTypeID = ct.ID
		charge.ChargeType = ct.Name
		charge.Amount = req.Amount
		charge.InvoiceNumber = req.InvoiceNumber
		charge.Notes = req.Notes
		if err := tx.UpdateSettlementCharge(ctx, charge); err != nil {
			return err
		}
		return l.afterChargeChange(ctx, tx, charge.LoanID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update settlement charge: %w", err)
	}

	l.logger.Info("settlement charge updated", "charge_id", chargeID, "amount", charge.Amount.StringFixed(2))
	return charge, nil
}

func (l *Ledger) DeleteSettlementCharge(ctx context.Context, chargeID uuid.UUID) error {
	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		charge, err := tx.GetSettlementCharge(ctx, chargeID)
		if err != nil {
			return err
		}
		if err := tx.DeleteSettlementCharge(ctx, chargeID); err != nil {
			return err
		}
		return l.afterChargeChange(ctx, tx, charge.LoanID)
	})
	if err != nil {
		return fmt.Errorf("failed to delete settlement charge: %w", err)
	}

	l.logger.Info("settlement charge deleted", "charge_id", chargeID)
	return nil
}

func (l *Ledger) afterChargeChange(ctx context.Context, tx store.Tx, loanID uuid.UUID) error {
	if _, err := l.recomputeTotal(ctx, tx, loanID); err != nil {
		return err
	}
	_, err := l.amortizePrepaid(ctx, tx, loanID)
	return err
}

func (l *Ledger) createCharge(ctx context.Context, tx store.Tx, loanID uuid.UUID, req NewCharge) (*models.SettlementCharge, error) {
	ct, err := resolveChargeType(ctx, tx, req.ChargeTypeID, req.ChargeTypeName)
	if err != nil {
		return nil, err
	}
	charge := &models.SettlementCharge{
		ID:            uuid.New(),
		LoanID:        loanID,
		ChargeTypeID:  ct.ID,
		ChargeType:    ct.Name,
		Amount:        req.Amount,
		InvoiceNumber: req.InvoiceNumber,
		Notes:         req.Notes,
		CreatedAt:     l.now(),
	}
	if err := tx.CreateSettlementCharge(ctx, charge); err != nil {
		return nil, err
	}
	return charge, nil
}

func resolveChargeType(ctx context.Context, tx store.Tx, id uuid.UUID, name string) (*models.SettlementChargeType, error) {
	if id != uuid.Nil {
		return tx.GetChargeType(ctx, id)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: charge type is required", models.ErrInvalidRequest)
	}
	return tx.GetChargeTypeByName(ctx, name)
}

func (l *Ledger) CreateChargeType(ctx context.Context, req NewChargeType) (*models.SettlementChargeType, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: charge type name is required", models.ErrInvalidRequest)
	}
	if err := money.ValidateAmount(req.DefaultAmount); err != nil {
		return nil, err
	}
	ct := &models.SettlementChargeType{
		ID:            uuid.New(),
		Name:          name,
		Description:   req.Description,
		DisplayOrder:  req.DisplayOrder,
		IsActive:      req.IsActive,
		IsRequired:    req.IsRequired,
		DefaultAmount: req.DefaultAmount,
		CreatedAt:     l.now(),
	}
	if err := l.storage.CreateChargeType(ctx, ct); err != nil {
		return nil, err
	}
	return ct, nil
}

// ListChargeTypes loads the catalog fresh on every call.
func (l *Ledger) ListChargeTypes(ctx context.Context, activeOnly bool) ([]*models.SettlementChargeType, error) {
	return l.storage.ListChargeTypes(ctx, activeOnly)
}

// DeleteChargeType fails with models.ErrChargeTypeInUse while any charge references the type.
func (l *Ledger) DeleteChargeType(ctx context.Context, id uuid.UUID) error {
	return l.storage.WithTx(ctx, func(tx store.Tx) error {
		return tx.DeleteChargeType(ctx, id)
	})
}
