package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mcclellann/loanledger/pkg/calendar"
	"github.com/mcclellann/loanledger/pkg/money"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrCheckpointMismatch = errors.New("checkpoint must equal zero")
	ErrAlreadyPosted      = errors.New("interest period already posted")
	ErrPeriodImmutable    = errors.New("posted interest period cannot be modified")
	ErrDuplicate          = errors.New("duplicate record")
	ErrChargeTypeInUse    = errors.New("settlement charge type is in use")
	ErrBorrowerInUse      = errors.New("borrower has loans")
	ErrInvalidStatus      = errors.New("invalid loan status")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrMissingActor       = errors.New("posting requires an actor")

	ErrInvalidDate   = calendar.ErrInvalidDate
	ErrInvalidAmount = money.ErrInvalidAmount
	ErrInvalidRate   = money.ErrInvalidRate
)

// CheckpointError reports a failed funding identity together with the computed value.
type CheckpointError struct {
	Checkpoint decimal.Decimal
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint must equal 0, current: %s", e.Checkpoint.StringFixed(2))
}

func (e *CheckpointError) Unwrap() error { return ErrCheckpointMismatch }
