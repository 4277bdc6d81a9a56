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
	"github.com/mcclellann/loanledger/pkg/store"
)

// PostRequest carries the raw posting inputs. Every field is optional.
type PostRequest struct {
	ReceivedDate   string
	InvoiceNumber  string
	AdjustedAmount string
	PaymentSource  string
}

// PostPeriod moves a period from open to posted and stamps who posted it and when.
// Inputs are parsed before the transaction opens, so a malformed date or amount
// changes nothing. Of two concurrent posts on the same period one wins and the
// other gets models.ErrAlreadyPosted.
func (l *Ledger) PostPeriod(ctx context.Context, periodID uuid.UUID, req PostRequest, actor string) (*models.InterestSchedulePeriod, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, models.ErrMissingActor
	}

	var received *time.Time
	if strings.TrimSpace(req.ReceivedDate) != "" {
		d, err := calendar.ParseDate(req.ReceivedDate)
		if err != nil {
			return nil, err
		}
		received = &d
	}
	adjusted, err := parseAdjustment(req.AdjustedAmount)
	if err != nil {
		return nil, err
	}

	var period *models.InterestSchedulePeriod
	err = l.storage.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if period, err = tx.GetPeriod(ctx, periodID); err != nil {
			return err
		}
		if period.IsPosted {
			return fmt.Errorf("interest period %s: %w", periodID, models.ErrAlreadyPosted)
		}

		postedAt := l.now()
		period.IsPosted = true
		period.PostedAt = &postedAt
		period.PostedBy = actor
		period.UpdatedAt = postedAt
		if received != nil {
			period.ReceivedDate = received
		}
		if inv := strings.TrimSpace(req.InvoiceNumber); inv != "" {
			period.InvoiceNumber = inv
		}
		if adjusted.Valid {
			period.AdjustedAmount = adjusted
		}
		if src := strings.TrimSpace(req.PaymentSource); src != "" {
			period.PaymentSource = src
		}
		return tx.MarkPeriodPosted(ctx, period)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to post interest period: %w", err)
	}

	l.metrics.PeriodPosted()
	l.logger.Info("interest period posted",
		"period_id", periodID,
		"period_type", period.PeriodType,
		"period_number", period.PeriodNumber,
		"amount", period.EffectiveAmount().StringFixed(2),
		"actor", actor,
	)
	return period, nil
}

// postedTotal sums effective amounts of posted periods.
func postedTotal(periods []*models.InterestSchedulePeriod) decimal.Decimal {
	total := decimal.Zero
	for _, p := range periods {
		if p.IsPosted {
			total = total.Add(p.EffectiveAmount())
		}
	}
	return total
}
