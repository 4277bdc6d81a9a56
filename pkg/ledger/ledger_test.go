package ledger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcclellann/loanledger/pkg/calendar"
	"github.com/mcclellann/loanledger/pkg/metrics"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/store"
)

var fixedNow = time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	ledger   *Ledger
	store    *store.SQLiteStore
	metrics  *metrics.Metrics
	logs     *bytes.Buffer
	borrower *models.Borrower
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	logs := &bytes.Buffer{}
	m := metrics.New()
	l := NewLedger(s,
		WithLogger(slog.New(slog.NewTextHandler(logs, nil))),
		WithMetrics(m),
		WithClock(func() time.Time { return fixedNow }),
	)

	ctx := context.Background()
	for i, name := range []string{"Origination Fee", "Title Insurance", models.DefaultPrepaidChargeName} {
		_, err := l.CreateChargeType(ctx, NewChargeType{Name: name, DisplayOrder: i, IsActive: true})
		require.NoError(t, err)
	}
	b, err := l.CreateBorrower(ctx, NewBorrower{Name: "Jane Investor"})
	require.NoError(t, err)

	return &testEnv{ledger: l, store: s, metrics: m, logs: logs, borrower: b}
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(s string) time.Time {
	t, err := calendar.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

// createLoan books a checkpoint-valid loan whose only charge is an origination fee.
func (e *testEnv) createLoan(t *testing.T, card, funded, rate string) *models.Loan {
	t.Helper()
	loan, err := e.ledger.CreateLoan(context.Background(), NewLoan{
		CardNumber:          card,
		BorrowerID:          e.borrower.ID,
		AdvancedLoanAmount:  d("100000.00"),
		FirstWiredAmount:    d("95000.00"),
		InitialInterestRate: decimal.NewNullDecimal(d(rate)),
		FirstLoanDate:       date(funded),
		Charges:             []NewCharge{{ChargeTypeName: "Origination Fee", Amount: d("5000.00")}},
	})
	require.NoError(t, err)
	return loan
}

func TestValidateCheckpoint(t *testing.T) {
	tests := []struct {
		name       string
		advanced   string
		firstWired string
		settlement string
		want       string
		ok         bool
	}{
		{name: "balanced", advanced: "100000.00", firstWired: "95000.00", settlement: "5000.00", want: "0.00", ok: true},
		{name: "short wire", advanced: "100000.00", firstWired: "94000.00", settlement: "5000.00", want: "-1000.00", ok: false},
		{name: "over by a cent", advanced: "100.00", firstWired: "90.00", settlement: "10.01", want: "0.01", ok: false},
		{name: "sub-cent drift", advanced: "100.00", firstWired: "90.00", settlement: "10.009", want: "0.01", ok: true},
		{name: "no charges", advanced: "50000.00", firstWired: "50000.00", settlement: "0", want: "0.00", ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp := ValidateCheckpoint(d(tt.advanced), d(tt.firstWired), d(tt.settlement))
			assert.Equal(t, tt.want, cp.StringFixed(2))
			assert.Equal(t, tt.ok, CheckpointWithinTolerance(cp))
		})
	}
}

func TestCreateLoan_CheckpointBalanced(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	loan := e.createLoan(t, "HM-100", "2024-01-15", "0.12")
	assert.Equal(t, "5000.00", loan.SettlementChargesTotal.StringFixed(2))

	report, err := e.ledger.LoanCheckpoint(ctx, "HM-100")
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, "0.00", report.Checkpoint.StringFixed(2))
	assert.True(t, report.CachedTotal.Equal(report.ChargesTotal))

	summaries, err := e.ledger.ListLoans(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.True(t, summaries[0].CheckpointValid)
}

func TestCreateLoan_CheckpointMismatchPersistsNothing(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	_, err := e.ledger.CreateLoan(ctx, NewLoan{
		CardNumber:          "HM-101",
		BorrowerID:          e.borrower.ID,
		AdvancedLoanAmount:  d("100000.00"),
		FirstWiredAmount:    d("94000.00"),
		InitialInterestRate: decimal.NewNullDecimal(d("0.12")),
		FirstLoanDate:       date("2024-01-15"),
		Charges:             []NewCharge{{ChargeTypeName: "Origination Fee", Amount: d("5000.00")}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrCheckpointMismatch)

	var cpErr *models.CheckpointError
	require.True(t, errors.As(err, &cpErr))
	assert.Equal(t, "-1000.00", cpErr.Checkpoint.StringFixed(2))
	assert.Contains(t, err.Error(), "-1000.00")

	loans, err := e.store.GetAllLoans(ctx)
	require.NoError(t, err)
	assert.Empty(t, loans)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.CheckpointRejections))
}

func TestCreateLoan_RollsBackOnStoreFailure(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	_, err := e.ledger.CreateLoan(ctx, NewLoan{
		CardNumber:         "HM-102",
		BorrowerID:         e.borrower.ID,
		AdvancedLoanAmount: d("100000.00"),
		FirstWiredAmount:   d("95000.00"),
		FirstLoanDate:      date("2024-01-15"),
		Charges: []NewCharge{
			{ChargeTypeName: "Origination Fee", Amount: d("2500.00")},
			{ChargeTypeName: "Not In Catalog", Amount: d("2500.00")},
		},
	})
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = e.store.GetLoanByCardNumber(ctx, "HM-102")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCreateLoan_Validation(t *testing.T) {
	e := newTestEnv(t)
	base := NewLoan{
		CardNumber:         "HM-103",
		BorrowerID:         e.borrower.ID,
		AdvancedLoanAmount: d("1000.00"),
		FirstWiredAmount:   d("1000.00"),
		FirstLoanDate:      date("2024-01-15"),
	}

	tests := []struct {
		name    string
		mutate  func(*NewLoan)
		wantErr error
	}{
		{name: "missing card", mutate: func(n *NewLoan) { n.CardNumber = " " }, wantErr: models.ErrInvalidRequest},
		{name: "sub-cent amount", mutate: func(n *NewLoan) { n.AdvancedLoanAmount = d("1000.001") }, wantErr: models.ErrInvalidAmount},
		{name: "rate above one", mutate: func(n *NewLoan) { n.InitialInterestRate = decimal.NewNullDecimal(d("1.5")) }, wantErr: models.ErrInvalidRate},
		{name: "unknown status", mutate: func(n *NewLoan) { n.Status = "archived" }, wantErr: models.ErrInvalidStatus},
		{name: "missing date", mutate: func(n *NewLoan) { n.FirstLoanDate = time.Time{} }, wantErr: models.ErrInvalidDate},
		{name: "unknown borrower", mutate: func(n *NewLoan) { n.BorrowerID = uuid.New() }, wantErr: models.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := e.ledger.CreateLoan(context.Background(), req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreateLoan_DefaultRateAndDuplicateCard(t *testing.T) {
	e := newTestEnv(t)
	loan := e.createLoan(t, "HM-104", "2024-01-15", "0.12")
	assert.Equal(t, models.LoanStatusActive, loan.Status)

	_, err := e.ledger.CreateLoan(context.Background(), NewLoan{
		CardNumber:         "HM-104",
		BorrowerID:         e.borrower.ID,
		AdvancedLoanAmount: d("10.00"),
		FirstWiredAmount:   d("10.00"),
		FirstLoanDate:      date("2024-01-15"),
	})
	assert.ErrorIs(t, err, models.ErrDuplicate)

	other, err := e.ledger.CreateLoan(context.Background(), NewLoan{
		CardNumber:         "HM-105",
		BorrowerID:         e.borrower.ID,
		AdvancedLoanAmount: d("10.00"),
		FirstWiredAmount:   d("10.00"),
		FirstLoanDate:      date("2024-01-15"),
	})
	require.NoError(t, err)
	assert.Equal(t, "0.13", other.InitialInterestRate.String())
}

func TestSettlementTotalStaysConsistent(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	loan := e.createLoan(t, "HM-110", "2024-01-15", "0.12")

	assertConsistent := func(want string) {
		t.Helper()
		fetched, err := e.store.GetLoan(ctx, loan.ID)
		require.NoError(t, err)
		sum, err := e.store.SumSettlementCharges(ctx, loan.ID)
		require.NoError(t, err)
		assert.True(t, fetched.SettlementChargesTotal.Equal(sum))
		assert.Equal(t, want, fetched.SettlementChargesTotal.StringFixed(2))
	}

	title, err := e.ledger.AddSettlementCharge(ctx, "HM-110", NewCharge{ChargeTypeName: "Title Insurance", Amount: d("750.25")})
	require.NoError(t, err)
	assertConsistent("5750.25")

	_, err = e.ledger.UpdateSettlementCharge(ctx, title.ID, ChargeUpdate{ChargeTypeName: "Title Insurance", Amount: d("800.00")})
	require.NoError(t, err)
	assertConsistent("5800.00")

	require.NoError(t, e.ledger.DeleteSettlementCharge(ctx, title.ID))
	assertConsistent("5000.00")

	charges, err := e.store.GetSettlementChargesForLoan(ctx, loan.ID)
	require.NoError(t, err)
	for _, c := range charges {
		require.NoError(t, e.ledger.DeleteSettlementCharge(ctx, c.ID))
	}
	assertConsistent("0.00")

	total, err := e.ledger.RecomputeSettlementTotal(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, total.IsZero())

	assert.ErrorIs(t, e.ledger.DeleteSettlementCharge(ctx, uuid.New()), models.ErrNotFound)
}

func TestDeleteChargeTypeInUse(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.createLoan(t, "HM-111", "2024-01-15", "0.12")

	types, err := e.ledger.ListChargeTypes(ctx, true)
	require.NoError(t, err)
	require.Len(t, types, 3)
	assert.Equal(t, "Origination Fee", types[0].Name)

	assert.ErrorIs(t, e.ledger.DeleteChargeType(ctx, types[0].ID), models.ErrChargeTypeInUse)
	assert.NoError(t, e.ledger.DeleteChargeType(ctx, types[1].ID))
}

func TestPeriodInterest_DrawComposition(t *testing.T) {
	l := NewLedger(nil)
	loan := &models.Loan{
		AdvancedLoanAmount:  d("100000"),
		InitialInterestRate: d("0.12"),
		FirstLoanDate:       date("2024-01-15"),
	}
	draws := []*models.Draw{{DrawNumber: 2, DrawDate: date("2024-02-10"), Amount: d("50000"), InterestRate: d("0.10")}}

	assert.Equal(t, "1000.00", l.PeriodInterest(loan, draws, nil, date("2024-02-09")).StringFixed(2))
	assert.Equal(t, "1416.67", l.PeriodInterest(loan, draws, nil, date("2024-02-10")).StringFixed(2))
	assert.Equal(t, "1416.67", l.PeriodInterest(loan, draws, nil, date("2024-03-15")).StringFixed(2))
}

func TestPeriodInterest_RoundsOnceHalfEven(t *testing.T) {
	l := NewLedger(nil)
	// 1000.125 rounds half-even to 1000.12.
	loan := &models.Loan{AdvancedLoanAmount: d("100012.5"), InitialInterestRate: d("0.12"), FirstLoanDate: date("2024-01-01")}
	assert.Equal(t, "1000.12", l.PeriodInterest(loan, nil, nil, date("2024-02-01")).StringFixed(2))

	// 0.0126 per draw; rounding each one first would give 0.02.
	draws := []*models.Draw{
		{DrawDate: date("2024-01-01"), Amount: d("1.26"), InterestRate: d("0.12")},
		{DrawDate: date("2024-01-01"), Amount: d("1.26"), InterestRate: d("0.12")},
	}
	zero := &models.Loan{AdvancedLoanAmount: decimal.Zero, InitialInterestRate: d("0.12"), FirstLoanDate: date("2024-01-01")}
	assert.Equal(t, "0.03", l.PeriodInterest(zero, draws, nil, date("2024-02-01")).StringFixed(2))
}

func TestScheduleEndDate(t *testing.T) {
	maturity := date("2024-09-30")
	tests := []struct {
		name       string
		loan       *models.Loan
		extensions []*models.Extension
		want       string
	}{
		{name: "default term", loan: &models.Loan{FirstLoanDate: date("2024-01-31")}, want: "2025-01-31"},
		{name: "maturity date", loan: &models.Loan{FirstLoanDate: date("2024-01-31"), MaturityDate: &maturity}, want: "2024-09-30"},
		{
			name:       "extensions add months",
			loan:       &models.Loan{FirstLoanDate: date("2024-01-15")},
			extensions: []*models.Extension{{Months: 3}, {Months: 2}},
			want:       "2025-06-15",
		},
	}

	l := NewLedger(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, calendar.Format(l.ScheduleEndDate(tt.loan, tt.extensions)))
		})
	}
}

func TestGenerateSchedule_Idempotent(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.createLoan(t, "HM-120", "2024-01-15", "0.12")

	first, err := e.ledger.GenerateSchedule(ctx, "HM-120")
	require.NoError(t, err)
	assert.Equal(t, 13, first.Created)
	assert.Equal(t, 0, first.Updated)

	before, err := e.ledger.ListSchedule(ctx, "HM-120")
	require.NoError(t, err)
	require.Len(t, before.Periods, 13)
	assert.Equal(t, 1, before.Periods[0].PeriodNumber)
	assert.Equal(t, "2024-01-15", before.Periods[0].ChargeDateString())
	assert.Equal(t, "2025-01-15", before.Periods[12].ChargeDateString())

	second, err := e.ledger.GenerateSchedule(ctx, "HM-120")
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 13, second.Updated)

	after, err := e.ledger.ListSchedule(ctx, "HM-120")
	require.NoError(t, err)
	require.Len(t, after.Periods, len(before.Periods))
	for i := range before.Periods {
		assert.Equal(t, before.Periods[i].ID, after.Periods[i].ID)
		assert.Equal(t, before.Periods[i].ChargeDateString(), after.Periods[i].ChargeDateString())
		assert.True(t, before.Periods[i].CalculatedAmount.Equal(after.Periods[i].CalculatedAmount))
	}
	assert.Equal(t, "13000.00", after.Total.StringFixed(2))
	assert.Equal(t, 13.0, testutil.ToFloat64(e.metrics.PeriodsCreated))
}

func TestGenerateSchedule_MonthEndRollover(t *testing.T) {
	tests := []struct {
		funded string
		want   []string
	}{
		{funded: "2024-01-31", want: []string{"2024-01-31", "2024-02-29", "2024-03-31", "2024-04-30"}},
		{funded: "2023-01-31", want: []string{"2023-01-31", "2023-02-28", "2023-03-31", "2023-04-30"}},
		{funded: "2024-11-30", want: []string{"2024-11-30", "2024-12-30", "2025-01-30", "2025-02-28"}},
	}

	for _, tt := range tests {
		t.Run(tt.funded, func(t *testing.T) {
			e := newTestEnv(t)
			ctx := context.Background()
			e.createLoan(t, "HM-121", tt.funded, "0.12")

			_, err := e.ledger.GenerateSchedule(ctx, "HM-121")
			require.NoError(t, err)
			view, err := e.ledger.ListSchedule(ctx, "HM-121")
			require.NoError(t, err)
			require.GreaterOrEqual(t, len(view.Periods), len(tt.want))
			for i, want := range tt.want {
				assert.Equal(t, i+1, view.Periods[i].PeriodNumber)
				assert.Equal(t, want, view.Periods[i].ChargeDateString())
			}
		})
	}
}

func TestGenerateSchedule_DrawsAndPostedPeriods(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.createLoan(t, "HM-122", "2024-01-15", "0.12")

	_, err := e.ledger.GenerateSchedule(ctx, "HM-122")
	require.NoError(t, err)
	view, err := e.ledger.ListSchedule(ctx, "HM-122")
	require.NoError(t, err)
	first := view.Periods[0]
	assert.Equal(t, "1000.00", first.CalculatedAmount.StringFixed(2))

	_, err = e.ledger.PostPeriod(ctx, first.ID, PostRequest{ReceivedDate: "2024-02-16"}, "alice")
	require.NoError(t, err)

	_, err = e.ledger.AddDraw(ctx, "HM-122", NewDraw{
		DrawDate:     date("2024-02-01"),
		Amount:       d("50000.00"),
		InterestRate: decimal.NewNullDecimal(d("0.10")),
	})
	require.NoError(t, err)

	res, err := e.ledger.GenerateSchedule(ctx, "HM-122")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 12, res.Updated)
	assert.Equal(t, 1, res.Skipped)

	view, err = e.ledger.ListSchedule(ctx, "HM-122")
	require.NoError(t, err)
	assert.Equal(t, "1000.00", view.Periods[0].CalculatedAmount.StringFixed(2))
	assert.True(t, view.Periods[0].IsPosted)
	assert.Equal(t, "1416.67", view.Periods[1].CalculatedAmount.StringFixed(2))
	assert.Equal(t, "1000.00", view.TotalPosted.StringFixed(2))
}

func TestGenerateSchedule_ExtensionRate(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.createLoan(t, "HM-123", "2024-01-15", "0.12")

	_, err := e.ledger.AddExtension(ctx, "HM-123", NewExtension{Months: 2})
	require.NoError(t, err)
	ext, err := e.ledger.AddExtension(ctx, "HM-123", NewExtension{
		Months:       1,
		ExtensionFee: d("500.00"),
		InterestRate: decimal.NewNullDecimal(d("0.15")),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, ext.ExtensionNumber)

	res, err := e.ledger.GenerateSchedule(ctx, "HM-123")
	require.NoError(t, err)
	assert.Equal(t, 16, res.Created)
	assert.Equal(t, "2025-04-15", calendar.Format(res.EndDate))

	view, err := e.ledger.ListSchedule(ctx, "HM-123")
	require.NoError(t, err)
	require.Len(t, view.Periods, 16)
	assert.Equal(t, "1000.00", view.Periods[12].CalculatedAmount.StringFixed(2))
	assert.Equal(t, "1000.00", view.Periods[14].CalculatedAmount.StringFixed(2))
	assert.Equal(t, "2025-04-15", view.Periods[15].ChargeDateString())
	assert.Equal(t, "1250.00", view.Periods[15].CalculatedAmount.StringFixed(2))
}

func TestGenerateSchedule_UnknownLoan(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.ledger.GenerateSchedule(context.Background(), "HM-404")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAddDailyPeriod(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	_, err := e.ledger.CreateLoan(ctx, NewLoan{
		CardNumber:          "HM-130",
		BorrowerID:          e.borrower.ID,
		AdvancedLoanAmount:  d("36500.00"),
		FirstWiredAmount:    d("36500.00"),
		InitialInterestRate: decimal.NewNullDecimal(d("0.10")),
		FirstLoanDate:       date("2024-01-15"),
	})
	require.NoError(t, err)

	stub, err := e.ledger.AddDailyPeriod(ctx, "HM-130", "2024-01-25")
	require.NoError(t, err)
	assert.Equal(t, models.PeriodTypeDaily, stub.PeriodType)
	assert.Equal(t, models.DailyPeriodNumber, stub.PeriodNumber)
	assert.Equal(t, "100.00", stub.CalculatedAmount.StringFixed(2))

	_, err = e.ledger.GenerateSchedule(ctx, "HM-130")
	require.NoError(t, err)

	moved, err := e.ledger.AddDailyPeriod(ctx, "HM-130", "2024-03-20")
	require.NoError(t, err)
	assert.Equal(t, stub.ID, moved.ID)
	assert.Equal(t, "50.00", moved.CalculatedAmount.StringFixed(2))

	_, err = e.ledger.PostPeriod(ctx, moved.ID, PostRequest{}, "alice")
	require.NoError(t, err)
	_, err = e.ledger.AddDailyPeriod(ctx, "HM-130", "2024-03-25")
	assert.ErrorIs(t, err, models.ErrPeriodImmutable)

	_, err = e.ledger.AddDailyPeriod(ctx, "HM-130", "2024-13-01")
	assert.ErrorIs(t, err, models.ErrInvalidDate)
	_, err = e.ledger.AddDailyPeriod(ctx, "HM-130", "2024-01-01")
	assert.ErrorIs(t, err, models.ErrInvalidDate)
}

func TestPostPeriod(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.createLoan(t, "HM-140", "2024-01-15", "0.12")
	_, err := e.ledger.GenerateSchedule(ctx, "HM-140")
	require.NoError(t, err)
	view, err := e.ledger.ListSchedule(ctx, "HM-140")
	require.NoError(t, err)
	p := view.Periods[0]

	tests := []struct {
		name    string
		req     PostRequest
		actor   string
		wantErr error
	}{
		{name: "malformed received date", req: PostRequest{ReceivedDate: "02/15/2024"}, actor: "alice", wantErr: models.ErrInvalidDate},
		{name: "malformed amount", req: PostRequest{AdjustedAmount: "12,00"}, actor: "alice", wantErr: models.ErrInvalidAmount},
		{name: "negative amount", req: PostRequest{AdjustedAmount: "-5.00"}, actor: "alice", wantErr: models.ErrInvalidAmount},
		{name: "missing actor", req: PostRequest{}, actor: " ", wantErr: models.ErrMissingActor},
		{name: "unknown period", req: PostRequest{}, actor: "alice", wantErr: models.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := p.ID
			if tt.wantErr == models.ErrNotFound {
				id = uuid.New()
			}
			_, err := e.ledger.PostPeriod(ctx, id, tt.req, tt.actor)
			assert.ErrorIs(t, err, tt.wantErr)

			unchanged, err := e.store.GetPeriod(ctx, p.ID)
			require.NoError(t, err)
			assert.False(t, unchanged.IsPosted)
			assert.Nil(t, unchanged.ReceivedDate)
		})
	}

	posted, err := e.ledger.PostPeriod(ctx, p.ID, PostRequest{
		ReceivedDate:   "2024-02-16",
		InvoiceNumber:  "INV-0042",
		AdjustedAmount: "990.00",
		PaymentSource:  "wire",
	}, "alice")
	require.NoError(t, err)
	assert.True(t, posted.IsPosted)
	assert.Equal(t, "alice", posted.PostedBy)
	require.NotNil(t, posted.PostedAt)
	assert.Equal(t, fixedNow, *posted.PostedAt)
	assert.Equal(t, "990.00", posted.EffectiveAmount().StringFixed(2))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.PeriodsPosted))

	_, err = e.ledger.PostPeriod(ctx, p.ID, PostRequest{}, "bob")
	assert.ErrorIs(t, err, models.ErrAlreadyPosted)

	matches, err := e.ledger.SearchInvoices(ctx, "0042")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "interest_schedule", matches[0].Source)
}

func TestPostedPeriodIsImmutable(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.createLoan(t, "HM-141", "2024-01-15", "0.12")
	_, err := e.ledger.GenerateSchedule(ctx, "HM-141")
	require.NoError(t, err)
	view, err := e.ledger.ListSchedule(ctx, "HM-141")
	require.NoError(t, err)
	p := view.Periods[0]

	_, err = e.ledger.PostPeriod(ctx, p.ID, PostRequest{}, "alice")
	require.NoError(t, err)

	amount := "1.00"
	_, err = e.ledger.UpdatePeriod(ctx, p.ID, PeriodUpdate{AdjustedAmount: &amount})
	assert.ErrorIs(t, err, models.ErrPeriodImmutable)
	_, err = e.ledger.UpdatePeriod(ctx, p.ID, PeriodUpdate{ChargeDate: "2024-03-01"})
	assert.ErrorIs(t, err, models.ErrPeriodImmutable)
	assert.ErrorIs(t, e.ledger.DeletePeriod(ctx, p.ID), models.ErrPeriodImmutable)

	got, err := e.store.GetPeriod(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ChargeDateString(), got.ChargeDateString())
	assert.True(t, p.CalculatedAmount.Equal(got.CalculatedAmount))
	assert.False(t, got.AdjustedAmount.Valid)
}

func TestUpdateAndDeleteOpenPeriod(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.createLoan(t, "HM-142", "2024-01-15", "0.12")
	_, err := e.ledger.GenerateSchedule(ctx, "HM-142")
	require.NoError(t, err)
	view, err := e.ledger.ListSchedule(ctx, "HM-142")
	require.NoError(t, err)
	p := view.Periods[0]

	amount := "950.50"
	updated, err := e.ledger.UpdatePeriod(ctx, p.ID, PeriodUpdate{ChargeDate: "2024-02-20", AdjustedAmount: &amount})
	require.NoError(t, err)
	assert.Equal(t, "2024-02-20", updated.ChargeDateString())
	assert.Equal(t, "950.50", updated.EffectiveAmount().StringFixed(2))

	blank := ""
	updated, err = e.ledger.UpdatePeriod(ctx, p.ID, PeriodUpdate{AdjustedAmount: &blank})
	require.NoError(t, err)
	assert.False(t, updated.AdjustedAmount.Valid)

	bad := "abc"
	_, err = e.ledger.UpdatePeriod(ctx, p.ID, PeriodUpdate{AdjustedAmount: &bad})
	assert.ErrorIs(t, err, models.ErrInvalidAmount)

	require.NoError(t, e.ledger.DeletePeriod(ctx, p.ID))
	assert.ErrorIs(t, e.ledger.DeletePeriod(ctx, p.ID), models.ErrNotFound)

	res, err := e.ledger.GenerateSchedule(ctx, "HM-142")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
}

func TestPostPeriod_ConcurrentPostsSerialize(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.createLoan(t, "HM-150", "2024-01-15", "0.12")
	_, err := e.ledger.GenerateSchedule(ctx, "HM-150")
	require.NoError(t, err)
	view, err := e.ledger.ListSchedule(ctx, "HM-150")
	require.NoError(t, err)
	id := view.Periods[0].ID

	const callers = 4
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make(chan error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(actor string) {
			defer wg.Done()
			<-start
			_, err := e.ledger.PostPeriod(ctx, id, PostRequest{InvoiceNumber: actor}, actor)
			errs <- err
		}(string(rune('a' + i)))
	}
	close(start)
	wg.Wait()
	close(errs)

	var ok, already int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, models.ErrAlreadyPosted):
			already++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, already)
}

func TestCoverPrepaid(t *testing.T) {
	tests := []struct {
		name       string
		amount     string
		firstWired string
		rate       string
		months     int
		remainder  string
	}{
		{name: "remainder", amount: "2600.00", firstWired: "100000", rate: "0.12", months: 2, remainder: "600.00"},
		{name: "exact", amount: "3000.00", firstWired: "100000", rate: "0.12", months: 3, remainder: "0.00"},
		{name: "non-terminating monthly", amount: "3250.00", firstWired: "100000", rate: "0.13", months: 3, remainder: "0.00"},
		{name: "less than a month", amount: "500.00", firstWired: "100000", rate: "0.12", months: 0, remainder: "500.00"},
		{name: "zero rate", amount: "500.00", firstWired: "100000", rate: "0", months: 0, remainder: "500.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cov := CoverPrepaid(d(tt.amount), d(tt.firstWired), d(tt.rate))
			assert.Equal(t, tt.months, cov.MonthsCovered)
			assert.Equal(t, tt.remainder, cov.Remainder.StringFixed(2))
		})
	}
}

func TestAmortizePrepaid_RemainderIsLoggedNotFatal(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	loan, err := e.ledger.CreateLoan(ctx, NewLoan{
		CardNumber:          "HM-160",
		BorrowerID:          e.borrower.ID,
		AdvancedLoanAmount:  d("102600.00"),
		FirstWiredAmount:    d("100000.00"),
		InitialInterestRate: decimal.NewNullDecimal(d("0.12")),
		FirstLoanDate:       date("2024-01-15"),
		Charges:             []NewCharge{{ChargeTypeName: models.DefaultPrepaidChargeName, Amount: d("2600.00")}},
	})
	require.NoError(t, err)

	record, err := e.store.GetPrepaidInterest(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, record.MonthsCovered)
	assert.Equal(t, "1000.00", record.MonthlyAmount.StringFixed(2))
	assert.Equal(t, "2600.00", record.InitialAmount.StringFixed(2))
	assert.True(t, record.RemainingBalance.Equal(record.InitialAmount))
	assert.Equal(t, 2, record.MonthsRemaining())

	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.Anomalies.WithLabelValues(metrics.AnomalyPrepaidRemainder)))
	assert.Contains(t, e.logs.String(), "remainder=600.00")

	again, err := e.ledger.AmortizePrepaid(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, again.ID)
	assert.Equal(t, "600.00", again.Remainder.StringFixed(2))
}

func TestAmortizePrepaid_NewestChargeWins(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	loan := e.createLoan(t, "HM-161", "2024-01-15", "0.12")

	none, err := e.ledger.AmortizePrepaid(ctx, loan.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	// Monthly interest on 95000 at 12% is 950.
	_, err = e.ledger.AddSettlementCharge(ctx, "HM-161", NewCharge{ChargeTypeName: models.DefaultPrepaidChargeName, Amount: d("1900.00")})
	require.NoError(t, err)
	newest, err := e.ledger.AddSettlementCharge(ctx, "HM-161", NewCharge{ChargeTypeName: models.DefaultPrepaidChargeName, Amount: d("2850.00")})
	require.NoError(t, err)

	record, err := e.store.GetPrepaidInterest(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, newest.ID, record.SettlementChargeID)
	assert.Equal(t, 3, record.MonthsCovered)
	assert.Equal(t, 0.0, testutil.ToFloat64(e.metrics.Anomalies.WithLabelValues(metrics.AnomalyPrepaidRemainder)))

	require.NoError(t, e.ledger.DeleteSettlementCharge(ctx, newest.ID))
	record, err = e.store.GetPrepaidInterest(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, record.MonthsCovered)
}

func TestAmortizePrepaid_ChargeRetypedDropsRecord(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	loan := e.createLoan(t, "HM-162", "2024-01-15", "0.12")

	charge, err := e.ledger.AddSettlementCharge(ctx, "HM-162", NewCharge{ChargeTypeName: models.DefaultPrepaidChargeName, Amount: d("950.00")})
	require.NoError(t, err)
	_, err = e.ledger.UpdateSettlementCharge(ctx, charge.ID, ChargeUpdate{ChargeTypeName: "Title Insurance", Amount: d("950.00")})
	require.NoError(t, err)

	_, err = e.store.GetPrepaidInterest(ctx, loan.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAmortizePrepaid_NonPositiveMonthlyInterest(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	loan, err := e.ledger.CreateLoan(ctx, NewLoan{
		CardNumber:          "HM-163",
		BorrowerID:          e.borrower.ID,
		AdvancedLoanAmount:  d("10500.00"),
		FirstWiredAmount:    d("10000.00"),
		InitialInterestRate: decimal.NewNullDecimal(decimal.Zero),
		FirstLoanDate:       date("2024-01-15"),
		Charges:             []NewCharge{{ChargeTypeName: models.DefaultPrepaidChargeName, Amount: d("500.00")}},
	})
	require.NoError(t, err)

	record, err := e.store.GetPrepaidInterest(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, record.MonthsCovered)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.Anomalies.WithLabelValues(metrics.AnomalyNonPositiveInterest)))
}

func TestDrawsAndExtensionsAreNumbered(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	loan := e.createLoan(t, "HM-170", "2024-01-15", "0.12")

	first, err := e.ledger.AddDraw(ctx, "HM-170", NewDraw{DrawDate: date("2024-02-01"), Amount: d("10000.00")})
	require.NoError(t, err)
	second, err := e.ledger.AddDraw(ctx, "HM-170", NewDraw{DrawDate: date("2024-03-01"), Amount: d("5000.00"), DrawFee: d("150.00")})
	require.NoError(t, err)
	assert.Equal(t, 2, first.DrawNumber)
	assert.Equal(t, 3, second.DrawNumber)
	assert.True(t, first.InterestRate.Equal(loan.InitialInterestRate))

	_, err = e.ledger.AddDraw(ctx, "HM-170", NewDraw{DrawDate: date("2024-03-01"), Amount: d("-1.00")})
	assert.ErrorIs(t, err, models.ErrInvalidAmount)
	_, err = e.ledger.AddExtension(ctx, "HM-170", NewExtension{Months: 0})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)

	detail, err := e.ledger.GetLoanDetail(ctx, "HM-170")
	require.NoError(t, err)
	assert.Equal(t, "115000.00", detail.TotalFunded.StringFixed(2))
	assert.Equal(t, "1150.00", detail.MonthlyInterest.StringFixed(2))
	assert.True(t, detail.CheckpointValid)
	assert.Len(t, detail.Draws, 2)
	assert.Nil(t, detail.Prepaid)
}

func TestLoanLifecycle(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.createLoan(t, "HM-180", "2024-01-15", "0.12")

	_, err := e.ledger.ChangeLoanStatus(ctx, "HM-180", "archived")
	assert.ErrorIs(t, err, models.ErrInvalidStatus)
	loan, err := e.ledger.ChangeLoanStatus(ctx, "HM-180", models.LoanStatusClosed)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusClosed, loan.Status)

	maturity := date("2024-07-15")
	notes := "refinanced"
	loan, err = e.ledger.UpdateLoan(ctx, "HM-180", LoanUpdate{MaturityDate: &maturity, Notes: &notes})
	require.NoError(t, err)
	require.NotNil(t, loan.MaturityDate)

	res, err := e.ledger.GenerateSchedule(ctx, "HM-180")
	require.NoError(t, err)
	assert.Equal(t, 7, res.Created)

	assert.ErrorIs(t, e.ledger.DeleteBorrower(ctx, e.borrower.ID), models.ErrBorrowerInUse)
	require.NoError(t, e.ledger.DeleteLoan(ctx, "HM-180"))
	_, err = e.ledger.GetLoan(ctx, "HM-180")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, e.ledger.DeleteLoan(ctx, "HM-180"), models.ErrNotFound)

	borrowers, err := e.ledger.ListBorrowers(ctx)
	require.NoError(t, err)
	require.Len(t, borrowers, 1)
	assert.Equal(t, 0, borrowers[0].LoanCount)
	assert.NoError(t, e.ledger.DeleteBorrower(ctx, e.borrower.ID))
}

func TestSearchInvoices_RequiresQuery(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.ledger.SearchInvoices(context.Background(), "  ")
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
}
