package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/loanledger/pkg/auth"
	"github.com/mcclellann/loanledger/pkg/ledger"
	"github.com/mcclellann/loanledger/pkg/metrics"
	"github.com/mcclellann/loanledger/pkg/money"
	"github.com/mcclellann/loanledger/pkg/store"
)

// Server holds the ledger instance.
type Server struct {
	ledger   *ledger.Ledger
	storage  store.Storage // Keep a reference to the storage to close it
	metrics  *metrics.Metrics
	validate *validator.Validate
}

func NewServer(l *ledger.Ledger, s store.Storage, m *metrics.Metrics) *Server {
	v := validator.New()
	// Report json names in field errors.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Server{ledger: l, storage: s, metrics: m, validate: v}
}

// Routes builds the router. Everything except /health and /metrics needs a bearer token.
func (s *Server) Routes(secret string) http.Handler {
	router := mux.NewRouter()
	router.Use(recovery, auth.Middleware(secret, "/health", "/metrics"), requestLogging)

	router.HandleFunc("/health", handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/borrowers", s.listBorrowersHandler).Methods(http.MethodGet)
	router.HandleFunc("/borrowers", s.createBorrowerHandler).Methods(http.MethodPost)
	router.HandleFunc("/borrowers/{id}", s.deleteBorrowerHandler).Methods(http.MethodDelete)

	router.HandleFunc("/charge-types", s.listChargeTypesHandler).Methods(http.MethodGet)
	router.HandleFunc("/charge-types", s.createChargeTypeHandler).Methods(http.MethodPost)
	router.HandleFunc("/charge-types/{id}", s.deleteChargeTypeHandler).Methods(http.MethodDelete)

	router.HandleFunc("/loans", s.listLoansHandler).Methods(http.MethodGet)
	router.HandleFunc("/loans", s.createLoanHandler).Methods(http.MethodPost)
	router.HandleFunc("/loans/{card}", s.getLoanHandler).Methods(http.MethodGet)
	router.HandleFunc("/loans/{card}", s.updateLoanHandler).Methods(http.MethodPatch)
	router.HandleFunc("/loans/{card}", s.deleteLoanHandler).Methods(http.MethodDelete)
	router.HandleFunc("/loans/{card}/status", s.changeStatusHandler).Methods(http.MethodPut)
	router.HandleFunc("/loans/{card}/checkpoint", s.checkpointHandler).Methods(http.MethodGet)
	router.HandleFunc("/loans/{card}/charges", s.addChargeHandler).Methods(http.MethodPost)
	router.HandleFunc("/loans/{card}/draws", s.addDrawHandler).Methods(http.MethodPost)
	router.HandleFunc("/loans/{card}/extensions", s.addExtensionHandler).Methods(http.MethodPost)
	router.HandleFunc("/loans/{card}/prepaid", s.amortizePrepaidHandler).Methods(http.MethodPost)
	router.HandleFunc("/loans/{card}/schedule", s.listScheduleHandler).Methods(http.MethodGet)
	router.HandleFunc("/loans/{card}/schedule", s.generateScheduleHandler).Methods(http.MethodPost)
	router.HandleFunc("/loans/{card}/schedule/daily", s.addDailyPeriodHandler).Methods(http.MethodPost)

	router.HandleFunc("/charges/{id}", s.updateChargeHandler).Methods(http.MethodPut)
	router.HandleFunc("/charges/{id}", s.deleteChargeHandler).Methods(http.MethodDelete)

	router.HandleFunc("/periods/{id}", s.updatePeriodHandler).Methods(http.MethodPatch)
	router.HandleFunc("/periods/{id}", s.deletePeriodHandler).Methods(http.MethodDelete)
	router.HandleFunc("/periods/{id}/post", s.postPeriodHandler).Methods(http.MethodPost)

	router.HandleFunc("/invoices", s.searchInvoicesHandler).Methods(http.MethodGet)

	return router
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		slog.Error("failed to write health response", "error", err)
	}
}

// pathID parses the {id} route variable, answering 400 itself when it is not a UUID.
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondAppError(w, r, ErrInvalidID, nil)
		return uuid.Nil, false
	}
	return id, true
}

func cardNumber(r *http.Request) string {
	return mux.Vars(r)["card"]
}

// optionalAmount parses an amount field where blank means zero.
func optionalAmount(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	return money.ParseAmount(s)
}

// optionalRate parses a rate field where blank means unset.
func optionalRate(s string) (decimal.NullDecimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.NullDecimal{}, nil
	}
	rate, err := money.ParseRate(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(rate), nil
}
