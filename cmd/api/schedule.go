package main

import (
	"net/http"

	"github.com/mcclellann/loanledger/pkg/auth"
	"github.com/mcclellann/loanledger/pkg/ledger"
)

type dailyPeriodRequest struct {
	StubDate string `json:"stub_date" validate:"required"`
}

// periodUpdateRequest leaves a field alone when it is absent. An empty adjusted_amount
// clears the adjustment.
type periodUpdateRequest struct {
	ChargeDate     string  `json:"charge_date"`
	AdjustedAmount *string `json:"adjusted_amount"`
	InvoiceNumber  *string `json:"invoice_number" validate:"omitempty,max=100"`
}

// postPeriodRequest fields are parsed by the ledger so a malformed value is reported
// with the same error as any other caller would get.
type postPeriodRequest struct {
	ReceivedDate   string `json:"received_date"`
	InvoiceNumber  string `json:"invoice_number" validate:"max=100"`
	AdjustedAmount string `json:"adjusted_amount"`
	PaymentSource  string `json:"payment_source" validate:"max=100"`
}

func (s *Server) generateScheduleHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.ledger.GenerateSchedule(r.Context(), cardNumber(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, res)
}

func (s *Server) listScheduleHandler(w http.ResponseWriter, r *http.Request) {
	view, err := s.ledger.ListSchedule(r.Context(), cardNumber(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, view)
}

func (s *Server) addDailyPeriodHandler(w http.ResponseWriter, r *http.Request) {
	var req dailyPeriodRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	period, err := s.ledger.AddDailyPeriod(r.Context(), cardNumber(r), req.StubDate)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, period)
}

func (s *Server) updatePeriodHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req periodUpdateRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	period, err := s.ledger.UpdatePeriod(r.Context(), id, ledger.PeriodUpdate(req))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, period)
}

func (s *Server) deletePeriodHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.ledger.DeletePeriod(r.Context(), id); err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// postPeriodHandler attributes the posting to the authenticated actor.
func (s *Server) postPeriodHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req postPeriodRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	actor, _ := auth.ActorFromContext(r.Context())

	period, err := s.ledger.PostPeriod(r.Context(), id, ledger.PostRequest(req), actor)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, period)
}
