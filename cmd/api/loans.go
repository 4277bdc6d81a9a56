package main

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/mcclellann/loanledger/pkg/calendar"
	"github.com/mcclellann/loanledger/pkg/ledger"
	"github.com/mcclellann/loanledger/pkg/models"
)

type createBorrowerRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone" validate:"max=50"`
	Address string `json:"address"`
	Notes   string `json:"notes"`
}

type createChargeTypeRequest struct {
	Name          string `json:"name" validate:"required,max=100"`
	Description   string `json:"description"`
	DisplayOrder  int    `json:"display_order" validate:"gte=0"`
	IsActive      *bool  `json:"is_active"`
	IsRequired    bool   `json:"is_required"`
	DefaultAmount string `json:"default_amount" validate:"omitempty,numeric"`
}

// chargeRequest names its type by id or by catalog name.
type chargeRequest struct {
	ChargeTypeID   string `json:"charge_type_id" validate:"required_without=ChargeTypeName,omitempty,uuid"`
	ChargeTypeName string `json:"charge_type"`
	Amount         string `json:"amount" validate:"required,numeric"`
	InvoiceNumber  string `json:"invoice_number" validate:"max=100"`
	Notes          string `json:"notes"`
}

type createLoanRequest struct {
	CardNumber          string          `json:"card_number" validate:"required,max=50"`
	BorrowerID          string          `json:"borrower_id" validate:"required,uuid"`
	PropertyAddress     string          `json:"property_address"`
	AdvancedLoanAmount  string          `json:"advanced_loan_amount" validate:"required,numeric"`
	AdvancedLoanInvoice string          `json:"advanced_loan_invoice" validate:"max=100"`
	FirstWiredAmount    string          `json:"first_wired_amount" validate:"required,numeric"`
	InitialInterestRate string          `json:"initial_interest_rate" validate:"omitempty,numeric"`
	FirstLoanDate       string          `json:"first_loan_date" validate:"required,datetime=2006-01-02"`
	MaturityDate        string          `json:"maturity_date" validate:"omitempty,datetime=2006-01-02"`
	Status              string          `json:"status" validate:"omitempty,oneof=pending active closed defaulted"`
	Notes               string          `json:"notes"`
	Charges             []chargeRequest `json:"settlement_charges" validate:"dive"`
}

type updateLoanRequest struct {
	PropertyAddress     *string `json:"property_address"`
	AdvancedLoanInvoice *string `json:"advanced_loan_invoice" validate:"omitempty,max=100"`
	InitialInterestRate *string `json:"initial_interest_rate" validate:"omitempty,numeric"`
	MaturityDate        *string `json:"maturity_date" validate:"omitempty,datetime=2006-01-02"`
	ClearMaturityDate   bool    `json:"clear_maturity_date"`
	Notes               *string `json:"notes"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

type drawRequest struct {
	DrawDate      string `json:"draw_date" validate:"required,datetime=2006-01-02"`
	Amount        string `json:"amount" validate:"required,numeric"`
	InterestRate  string `json:"interest_rate" validate:"omitempty,numeric"`
	InvoiceNumber string `json:"invoice_number" validate:"max=100"`
	DrawFee       string `json:"draw_fee" validate:"omitempty,numeric"`
	InspectionFee string `json:"inspection_fee" validate:"omitempty,numeric"`
	Notes         string `json:"notes"`
}

type extensionRequest struct {
	Months        int    `json:"months" validate:"required,gte=1"`
	ExtensionFee  string `json:"extension_fee" validate:"omitempty,numeric"`
	InterestRate  string `json:"interest_rate" validate:"omitempty,numeric"`
	InvoiceNumber string `json:"invoice_number" validate:"max=100"`
	Notes         string `json:"notes"`
}

func (s *Server) createBorrowerHandler(w http.ResponseWriter, r *http.Request) {
	var req createBorrowerRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	b, err := s.ledger.CreateBorrower(r.Context(), ledger.NewBorrower(req))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusCreated, b)
}

func (s *Server) listBorrowersHandler(w http.ResponseWriter, r *http.Request) {
	borrowers, err := s.ledger.ListBorrowers(r.Context())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, borrowers)
}

func (s *Server) deleteBorrowerHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.ledger.DeleteBorrower(r.Context(), id); err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createChargeTypeHandler(w http.ResponseWriter, r *http.Request) {
	var req createChargeTypeRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	amount, err := optionalAmount(req.DefaultAmount)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	ct, err := s.ledger.CreateChargeType(r.Context(), ledger.NewChargeType{
		Name:          req.Name,
		Description:   req.Description,
		DisplayOrder:  req.DisplayOrder,
		IsActive:      active,
		IsRequired:    req.IsRequired,
		DefaultAmount: amount,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusCreated, ct)
}

func (s *Server) listChargeTypesHandler(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	types, err := s.ledger.ListChargeTypes(r.Context(), activeOnly)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, types)
}

func (s *Server) deleteChargeTypeHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.ledger.DeleteChargeType(r.Context(), id); err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req createLoanRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	newLoan, err := req.toNewLoan()
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	loan, err := s.ledger.CreateLoan(r.Context(), newLoan)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusCreated, loan)
}

func (req createLoanRequest) toNewLoan() (ledger.NewLoan, error) {
	var (
		n   ledger.NewLoan
		err error
	)
	n.CardNumber = req.CardNumber
	n.BorrowerID = uuid.MustParse(req.BorrowerID)
	n.PropertyAddress = req.PropertyAddress
	n.AdvancedLoanInvoice = req.AdvancedLoanInvoice
	n.Status = models.LoanStatus(req.Status)
	n.Notes = req.Notes

	if n.AdvancedLoanAmount, err = optionalAmount(req.AdvancedLoanAmount); err != nil {
		return n, err
	}
	if n.FirstWiredAmount, err = optionalAmount(req.FirstWiredAmount); err != nil {
		return n, err
	}
	if n.InitialInterestRate, err = optionalRate(req.InitialInterestRate); err != nil {
		return n, err
	}
	if n.FirstLoanDate, err = calendar.ParseDate(req.FirstLoanDate); err != nil {
		return n, err
	}
	if req.MaturityDate != "" {
		m, err := calendar.ParseDate(req.MaturityDate)
		if err != nil {
			return n, err
		}
		n.MaturityDate = &m
	}
	for _, c := range req.Charges {
		charge, err := c.toNewCharge()
		if err != nil {
			return n, err
		}
		n.Charges = append(n.Charges, charge)
	}
	return n, nil
}

func (c chargeRequest) toNewCharge() (ledger.NewCharge, error) {
	amount, err := optionalAmount(c.Amount)
	if err != nil {
		return ledger.NewCharge{}, err
	}
	nc := ledger.NewCharge{
		ChargeTypeName: c.ChargeTypeName,
		Amount:         amount,
		InvoiceNumber:  c.InvoiceNumber,
		Notes:          c.Notes,
	}
	if c.ChargeTypeID != "" {
		nc.ChargeTypeID = uuid.MustParse(c.ChargeTypeID)
	}
	return nc, nil
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	loans, err := s.ledger.ListLoans(r.Context())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, loans)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	detail, err := s.ledger.GetLoanDetail(r.Context(), cardNumber(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, detail)
}

func (s *Server) updateLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req updateLoanRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	update := ledger.LoanUpdate{
		PropertyAddress:     req.PropertyAddress,
		AdvancedLoanInvoice: req.AdvancedLoanInvoice,
		ClearMaturityDate:   req.ClearMaturityDate,
		Notes:               req.Notes,
	}
	if req.InitialInterestRate != nil {
		rate, err := optionalRate(*req.InitialInterestRate)
		if err != nil {
			respondDomainError(w, r, err)
			return
		}
		if rate.Valid {
			update.InitialInterestRate = &rate.Decimal
		}
	}
	if req.MaturityDate != nil && *req.MaturityDate != "" {
		m, err := calendar.ParseDate(*req.MaturityDate)
		if err != nil {
			respondDomainError(w, r, err)
			return
		}
		update.MaturityDate = &m
	}

	loan, err := s.ledger.UpdateLoan(r.Context(), cardNumber(r), update)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, loan)
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteLoan(r.Context(), cardNumber(r)); err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) changeStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	loan, err := s.ledger.ChangeLoanStatus(r.Context(), cardNumber(r), models.LoanStatus(req.Status))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, loan)
}

func (s *Server) checkpointHandler(w http.ResponseWriter, r *http.Request) {
	report, err := s.ledger.LoanCheckpoint(r.Context(), cardNumber(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, report)
}

func (s *Server) addChargeHandler(w http.ResponseWriter, r *http.Request) {
	var req chargeRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	nc, err := req.toNewCharge()
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	charge, err := s.ledger.AddSettlementCharge(r.Context(), cardNumber(r), nc)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusCreated, charge)
}

func (s *Server) updateChargeHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req chargeRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	nc, err := req.toNewCharge()
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	charge, err := s.ledger.UpdateSettlementCharge(r.Context(), id, ledger.ChargeUpdate(nc))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, charge)
}

func (s *Server) deleteChargeHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.ledger.DeleteSettlementCharge(r.Context(), id); err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) addDrawHandler(w http.ResponseWriter, r *http.Request) {
	var req drawRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	nd, err := req.toNewDraw()
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	draw, err := s.ledger.AddDraw(r.Context(), cardNumber(r), nd)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusCreated, draw)
}

func (req drawRequest) toNewDraw() (ledger.NewDraw, error) {
	var (
		nd  = ledger.NewDraw{InvoiceNumber: req.InvoiceNumber, Notes: req.Notes}
		err error
	)
	if nd.DrawDate, err = calendar.ParseDate(req.DrawDate); err != nil {
		return nd, err
	}
	if nd.Amount, err = optionalAmount(req.Amount); err != nil {
		return nd, err
	}
	if nd.DrawFee, err = optionalAmount(req.DrawFee); err != nil {
		return nd, err
	}
	if nd.InspectionFee, err = optionalAmount(req.InspectionFee); err != nil {
		return nd, err
	}
	nd.InterestRate, err = optionalRate(req.InterestRate)
	return nd, err
}

func (s *Server) addExtensionHandler(w http.ResponseWriter, r *http.Request) {
	var req extensionRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	fee, err := optionalAmount(req.ExtensionFee)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	rate, err := optionalRate(req.InterestRate)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	ext, err := s.ledger.AddExtension(r.Context(), cardNumber(r), ledger.NewExtension{
		Months:        req.Months,
		ExtensionFee:  fee,
		InterestRate:  rate,
		InvoiceNumber: req.InvoiceNumber,
		Notes:         req.Notes,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusCreated, ext)
}

func (s *Server) amortizePrepaidHandler(w http.ResponseWriter, r *http.Request) {
	loan, err := s.ledger.GetLoan(r.Context(), cardNumber(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	record, err := s.ledger.AmortizePrepaid(r.Context(), loan.ID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if record == nil {
		respondAppError(w, r, ErrResourceNotFound, map[string]string{"reason": "loan has no prepaid interest charge"})
		return
	}
	respondSuccess(w, r, http.StatusOK, record)
}

func (s *Server) searchInvoicesHandler(w http.ResponseWriter, r *http.Request) {
	matches, err := s.ledger.SearchInvoices(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, matches)
}
