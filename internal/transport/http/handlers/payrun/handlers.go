package payrunhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"payrun/internal/auth"
	"payrun/internal/domain/audit"
	"payrun/internal/domain/payroll"
	"payrun/internal/transport/http/api"
	"payrun/internal/transport/http/middleware"
	"payrun/internal/transport/http/shared"
)

// Service is the lifecycle surface the handlers drive.
type Service interface {
	CreateRun(ctx context.Context, ec payroll.ExecContext, in payroll.CreateRunInput) (payroll.Run, error)
	GetRun(ctx context.Context, ec payroll.ExecContext, runID string) (payroll.Run, error)
	ListRuns(ctx context.Context, ec payroll.ExecContext, filter payroll.RunFilter) ([]payroll.Run, error)
	AddInput(ctx context.Context, ec payroll.ExecContext, runID string, in payroll.Input) (payroll.Input, error)
	ExcludeEmployee(ctx context.Context, ec payroll.ExecContext, runID, employeeID, reason string) (payroll.Exclusion, error)
	Recalculate(ctx context.Context, ec payroll.ExecContext, runID string) (payroll.Result, error)
	Advance(ctx context.Context, ec payroll.ExecContext, runID string, target payroll.Status) (payroll.Result, error)
	Breakdown(ctx context.Context, ec payroll.ExecContext, runID string) ([]payroll.EmployeeResult, error)
	BankExport(ctx context.Context, ec payroll.ExecContext, runID string) (payroll.BankExport, error)
	StatutoryReturn(ctx context.Context, ec payroll.ExecContext, kind payroll.ReturnKind, year, month int) (payroll.StatutoryReturn, error)
	AuditTrail(ctx context.Context, ec payroll.ExecContext, runID string, limit, offset int) ([]audit.Event, error)
}

type PayslipLoader interface {
	Load(ctx context.Context, companyID, runID, employeeID string) ([]byte, error)
}

type IdempotencyStore interface {
	Check(ctx context.Context, companyID, actorID, endpoint, key, requestHash string) (json.RawMessage, bool, error)
	Save(ctx context.Context, companyID, actorID, endpoint, key, requestHash string, response json.RawMessage) error
}

type Handler struct {
	Service     Service
	Payslips    PayslipLoader
	Idempotency IdempotencyStore
	Log         zerolog.Logger
}

func NewHandler(service Service, payslips PayslipLoader, idempotency IdempotencyStore, log zerolog.Logger) *Handler {
	return &Handler{Service: service, Payslips: payslips, Idempotency: idempotency, Log: log}
}

const transitionEndpoint = "payrun.transition"

func (h *Handler) RegisterRoutes(r chi.Router) {
	read := middleware.RequirePermission(auth.PermPayrollRead)
	write := middleware.RequirePermission(auth.PermPayrollWrite)

	r.Route("/payruns", func(r chi.Router) {
		r.With(read).Get("/", h.handleListRuns)
		r.With(write).Post("/", h.handleCreateRun)
		r.With(read).Get("/{runID}", h.handleGetRun)
		r.With(write).Post("/{runID}/inputs", h.handleAddInput)
		r.With(write).Post("/{runID}/exclusions", h.handleExclude)
		r.With(write).Post("/{runID}/recalculate", h.handleRecalculate)
		// The permission depends on the requested status.
		r.With(read).Post("/{runID}/transitions", h.handleTransition)
		r.With(read).Get("/{runID}/employees", h.handleBreakdown)
		r.With(read).Get("/{runID}/employees/{employeeID}/payslip", h.handleDownloadPayslip)
		r.With(read).Get("/{runID}/bank-export", h.handleBankExport)
		r.With(read).Get("/{runID}/audit", h.handleAuditTrail)
	})
	r.With(read).Get("/statutory-returns", h.handleStatutoryReturn)
}

// TransitionPermission names the permission needed to move a run to status.
func TransitionPermission(status payroll.Status) string {
	switch status {
	case payroll.StatusApproved:
		return auth.PermPayrollApprove
	case payroll.StatusLocked:
		return auth.PermPayrollLock
	case payroll.StatusPosted:
		return auth.PermPayrollPost
	}
	return auth.PermPayrollWrite
}

func execContext(r *http.Request) (payroll.ExecContext, auth.UserContext, bool) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		return payroll.ExecContext{}, auth.UserContext{}, false
	}
	return payroll.ExecContext{
		CompanyID: user.CompanyID,
		ActorID:   user.ActorID,
		RequestID: middleware.GetRequestID(r.Context()),
		IP:        middleware.ClientIP(r),
	}, user, true
}

type createRunRequest struct {
	Frequency   string `json:"frequency"`
	PeriodStart string `json:"periodStart"`
	PeriodEnd   string `json:"periodEnd"`
	PayDate     string `json:"payDate"`
}

func (h *Handler) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	ec, _, ok := execContext(r)
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	var payload createRunRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	v := shared.NewValidator()
	v.Required("frequency", payload.Frequency, "is required")
	v.Enum("frequency", payload.Frequency, []string{string(payroll.FrequencyWeekly), string(payroll.FrequencyFortnightly), string(payroll.FrequencyMonthly)}, "must be weekly, fortnightly or monthly")
	start, _ := v.Date("periodStart", payload.PeriodStart)
	end, _ := v.Date("periodEnd", payload.PeriodEnd)
	payDate, _ := v.Date("payDate", payload.PayDate)
	if v.Reject(w, ec.RequestID) {
		return
	}

	run, err := h.Service.CreateRun(r.Context(), ec, payroll.CreateRunInput{
		Frequency:   payroll.Frequency(strings.ToLower(strings.TrimSpace(payload.Frequency))),
		PeriodStart: start,
		PeriodEnd:   end,
		PayDate:     payDate,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.Created(w, run, ec.RequestID)
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	ec, _, ok := execContext(r)
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	page := shared.ParsePagination(r, 50, 200)
	runs, err := h.Service.ListRuns(r.Context(), ec, payroll.RunFilter{
		Status:    payroll.Status(r.URL.Query().Get("status")),
		Frequency: payroll.Frequency(r.URL.Query().Get("frequency")),
		Limit:     page.Limit,
		Offset:    page.Offset,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.Success(w, runs, ec.RequestID)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	ec, _, ok := execContext(r)
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	run, err := h.Service.GetRun(r.Context(), ec, chi.URLParam(r, "runID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.Success(w, run, ec.RequestID)
}

type inputRequest struct {
	EmployeeID  string              `json:"employeeId"`
	PayItemCode string              `json:"payItemCode"`
	Amount      int64               `json:"amount"`
	CostTarget  *payroll.CostTarget `json:"costTarget"`
	Description string              `json:"description"`
}

func (h *Handler) handleAddInput(w http.ResponseWriter, r *http.Request) {
	ec, _, ok := execContext(r)
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	var payload inputRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	input, err := h.Service.AddInput(r.Context(), ec, chi.URLParam(r, "runID"), payroll.Input{
		EmployeeID:  strings.TrimSpace(payload.EmployeeID),
		PayItemCode: strings.TrimSpace(payload.PayItemCode),
		Amount:      payload.Amount,
		CostTarget:  payload.CostTarget,
		Description: strings.TrimSpace(payload.Description),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.Created(w, input, ec.RequestID)
}

type exclusionRequest struct {
	EmployeeID string `json:"employeeId"`
	Reason     string `json:"reason"`
}

func (h *Handler) handleExclude(w http.ResponseWriter, r *http.Request) {
	ec, _, ok := execContext(r)
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	var payload exclusionRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	exclusion, err := h.Service.ExcludeEmployee(r.Context(), ec, chi.URLParam(r, "runID"), strings.TrimSpace(payload.EmployeeID), strings.TrimSpace(payload.Reason))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.Created(w, exclusion, ec.RequestID)
}

func (h *Handler) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	ec, _, ok := execContext(r)
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	res, err := h.Service.Recalculate(r.Context(), ec, chi.URLParam(r, "runID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.Success(w, res, ec.RequestID)
}

type transitionRequest struct {
	Status string `json:"status"`
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	ec, user, ok := execContext(r)
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	var payload transitionRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	target, err := payroll.ParseStatus(strings.TrimSpace(payload.Status))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !auth.HasPermission(user.Role, TransitionPermission(target)) {
		api.Fail(w, http.StatusForbidden, "forbidden", "insufficient permissions", ec.RequestID)
		return
	}

	runID := chi.URLParam(r, "runID")
	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	requestHash := middleware.RequestHash([]byte(runID), []byte(target))
	if idempotencyKey != "" && h.Idempotency != nil {
		stored, found, err := h.Idempotency.Check(r.Context(), ec.CompanyID, ec.ActorID, transitionEndpoint, idempotencyKey, requestHash)
		if errors.Is(err, middleware.ErrIdempotencyConflict) {
			api.Fail(w, http.StatusConflict, "idempotency_conflict", err.Error(), ec.RequestID)
			return
		}
		if err != nil {
			h.Log.Warn().Err(err).Str("request_id", ec.RequestID).Msg("idempotency check failed")
		}
		if found {
			api.Success(w, json.RawMessage(stored), ec.RequestID)
			return
		}
	}

	res, err := h.Service.Advance(r.Context(), ec, runID, target)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if idempotencyKey != "" && h.Idempotency != nil {
		encoded, err := json.Marshal(res)
		if err != nil {
			h.Log.Warn().Err(err).Msg("transition response marshal failed")
		} else if err := h.Idempotency.Save(r.Context(), ec.CompanyID, ec.ActorID, transitionEndpoint, idempotencyKey, requestHash, encoded); err != nil {
			h.Log.Warn().Err(err).Str("request_id", ec.RequestID).Msg("idempotency save failed")
		}
	}
	api.Success(w, res, ec.RequestID)
}

func (h *Handler) handleBreakdown(w http.ResponseWriter, r *http.Request) {
	ec, _, ok := execContext(r)
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	results, err := h.Service.Breakdown(r.Context(), ec, chi.URLParam(r, "runID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.Success(w, results, ec.RequestID)
}

func (h *Handler) handleDownloadPayslip(w http.ResponseWriter, r *http.Request) {
	ec, _, ok := execContext(r)
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	if h.Payslips == nil {
		api.Fail(w, http.StatusNotFound, "not_found", "payslips are not available", ec.RequestID)
		return
	}
	runID := chi.URLParam(r, "runID")
	employeeID := chi.URLParam(r, "employeeID")
	pdf, err := h.Payslips.Load(r.Context(), ec.CompanyID, runID, employeeID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "payslip-"+employeeID+".pdf"))
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(pdf); err != nil {
		h.Log.Warn().Err(err).Msg("payslip write failed")
	}
}

func (h *Handler) handleBankExport(w http.ResponseWriter, r *http.Request) {
	ec, _, ok := execContext(r)
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	export, err := h.Service.BankExport(r.Context(), ec, chi.URLParam(r, "runID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !strings.EqualFold(r.URL.Query().Get("format"), "csv") {
		api.Success(w, export, ec.RequestID)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "bank-"+export.RunNumber+".csv"))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.Log.Warn().Err(err).Msg("bank export write failed")
	}
}

func (h *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	ec, _, ok := execContext(r)
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	page := shared.ParsePagination(r, 100, 500)
	events, err := h.Service.AuditTrail(r.Context(), ec, chi.URLParam(r, "runID"), page.Limit, page.Offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.Success(w, events, ec.RequestID)
}

func (h *Handler) handleStatutoryReturn(w http.ResponseWriter, r *http.Request) {
	ec, _, ok := execContext(r)
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	query := r.URL.Query()
	v := shared.NewValidator()
	kind := payroll.ReturnKind(strings.ToLower(strings.TrimSpace(query.Get("kind"))))
	v.Required("kind", string(kind), "is required")
	v.Enum("kind", string(kind), []string{string(payroll.ReturnMonthly), string(payroll.ReturnAnnual)}, "must be monthly or annual")
	year := v.Int("year", query.Get("year"), true)
	month := v.Int("month", query.Get("month"), kind == payroll.ReturnMonthly)
	if v.Reject(w, ec.RequestID) {
		return
	}

	ret, err := h.Service.StatutoryReturn(r.Context(), ec, kind, year, month)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.Success(w, ret, ec.RequestID)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Fail(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large", middleware.GetRequestID(r.Context()))
			return false
		}
		api.Fail(w, http.StatusBadRequest, "invalid_json", "invalid json payload", middleware.GetRequestID(r.Context()))
		return false
	}
	return true
}
