package payrunhandler

import (
	"errors"
	"net/http"

	"payrun/internal/domain/payroll"
	"payrun/internal/domain/payslip"
	"payrun/internal/transport/http/api"
	"payrun/internal/transport/http/middleware"
	"payrun/internal/transport/http/shared"
)

// writeError maps the lifecycle error taxonomy onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := middleware.GetRequestID(r.Context())

	var (
		validation *payroll.ValidationError
		transition *payroll.InvalidTransitionError
		config     *payroll.ConfigurationError
		posting    *payroll.PostingError
	)
	switch {
	case errors.As(err, &validation):
		issues := make([]shared.ValidationIssue, 0, len(validation.Issues))
		for _, issue := range validation.Issues {
			issues = append(issues, shared.ValidationIssue{Field: issue.Field, Reason: issue.Reason})
		}
		shared.FailValidation(w, requestID, issues)
	case errors.Is(err, payroll.ErrRunNotFound), errors.Is(err, payroll.ErrEmployeeNotFound), errors.Is(err, payslip.ErrNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", err.Error(), requestID)
	case errors.As(err, &transition):
		api.FailWithDetails(w, http.StatusConflict, "invalid_transition", err.Error(),
			map[string]string{"current": string(transition.Current), "requested": string(transition.Requested)}, requestID)
	case errors.Is(err, payroll.ErrStaleRun):
		api.Fail(w, http.StatusConflict, "stale_run", err.Error(), requestID)
	case errors.Is(err, payroll.ErrRunNumberTaken):
		api.Fail(w, http.StatusConflict, "run_number_taken", err.Error(), requestID)
	case errors.Is(err, payroll.ErrRunNotEditable):
		api.Fail(w, http.StatusConflict, "run_not_editable", err.Error(), requestID)
	case errors.As(err, &config):
		api.Fail(w, http.StatusUnprocessableEntity, "configuration_error", err.Error(), requestID)
	case errors.As(err, &posting):
		h.Log.Error().Err(err).Str("request_id", requestID).Msg("posting failed")
		api.Fail(w, http.StatusBadGateway, "posting_failed", err.Error(), requestID)
	default:
		h.Log.Error().Err(err).Str("request_id", requestID).Msg("request failed")
		api.Fail(w, http.StatusInternalServerError, "internal_error", "internal error", requestID)
	}
}
