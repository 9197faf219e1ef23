package payroll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"payrun/internal/domain/audit"
	"payrun/internal/domain/payitem"
	"payrun/internal/domain/taxtable"
)

var (
	now   = func() time.Time { return time.Now().UTC() }
	newID = uuid.NewString
)

// Deps are the collaborators of the lifecycle. Poster, Payslips, Audit and
// Observer may be nil.
type Deps struct {
	Store    StoreAPI
	Tx       Transactor
	Tables   TaxTableProvider
	Items    PayItemProvider
	Poster   Poster
	Payslips PayslipGenerator
	Audit    AuditSink
	Observer TransitionObserver
	Logger   zerolog.Logger
}

type Service struct {
	store    StoreAPI
	tx       Transactor
	tables   TaxTableProvider
	items    PayItemProvider
	poster   Poster
	payslips PayslipGenerator
	audit    AuditSink
	observer TransitionObserver
	log      zerolog.Logger
}

func NewService(deps Deps) *Service {
	return &Service{
		store:    deps.Store,
		tx:       deps.Tx,
		tables:   deps.Tables,
		items:    deps.Items,
		poster:   deps.Poster,
		payslips: deps.Payslips,
		audit:    deps.Audit,
		observer: deps.Observer,
		log:      deps.Logger,
	}
}

// Result is the outcome of a lifecycle call. Changed is false whenever an
// error is returned: nothing was written and the call is safe to retry.
type Result struct {
	Run      Run      `json:"run"`
	Changed  bool     `json:"changed"`
	Warnings []string `json:"warnings,omitempty"`
	Payslips int      `json:"payslips,omitempty"`
}

func (ec ExecContext) validate() error {
	v := &ValidationError{}
	if ec.CompanyID == "" {
		v.Add("companyId", "required")
	}
	if ec.ActorID == "" {
		v.Add("actorId", "required")
	}
	return v.orNil()
}

func runNumber(frequency Frequency, periodStart time.Time, seq int) string {
	return fmt.Sprintf("PR-%s-%s-%d", periodStart.Format("200601"), frequency.initial(), seq)
}

func (s *Service) CreateRun(ctx context.Context, ec ExecContext, in CreateRunInput) (Run, error) {
	if err := ec.validate(); err != nil {
		return Run{}, err
	}
	v := &ValidationError{}
	if !in.Frequency.Valid() {
		v.Add("frequency", fmt.Sprintf("unsupported pay frequency %q", in.Frequency))
	}
	if in.PeriodStart.IsZero() {
		v.Add("periodStart", "required")
	}
	if in.PeriodEnd.IsZero() {
		v.Add("periodEnd", "required")
	}
	if in.PayDate.IsZero() {
		v.Add("payDate", "required")
	}
	start, end, payDate := dateOnly(in.PeriodStart), dateOnly(in.PeriodEnd), dateOnly(in.PayDate)
	if !in.PeriodStart.IsZero() && !in.PeriodEnd.IsZero() && end.Before(start) {
		v.Add("periodEnd", "must not be before periodStart")
	}
	if !in.PeriodStart.IsZero() && !in.PayDate.IsZero() && payDate.Before(start) {
		v.Add("payDate", "must not be before periodStart")
	}
	if err := v.orNil(); err != nil {
		return Run{}, err
	}

	var run Run
	insert := func(ctx context.Context) error {
		if _, err := s.store.CompanySettings(ctx, ec.CompanyID); err != nil {
			return err
		}
		seq, err := s.store.NextRunSequence(ctx, ec.CompanyID, in.Frequency, start)
		if err != nil {
			return err
		}
		run = Run{
			ID:          newID(),
			CompanyID:   ec.CompanyID,
			RunNumber:   runNumber(in.Frequency, start, seq),
			Frequency:   in.Frequency,
			PeriodStart: start,
			PeriodEnd:   end,
			PayDate:     payDate,
			Status:      StatusDraft,
			Version:     1,
			CreatedBy:   ec.ActorID,
			CreatedAt:   now(),
		}
		return s.store.InsertRun(ctx, run)
	}
	err := s.tx.WithinTx(ctx, insert)
	if errors.Is(err, ErrRunNumberTaken) {
		// A concurrent create won the number. The failed insert aborted its
		// transaction, so sequence again in a fresh one.
		s.log.Warn().Str("runNumber", run.RunNumber).Msg("run number collision, retrying")
		err = s.tx.WithinTx(ctx, insert)
	}
	if err != nil {
		return Run{}, persistence("create run", err)
	}

	s.log.Info().Str("runId", run.ID).Str("runNumber", run.RunNumber).Msg("pay run created")
	s.record(ctx, ec, ActionRunCreate, run.ID, nil, run)
	return run, nil
}

// AddInput attaches an ad-hoc line to an editable run. It takes effect on
// the next recalculation.
func (s *Service) AddInput(ctx context.Context, ec ExecContext, runID string, in Input) (Input, error) {
	if err := ec.validate(); err != nil {
		return Input{}, err
	}
	v := &ValidationError{}
	if in.EmployeeID == "" {
		v.Add("employeeId", "required")
	}
	if in.PayItemCode == "" {
		v.Add("payItemCode", "required")
	}
	if in.Amount < 0 {
		v.Add("amount", "must not be negative")
	}
	if err := v.orNil(); err != nil {
		return Input{}, err
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		run, err := s.store.LockRun(ctx, ec.CompanyID, runID)
		if err != nil {
			return err
		}
		if !run.Status.Editable() {
			return fmt.Errorf("%w: run is %s", ErrRunNotEditable, run.Status)
		}
		emp, err := s.store.GetEmployee(ctx, ec.CompanyID, in.EmployeeID)
		if err != nil {
			return err
		}
		if emp.Frequency != run.Frequency {
			return NewValidationError("employeeId", fmt.Sprintf("employee is paid %s, run is %s", emp.Frequency, run.Frequency))
		}
		items, err := s.items.LoadPayItems(ctx, ec.CompanyID)
		if err != nil {
			return err
		}
		if _, err := payitem.NewCatalog(items).Resolve(in.PayItemCode); err != nil {
			return NewValidationError("payItemCode", err.Error())
		}

		in.ID = newID()
		in.CreatedBy = ec.ActorID
		in.CreatedAt = now()
		if in.CostTarget.Empty() {
			in.CostTarget = nil
		}
		return s.store.InsertInput(ctx, runID, in)
	})
	if err != nil {
		return Input{}, persistence("add input", err)
	}

	s.record(ctx, ec, ActionRunInput, runID, nil, in)
	return in, nil
}

// ExcludeEmployee removes an employee from the next recalculation of the
// run, including a snapshot that would otherwise be retained.
func (s *Service) ExcludeEmployee(ctx context.Context, ec ExecContext, runID, employeeID, reason string) (Exclusion, error) {
	if err := ec.validate(); err != nil {
		return Exclusion{}, err
	}
	v := &ValidationError{}
	if employeeID == "" {
		v.Add("employeeId", "required")
	}
	if reason == "" {
		v.Add("reason", "required")
	}
	if err := v.orNil(); err != nil {
		return Exclusion{}, err
	}

	ex := Exclusion{EmployeeID: employeeID, Reason: reason, ExcludedBy: ec.ActorID}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		run, err := s.store.LockRun(ctx, ec.CompanyID, runID)
		if err != nil {
			return err
		}
		if !run.Status.Editable() {
			return fmt.Errorf("%w: run is %s", ErrRunNotEditable, run.Status)
		}
		if _, err := s.store.GetEmployee(ctx, ec.CompanyID, employeeID); err != nil {
			return err
		}
		ex.ExcludedAt = now()
		return s.store.UpsertExclusion(ctx, runID, ex)
	})
	if err != nil {
		return Exclusion{}, persistence("exclude employee", err)
	}

	s.record(ctx, ec, ActionRunExclude, runID, nil, ex)
	return ex, nil
}

type recalcOutcome struct {
	results  []Breakdown
	dropped  []string
	retained []string
	excluded int
	warnings []string
}

// Recalculate computes a new result version for every eligible employee and
// points the run at it. Any failure discards the whole version.
func (s *Service) Recalculate(ctx context.Context, ec ExecContext, runID string) (res Result, err error) {
	defer func() { s.observe(StatusCalculated, err) }()
	if err := ec.validate(); err != nil {
		return Result{}, err
	}

	var before Run
	var outcome recalcOutcome
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		run, err := s.store.LockRun(ctx, ec.CompanyID, runID)
		if err != nil {
			return err
		}
		before = run
		if err := checkTransition(run.Status, StatusCalculated); err != nil {
			return err
		}

		outcome, err = s.calculate(ctx, ec, run)
		if err != nil {
			return err
		}

		version := run.CalcVersion + 1
		if err := s.store.InsertResults(ctx, run.ID, version, outcome.results); err != nil {
			return err
		}
		updated, err := s.store.UpdateRunStatus(ctx, ec.CompanyID, run.ID, StatusChange{
			From:            run.Status,
			To:              StatusCalculated,
			ExpectedVersion: run.Version,
			CalcVersion:     version,
			Actor:           ec.ActorID,
			At:              now(),
		})
		if err != nil {
			return err
		}
		res.Run = updated
		return nil
	})
	if err != nil {
		return Result{}, persistence("recalculate", err)
	}
	res.Changed = true
	res.Warnings = outcome.warnings

	s.log.Info().
		Str("runId", res.Run.ID).
		Int("calcVersion", res.Run.CalcVersion).
		Int("employees", len(outcome.results)).
		Int("dropped", len(outcome.dropped)).
		Int("retained", len(outcome.retained)).
		Msg("pay run recalculated")

	s.record(ctx, ec, ActionRunRecalculate, runID, runState(before), map[string]any{
		"status":      res.Run.Status,
		"calcVersion": res.Run.CalcVersion,
		"employees":   len(outcome.results),
		"excluded":    outcome.excluded,
	})
	for _, id := range outcome.dropped {
		s.record(ctx, ec, ActionEmployeeDropped, runID,
			map[string]any{"employeeId": id, "calcVersion": before.CalcVersion},
			map[string]any{"calcVersion": res.Run.CalcVersion, "reason": "terminated"})
	}
	for _, id := range outcome.retained {
		s.record(ctx, ec, ActionEmployeeRetained, runID,
			map[string]any{"employeeId": id, "calcVersion": before.CalcVersion},
			map[string]any{"calcVersion": res.Run.CalcVersion, "reason": "terminated"})
	}
	return res, nil
}

func (s *Service) calculate(ctx context.Context, ec ExecContext, run Run) (recalcOutcome, error) {
	var out recalcOutcome

	settings, err := s.store.CompanySettings(ctx, ec.CompanyID)
	if err != nil {
		return out, err
	}
	table, err := s.tables.LoadTaxTables(ctx, run.PeriodStart)
	if err != nil {
		if errors.Is(err, taxtable.ErrNoTable) || errors.Is(err, taxtable.ErrInvalidTable) {
			return out, &ConfigurationError{Reason: "tax table for " + run.PeriodStart.Format("2006-01-02"), Err: err}
		}
		return out, err
	}
	items, err := s.items.LoadPayItems(ctx, ec.CompanyID)
	if err != nil {
		return out, err
	}
	catalog := payitem.NewCatalog(items)

	employees, err := s.store.ListEmployees(ctx, ec.CompanyID, run.Frequency)
	if err != nil {
		return out, err
	}
	inputs, err := s.store.ListInputs(ctx, run.ID)
	if err != nil {
		return out, err
	}
	byEmployee := make(map[string][]Input)
	for _, in := range inputs {
		byEmployee[in.EmployeeID] = append(byEmployee[in.EmployeeID], in)
	}
	exclusions, err := s.store.ListExclusions(ctx, run.ID)
	if err != nil {
		return out, err
	}
	excluded := make(map[string]bool, len(exclusions))
	for _, ex := range exclusions {
		excluded[ex.EmployeeID] = true
	}

	previous := map[string]EmployeeResult{}
	if run.CalcVersion > 0 {
		prior, err := s.store.ListResults(ctx, run.ID, run.CalcVersion)
		if err != nil {
			return out, err
		}
		for _, r := range prior {
			previous[r.EmployeeID] = r
		}
	}

	// Termination takes effect once both the calculation date and the period
	// end have reached it.
	cutoff := now()
	period := run.Period()
	if period.End.Before(cutoff) {
		cutoff = period.End
	}
	for _, emp := range employees {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if excluded[emp.ID] {
			out.excluded++
			continue
		}
		if dateOnly(emp.HiredOn).After(period.End) {
			continue
		}
		if emp.TerminatedAsOf(cutoff) {
			prior, had := previous[emp.ID]
			if !had {
				continue
			}
			if settings.TerminationPolicy == TerminationRetain {
				snapshot := prior.Breakdown
				snapshot.Retained = true
				out.results = append(out.results, snapshot)
				out.retained = append(out.retained, emp.ID)
				out.warnings = append(out.warnings, fmt.Sprintf("employee %s is terminated; kept the version %d result", emp.ID, run.CalcVersion))
				continue
			}
			out.dropped = append(out.dropped, emp.ID)
			out.warnings = append(out.warnings, fmt.Sprintf("employee %s is terminated; dropped from the run", emp.ID))
			continue
		}

		b, err := CalculateEmployee(CalcInput{
			Employee: emp,
			Period:   period,
			Table:    &table,
			Catalog:  catalog,
			Inputs:   byEmployee[emp.ID],
		})
		if err != nil {
			return out, fmt.Errorf("employee %s: %w", emp.ID, err)
		}
		out.results = append(out.results, b)
	}

	if len(out.results) == 0 {
		out.warnings = append(out.warnings, "no eligible employees")
	}
	return out, nil
}

// Advance moves a run to target through the matching lifecycle operation.
func (s *Service) Advance(ctx context.Context, ec ExecContext, runID string, target Status) (Result, error) {
	switch target {
	case StatusCalculated:
		return s.Recalculate(ctx, ec, runID)
	case StatusReview:
		return s.MoveToReview(ctx, ec, runID)
	case StatusApproved:
		return s.Approve(ctx, ec, runID)
	case StatusLocked:
		return s.Lock(ctx, ec, runID)
	case StatusPosted:
		return s.Post(ctx, ec, runID)
	}
	if _, err := ParseStatus(string(target)); err != nil {
		return Result{}, err
	}
	run, err := s.GetRun(ctx, ec, runID)
	if err != nil {
		return Result{}, err
	}
	return Result{}, &InvalidTransitionError{Current: run.Status, Requested: target}
}

func (s *Service) MoveToReview(ctx context.Context, ec ExecContext, runID string) (Result, error) {
	return s.transition(ctx, ec, runID, StatusReview)
}

func (s *Service) Approve(ctx context.Context, ec ExecContext, runID string) (Result, error) {
	return s.transition(ctx, ec, runID, StatusApproved)
}

func (s *Service) transition(ctx context.Context, ec ExecContext, runID string, to Status) (res Result, err error) {
	defer func() { s.observe(to, err) }()
	if err := ec.validate(); err != nil {
		return Result{}, err
	}

	var before Run
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		run, err := s.store.LockRun(ctx, ec.CompanyID, runID)
		if err != nil {
			return err
		}
		before = run
		if err := checkTransition(run.Status, to); err != nil {
			return err
		}
		updated, err := s.store.UpdateRunStatus(ctx, ec.CompanyID, runID, StatusChange{
			From:            run.Status,
			To:              to,
			ExpectedVersion: run.Version,
			Actor:           ec.ActorID,
			At:              now(),
		})
		if err != nil {
			return err
		}
		res.Run = updated
		return nil
	})
	if err != nil {
		return Result{}, persistence("transition to "+string(to), err)
	}
	res.Changed = true

	s.log.Info().Str("runId", runID).Str("from", string(before.Status)).Str("to", string(to)).Msg("pay run transitioned")
	s.record(ctx, ec, ActionRunTransition, runID, runState(before), runState(res.Run))
	return res, nil
}

// Lock freezes an approved run. With company auto-post the post happens in
// the same transaction, so a posting failure also undoes the lock.
func (s *Service) Lock(ctx context.Context, ec ExecContext, runID string) (res Result, err error) {
	defer func() { s.observe(StatusLocked, err) }()
	if err := ec.validate(); err != nil {
		return Result{}, err
	}

	var before, locked Run
	autoPosted := false
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		run, err := s.store.LockRun(ctx, ec.CompanyID, runID)
		if err != nil {
			return err
		}
		before = run
		if err := checkTransition(run.Status, StatusLocked); err != nil {
			return err
		}
		settings, err := s.store.CompanySettings(ctx, ec.CompanyID)
		if err != nil {
			return err
		}
		locked, err = s.store.UpdateRunStatus(ctx, ec.CompanyID, runID, StatusChange{
			From:            run.Status,
			To:              StatusLocked,
			ExpectedVersion: run.Version,
			Actor:           ec.ActorID,
			At:              now(),
		})
		if err != nil {
			return err
		}
		res.Run = locked
		if !settings.AutoPost {
			return nil
		}
		posted, err := s.postLocked(ctx, ec, locked)
		if err != nil {
			return err
		}
		res.Run = posted
		autoPosted = true
		return nil
	})
	if err != nil {
		return Result{}, persistence("lock", err)
	}
	res.Changed = true

	s.log.Info().Str("runId", runID).Bool("autoPosted", autoPosted).Msg("pay run locked")
	s.record(ctx, ec, ActionRunTransition, runID, runState(before), runState(locked))
	if autoPosted {
		s.observe(StatusPosted, nil)
		s.record(ctx, ec, ActionRunPost, runID, runState(locked), runState(res.Run))
	}
	s.generatePayslips(ctx, ec, &res)
	return res, nil
}

// Post hands a locked run to the posting service. On failure the run stays
// locked and the post can be retried.
func (s *Service) Post(ctx context.Context, ec ExecContext, runID string) (res Result, err error) {
	defer func() { s.observe(StatusPosted, err) }()
	if err := ec.validate(); err != nil {
		return Result{}, err
	}

	var before Run
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		run, err := s.store.LockRun(ctx, ec.CompanyID, runID)
		if err != nil {
			return err
		}
		before = run
		posted, err := s.postLocked(ctx, ec, run)
		if err != nil {
			return err
		}
		res.Run = posted
		return nil
	})
	if err != nil {
		var postErr *PostingError
		if errors.As(err, &postErr) {
			s.log.Warn().Err(err).Str("runId", runID).Msg("posting failed; run stays locked")
		}
		return Result{}, persistence("post", err)
	}
	res.Changed = true

	s.log.Info().Str("runId", runID).Str("journalRef", res.Run.JournalRef).Msg("pay run posted")
	s.record(ctx, ec, ActionRunPost, runID, runState(before), runState(res.Run))
	s.generatePayslips(ctx, ec, &res)
	return res, nil
}

func (s *Service) postLocked(ctx context.Context, ec ExecContext, run Run) (Run, error) {
	if err := checkTransition(run.Status, StatusPosted); err != nil {
		return Run{}, err
	}
	if s.poster == nil {
		return Run{}, &ConfigurationError{Reason: "no posting service configured"}
	}
	ref, err := s.poster.PostPayrollRun(ctx, ec, run.ID)
	if err != nil {
		return Run{}, &PostingError{RunID: run.ID, Err: err}
	}
	if ref == "" {
		return Run{}, &PostingError{RunID: run.ID, Err: errors.New("posting returned no journal reference")}
	}
	return s.store.UpdateRunStatus(ctx, ec.CompanyID, run.ID, StatusChange{
		From:            run.Status,
		To:              StatusPosted,
		ExpectedVersion: run.Version,
		Actor:           ec.ActorID,
		At:              now(),
		JournalRef:      ref,
	})
}

// generatePayslips runs after commit; a failure is reported as a warning.
func (s *Service) generatePayslips(ctx context.Context, ec ExecContext, res *Result) {
	if s.payslips == nil {
		return
	}
	count, err := s.payslips.GeneratePayslips(ctx, ec.CompanyID, res.Run.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("runId", res.Run.ID).Msg("payslip generation failed")
		res.Warnings = append(res.Warnings, "payslip generation failed: "+err.Error())
		return
	}
	res.Payslips = count
	s.record(ctx, ec, ActionPayslips, res.Run.ID, nil, map[string]int{"count": count})
}

func (s *Service) GetRun(ctx context.Context, ec ExecContext, runID string) (Run, error) {
	if err := ec.validate(); err != nil {
		return Run{}, err
	}
	run, err := s.store.GetRun(ctx, ec.CompanyID, runID)
	if err != nil {
		return Run{}, persistence("get run", err)
	}
	return run, nil
}

func (s *Service) ListRuns(ctx context.Context, ec ExecContext, filter RunFilter) ([]Run, error) {
	if err := ec.validate(); err != nil {
		return nil, err
	}
	if filter.Status != "" {
		if _, err := ParseStatus(string(filter.Status)); err != nil {
			return nil, err
		}
	}
	if filter.Frequency != "" && !filter.Frequency.Valid() {
		return nil, NewValidationError("frequency", fmt.Sprintf("unsupported pay frequency %q", filter.Frequency))
	}
	runs, err := s.store.ListRuns(ctx, ec.CompanyID, filter)
	if err != nil {
		return nil, persistence("list runs", err)
	}
	return runs, nil
}

// Breakdown returns the current result version of the run with lines.
func (s *Service) Breakdown(ctx context.Context, ec ExecContext, runID string) ([]EmployeeResult, error) {
	run, err := s.GetRun(ctx, ec, runID)
	if err != nil {
		return nil, err
	}
	if run.CalcVersion == 0 {
		return []EmployeeResult{}, nil
	}
	results, err := s.store.ListResults(ctx, run.ID, run.CalcVersion)
	if err != nil {
		return nil, persistence("list results", err)
	}
	return results, nil
}

func (s *Service) AuditTrail(ctx context.Context, ec ExecContext, runID string, limit, offset int) ([]audit.Event, error) {
	if _, err := s.GetRun(ctx, ec, runID); err != nil {
		return nil, err
	}
	if s.audit == nil {
		return []audit.Event{}, nil
	}
	if limit <= 0 {
		limit = 100
	}
	events, err := s.audit.List(ctx, ec.CompanyID, audit.Filter{EntityType: AuditEntityRun, EntityID: runID}, limit, offset)
	if err != nil {
		return nil, persistence("audit trail", err)
	}
	return events, nil
}

// record writes an audit entry. Failures are logged and never change the
// outcome of the operation.
func (s *Service) record(ctx context.Context, ec ExecContext, action, runID string, before, after any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, audit.Entry{
		CompanyID:  ec.CompanyID,
		ActorID:    ec.ActorID,
		Action:     action,
		EntityType: AuditEntityRun,
		EntityID:   runID,
		RequestID:  ec.RequestID,
		IP:         ec.IP,
		Before:     before,
		After:      after,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("action", action).Str("runId", runID).Msg("audit write failed")
	}
}

func (s *Service) observe(to Status, err error) {
	if s.observer != nil {
		s.observer.ObserveTransition(string(to), err == nil)
	}
}

func runState(run Run) map[string]any {
	return map[string]any{
		"status":      run.Status,
		"version":     run.Version,
		"calcVersion": run.CalcVersion,
		"journalRef":  run.JournalRef,
	}
}
