package payroll

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"payrun/internal/domain/audit"
	"payrun/internal/domain/payitem"
	"payrun/internal/domain/taxtable"
)

type memState struct {
	settings   map[string]CompanySettings
	runs       map[string]Run
	employees  map[string]Employee
	inputs     map[string][]Input
	exclusions map[string]map[string]Exclusion
	results    map[string]map[int][]Breakdown
	journals   map[string]string
}

func (s memState) clone() memState {
	out := memState{
		settings:   map[string]CompanySettings{},
		runs:       map[string]Run{},
		employees:  map[string]Employee{},
		inputs:     map[string][]Input{},
		exclusions: map[string]map[string]Exclusion{},
		results:    map[string]map[int][]Breakdown{},
		journals:   map[string]string{},
	}
	for k, v := range s.settings {
		out.settings[k] = v
	}
	for k, v := range s.runs {
		out.runs[k] = v
	}
	for k, v := range s.employees {
		out.employees[k] = v
	}
	for k, v := range s.inputs {
		out.inputs[k] = append([]Input(nil), v...)
	}
	for k, v := range s.exclusions {
		m := map[string]Exclusion{}
		for id, ex := range v {
			m[id] = ex
		}
		out.exclusions[k] = m
	}
	for k, v := range s.results {
		m := map[int][]Breakdown{}
		for version, rows := range v {
			m[version] = append([]Breakdown(nil), rows...)
		}
		out.results[k] = m
	}
	for k, v := range s.journals {
		out.journals[k] = v
	}
	return out
}

// memStore is an in-memory StoreAPI. Together with memTx it restores its
// previous state when a transaction fails.
type memStore struct {
	mu    sync.Mutex
	state memState

	failInsertResults error
	failUpdateStatus  error
	lockCalls         int

	// runNumberRaces makes that many InsertRun calls lose a run number race.
	runNumberRaces int
}

func newMemStore() *memStore {
	return &memStore{state: memState{}.clone()}
}

type memTx struct {
	store *memStore
}

func (t memTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.store.mu.Lock()
	snapshot := t.store.state.clone()
	t.store.mu.Unlock()

	if err := fn(ctx); err != nil {
		t.store.mu.Lock()
		t.store.state = snapshot
		t.store.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) CompanySettings(_ context.Context, companyID string) (CompanySettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	settings, ok := m.state.settings[companyID]
	if !ok {
		return CompanySettings{}, &ConfigurationError{Reason: "unknown company " + companyID}
	}
	return settings, nil
}

func (m *memStore) NextRunSequence(_ context.Context, companyID string, frequency Frequency, periodStart time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, run := range m.state.runs {
		if run.CompanyID == companyID && run.Frequency == frequency &&
			run.PeriodStart.Year() == periodStart.Year() && run.PeriodStart.Month() == periodStart.Month() {
			count++
		}
	}
	return count + 1, nil
}

func (m *memStore) InsertRun(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runNumberRaces > 0 {
		m.runNumberRaces--
		return fmt.Errorf("%w: %s", ErrRunNumberTaken, run.RunNumber)
	}
	for _, existing := range m.state.runs {
		if existing.CompanyID == run.CompanyID && existing.Frequency == run.Frequency && existing.PeriodStart.Equal(run.PeriodStart) {
			return NewValidationError("periodStart", "a run already exists for this period")
		}
		if existing.CompanyID == run.CompanyID && existing.RunNumber == run.RunNumber {
			return fmt.Errorf("%w: %s", ErrRunNumberTaken, run.RunNumber)
		}
	}
	m.state.runs[run.ID] = run
	return nil
}

func (m *memStore) GetRun(_ context.Context, companyID, runID string) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.state.runs[runID]
	if !ok || run.CompanyID != companyID {
		return Run{}, ErrRunNotFound
	}
	return run, nil
}

func (m *memStore) LockRun(ctx context.Context, companyID, runID string) (Run, error) {
	m.mu.Lock()
	m.lockCalls++
	m.mu.Unlock()
	return m.GetRun(ctx, companyID, runID)
}

func (m *memStore) ListRuns(_ context.Context, companyID string, filter RunFilter) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var runs []Run
	for _, run := range m.state.runs {
		if run.CompanyID != companyID {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		if filter.Frequency != "" && run.Frequency != filter.Frequency {
			continue
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].PeriodStart.After(runs[j].PeriodStart) })
	return runs, nil
}

func (m *memStore) UpdateRunStatus(_ context.Context, companyID, runID string, change StatusChange) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdateStatus != nil {
		return Run{}, m.failUpdateStatus
	}
	run, ok := m.state.runs[runID]
	if !ok || run.CompanyID != companyID || run.Status != change.From || run.Version != change.ExpectedVersion {
		return Run{}, ErrStaleRun
	}
	at := change.At
	run.Status = change.To
	run.Version++
	if change.CalcVersion > 0 {
		run.CalcVersion = change.CalcVersion
	}
	if change.JournalRef != "" {
		run.JournalRef = change.JournalRef
	}
	switch change.To {
	case StatusCalculated:
		run.CalculatedAt, run.CalculatedBy = &at, change.Actor
	case StatusReview:
		run.ReviewedAt, run.ReviewedBy = &at, change.Actor
	case StatusApproved:
		run.ApprovedAt, run.ApprovedBy = &at, change.Actor
	case StatusLocked:
		run.LockedAt, run.LockedBy = &at, change.Actor
	case StatusPosted:
		run.PostedAt, run.PostedBy = &at, change.Actor
	}
	m.state.runs[runID] = run
	return run, nil
}

func (m *memStore) ListEmployees(_ context.Context, companyID string, frequency Frequency) ([]Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Employee
	for _, emp := range m.state.employees {
		if emp.CompanyID == companyID && emp.Frequency == frequency {
			out = append(out, emp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetEmployee(_ context.Context, companyID, employeeID string) (Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	emp, ok := m.state.employees[employeeID]
	if !ok || emp.CompanyID != companyID {
		return Employee{}, ErrEmployeeNotFound
	}
	return emp, nil
}

func (m *memStore) ListInputs(_ context.Context, runID string) ([]Input, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Input(nil), m.state.inputs[runID]...), nil
}

func (m *memStore) InsertInput(_ context.Context, runID string, input Input) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.inputs[runID] = append(m.state.inputs[runID], input)
	return nil
}

func (m *memStore) ListExclusions(_ context.Context, runID string) ([]Exclusion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Exclusion
	for _, ex := range m.state.exclusions[runID] {
		out = append(out, ex)
	}
	return out, nil
}

func (m *memStore) UpsertExclusion(_ context.Context, runID string, ex Exclusion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.exclusions[runID] == nil {
		m.state.exclusions[runID] = map[string]Exclusion{}
	}
	m.state.exclusions[runID][ex.EmployeeID] = ex
	return nil
}

func (m *memStore) InsertResults(_ context.Context, runID string, calcVersion int, results []Breakdown) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsertResults != nil {
		return m.failInsertResults
	}
	if m.state.results[runID] == nil {
		m.state.results[runID] = map[int][]Breakdown{}
	}
	if _, exists := m.state.results[runID][calcVersion]; exists {
		return fmt.Errorf("results for %s version %d already exist", runID, calcVersion)
	}
	m.state.results[runID][calcVersion] = append([]Breakdown(nil), results...)
	return nil
}

func (m *memStore) ListResults(_ context.Context, runID string, calcVersion int) ([]EmployeeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EmployeeResult
	for _, b := range m.state.results[runID][calcVersion] {
		emp := m.state.employees[b.EmployeeID]
		out = append(out, EmployeeResult{
			RunID:          runID,
			CalcVersion:    calcVersion,
			Breakdown:      b,
			EmployeeNumber: emp.Number,
			FullName:       emp.FullName,
			Bank:           emp.Bank,
		})
	}
	return out, nil
}

func (m *memStore) ListFinalizedResults(ctx context.Context, companyID string, from, to time.Time) ([]RunResult, error) {
	m.mu.Lock()
	var runs []Run
	for _, run := range m.state.runs {
		if run.CompanyID == companyID && run.Status.Finalized() && !run.PayDate.Before(from) && !run.PayDate.After(to) {
			runs = append(runs, run)
		}
	}
	m.mu.Unlock()

	var out []RunResult
	for _, run := range runs {
		results, err := m.ListResults(ctx, run.ID, run.CalcVersion)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			out = append(out, RunResult{PayDate: run.PayDate, EmployeeResult: r})
		}
	}
	return out, nil
}

func (m *memStore) versions(runID string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int
	for v := range m.state.results[runID] {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

func (m *memStore) setStatus(runID string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := m.state.runs[runID]
	run.Status = status
	m.state.runs[runID] = run
}

func (m *memStore) putEmployee(emp Employee) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.employees[emp.ID] = emp
}

func (m *memStore) journal(runID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.state.journals[runID]
	return ref, ok
}

type fakeTables struct {
	table *taxtable.Table
}

func (f fakeTables) LoadTaxTables(_ context.Context, date time.Time) (taxtable.Table, error) {
	if f.table == nil || f.table.EffectiveFrom.After(date) {
		return taxtable.Table{}, fmt.Errorf("%w: %s", taxtable.ErrNoTable, date.Format("2006-01-02"))
	}
	return *f.table, nil
}

type fakeItems struct {
	mu    sync.Mutex
	items []payitem.PayItem
}

func (f *fakeItems) LoadPayItems(context.Context, string) ([]payitem.PayItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]payitem.PayItem(nil), f.items...), nil
}

func (f *fakeItems) deactivate(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].Code == code {
			f.items[i].Active = false
		}
	}
}

// fakePoster writes its journal into the store so rollbacks are visible.
type fakePoster struct {
	store *memStore
	err   error
	calls int
}

func (p *fakePoster) PostPayrollRun(ctx context.Context, ec ExecContext, runID string) (string, error) {
	p.calls++
	run, err := p.store.GetRun(ctx, ec.CompanyID, runID)
	if err != nil {
		return "", err
	}
	if run.Status != StatusLocked {
		return "", fmt.Errorf("run %s is %s, not locked", runID, run.Status)
	}
	ref := "JV-" + run.RunNumber
	p.store.mu.Lock()
	p.store.state.journals[runID] = ref
	p.store.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	return ref, nil
}

type fakePayslips struct {
	err   error
	calls int
	store *memStore
}

func (f *fakePayslips) GeneratePayslips(ctx context.Context, companyID, runID string) (int, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	run, err := f.store.GetRun(ctx, companyID, runID)
	if err != nil {
		return 0, err
	}
	results, err := f.store.ListResults(ctx, runID, run.CalcVersion)
	return len(results), err
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
	err     error
}

func (f *fakeAudit) Record(_ context.Context, entry audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAudit) List(_ context.Context, companyID string, filter audit.Filter, limit, offset int) ([]audit.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []audit.Event
	for i := len(f.entries) - 1; i >= 0; i-- {
		e := f.entries[i]
		if e.CompanyID != companyID || e.EntityID != filter.EntityID {
			continue
		}
		out = append(out, audit.Event{ID: int64(i + 1), ActorID: e.ActorID, Action: e.Action, EntityType: e.EntityType, EntityID: e.EntityID})
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeAudit) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

type countingObserver struct {
	ok, failed map[string]int
}

func (o *countingObserver) ObserveTransition(to string, ok bool) {
	if ok {
		o.ok[to]++
		return
	}
	o.failed[to]++
}

var errInjected = errors.New("injected failure")
