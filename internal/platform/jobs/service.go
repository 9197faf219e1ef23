package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const JobPayslipSweep = "payslip_sweep"

// Recorder persists the outcome of each job run.
type Recorder interface {
	Start(ctx context.Context, jobType string) (string, error)
	Finish(ctx context.Context, id, status string, details json.RawMessage) error
}

type Service struct {
	recorder Recorder
	log      zerolog.Logger
	queue    chan job
}

type job struct {
	Type string
	Run  func(context.Context) (any, error)
}

func New(recorder Recorder, log zerolog.Logger) *Service {
	return &Service{
		recorder: recorder,
		log:      log,
		queue:    make(chan job, 32),
	}
}

// Start runs the worker until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	go s.worker(ctx)
}

// Every enqueues run once per interval until ctx is cancelled.
func (s *Service) Every(ctx context.Context, interval time.Duration, jobType string, run func(context.Context) (any, error)) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Enqueue(jobType, run)
			}
		}
	}()
}

func (s *Service) Enqueue(jobType string, run func(context.Context) (any, error)) bool {
	select {
	case s.queue <- job{Type: jobType, Run: run}:
		return true
	default:
		s.log.Warn().Str("jobType", jobType).Msg("job queue full")
		return false
	}
}

func (s *Service) RunNow(ctx context.Context, jobType string, run func(context.Context) (any, error)) (any, error) {
	return s.runJob(ctx, job{Type: jobType, Run: run})
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			if _, err := s.runJob(ctx, j); err != nil {
				s.log.Warn().Err(err).Str("jobType", j.Type).Msg("job run failed")
			}
		}
	}
}

func (s *Service) runJob(ctx context.Context, j job) (any, error) {
	runID := ""
	if s.recorder != nil {
		id, err := s.recorder.Start(ctx, j.Type)
		if err != nil {
			s.log.Warn().Err(err).Str("jobType", j.Type).Msg("job run insert failed")
		}
		runID = id
	}

	details, err := j.Run(ctx)
	status := "completed"
	if err != nil {
		status = "failed"
	}
	detailsJSON, marshalErr := json.Marshal(details)
	if marshalErr != nil {
		s.log.Warn().Err(marshalErr).Msg("job details marshal failed")
		detailsJSON = []byte("{}")
	}
	if runID != "" {
		if updErr := s.recorder.Finish(ctx, runID, status, detailsJSON); updErr != nil {
			s.log.Warn().Err(updErr).Str("jobType", j.Type).Msg("job run update failed")
		}
	}
	return details, err
}

// PGRecorder stores job runs in the job_runs table.
type PGRecorder struct {
	DB *pgxpool.Pool
}

func (r PGRecorder) Start(ctx context.Context, jobType string) (string, error) {
	var id string
	err := r.DB.QueryRow(ctx, `
    INSERT INTO job_runs (job_type, status)
    VALUES ($1, 'running')
    RETURNING id::text
  `, jobType).Scan(&id)
	return id, err
}

func (r PGRecorder) Finish(ctx context.Context, id, status string, details json.RawMessage) error {
	_, err := r.DB.Exec(ctx, `
    UPDATE job_runs
    SET status = $1, details_json = $2, completed_at = now()
    WHERE id = $3::bigint
  `, status, details, id)
	return err
}
