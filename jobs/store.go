package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/qaflow/db"
	"github.com/teranos/qaflow/errors"
)

// Store persists jobs in the qa_jobs table.
//
// Every write is a single statement against the database, so a write is
// visible to any later Get. Expired records behave exactly like missing ones.
type Store struct {
	db      *sql.DB
	dialect db.Dialect
	now     func() time.Time
	logger  *zap.SugaredLogger
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the wall clock used for timestamps and expiry
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store logger
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates a job store over an open, migrated database
func NewStore(conn *sql.DB, dialect db.Dialect, opts ...Option) *Store {
	s := &Store{
		db:      conn,
		dialect: dialect,
		now:     time.Now,
		logger:  zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store's current time in UTC
func (s *Store) Now() time.Time {
	return s.now().UTC()
}

// Create inserts a new job. It fails with ErrAlreadyExists when the id is taken.
func (s *Store) Create(ctx context.Context, job *Job) error {
	if job == nil || job.ID == "" {
		return errors.NewInvalidRequestError("job id is required")
	}
	if err := job.checkInvariant(); err != nil {
		return err
	}

	jobCtx := job.Context
	if len(jobCtx) == 0 {
		jobCtx = json.RawMessage(`{}`)
	}
	progress, err := marshalProgress(job.Progress)
	if err != nil {
		return err
	}

	query := s.dialect.Rebind(`INSERT INTO qa_jobs (` + jobSelectColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id) DO NOTHING`)

	res, err := s.db.ExecContext(ctx, query,
		job.ID,
		string(job.Status),
		job.Question,
		string(jobCtx),
		nullableJSON(job.Result),
		nullableString(job.Error),
		progress,
		job.CreatedAt.UTC(),
		job.UpdatedAt.UTC(),
		job.ExpiresAt.Unix(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create job %s", job.ID)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "failed to read rows affected for job %s", job.ID)
	}
	if n == 0 {
		return errors.WithDetail(
			errors.Wrapf(errors.ErrAlreadyExists, "job %s", job.ID),
			fmt.Sprintf("Job ID: %s", job.ID),
		)
	}

	s.logger.Debugw("Job created", "job_id", job.ID, "expires_at", job.ExpiresAt)
	return nil
}

// Get returns the job with the given id, or ErrNotFound when it is unknown or expired.
func (s *Store) Get(ctx context.Context, jobID string) (*Job, error) {
	query := s.dialect.Rebind(`SELECT ` + jobSelectColumns + `
		FROM qa_jobs
		WHERE job_id = ? AND expires_at > ?`)

	job, err := scanJob(s.db.QueryRowContext(ctx, query, jobID, s.Now().Unix()))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("job %s", jobID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %s", jobID)
	}
	return job, nil
}

// Update applies a partial patch.
//
// Terminal records are never modified. When expected is non-nil the write
// also requires the stored status to equal *expected. Both checks live in the
// UPDATE's WHERE clause so they are atomic with the write. Zero affected rows
// yield ErrNotFound (missing or expired) or ErrConditionFailed.
func (s *Store) Update(ctx context.Context, jobID string, u Update, expected *Status) error {
	if err := u.validate(); err != nil {
		return errors.Wrapf(err, "job %s", jobID)
	}

	now := s.Now()
	sets := []string{"updated_at = ?"}
	args := []interface{}{now}

	if u.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*u.Status))
	}
	if u.Result != nil {
		sets = append(sets, "result = ?")
		args = append(args, string(u.Result))
	}
	if u.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *u.Error)
	}
	if u.Progress != nil {
		progress, err := marshalProgress(u.Progress)
		if err != nil {
			return err
		}
		sets = append(sets, "progress = ?")
		args = append(args, progress)
	}

	where := "job_id = ? AND expires_at > ? AND status = ?"
	args = append(args, jobID, now.Unix(), string(StatusProcessing))
	if expected != nil {
		where += " AND status = ?"
		args = append(args, string(*expected))
	}

	query := s.dialect.Rebind("UPDATE qa_jobs SET " + strings.Join(sets, ", ") + " WHERE " + where)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "failed to update job %s", jobID)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "failed to read rows affected for job %s", jobID)
	}
	if n > 0 {
		if u.Status != nil {
			s.logger.Debugw("Job status updated", "job_id", jobID, "status", *u.Status)
		}
		return nil
	}

	return s.explainMiss(ctx, jobID, expected)
}

// explainMiss distinguishes a missing job from a failed condition after an
// update matched no rows.
func (s *Store) explainMiss(ctx context.Context, jobID string, expected *Status) error {
	query := s.dialect.Rebind(`SELECT status FROM qa_jobs WHERE job_id = ? AND expires_at > ?`)

	var current Status
	err := s.db.QueryRowContext(ctx, query, jobID, s.Now().Unix()).Scan(&current)
	if err == sql.ErrNoRows {
		return errors.NewNotFoundError("job %s", jobID)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to read status of job %s", jobID)
	}

	want := "non-terminal"
	if expected != nil {
		want = string(*expected)
	}
	return errors.WithDetail(
		errors.NewConditionFailedError("job %s is %s, expected %s", jobID, current, want),
		fmt.Sprintf("Job ID: %s", jobID),
	)
}

// DeleteExpired removes every record whose expiry has passed and returns how many went.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	query := s.dialect.Rebind(`DELETE FROM qa_jobs WHERE expires_at <= ?`)
	res, err := s.db.ExecContext(ctx, query, s.Now().Unix())
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete expired jobs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read rows affected for expired jobs")
	}
	return n, nil
}

// CountByStatus returns the number of live jobs in each status
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	query := s.dialect.Rebind(`SELECT status, COUNT(*) FROM qa_jobs WHERE expires_at > ? GROUP BY status`)
	rows, err := s.db.QueryContext(ctx, query, s.Now().Unix())
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate job counts")
	}
	return counts, nil
}

func marshalProgress(p *Progress) (sql.NullString, error) {
	if p == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, errors.Wrap(err, "failed to marshal progress")
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
