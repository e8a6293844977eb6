package jobs

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/teranos/qaflow/errors"
)

// jobSelectColumns is the column order expected by scanJob
const jobSelectColumns = `job_id, status, question, context, result, error, progress, created_at, updated_at, expires_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// jobScanArgs holds the nullable columns of a job row
type jobScanArgs struct {
	Context   sql.NullString
	Result    sql.NullString
	ErrorMsg  sql.NullString
	Progress  sql.NullString
	ExpiresAt int64
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var args jobScanArgs

	err := row.Scan(
		&job.ID,
		&job.Status,
		&job.Question,
		&args.Context,
		&args.Result,
		&args.ErrorMsg,
		&args.Progress,
		&job.CreatedAt,
		&job.UpdatedAt,
		&args.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	if args.Context.Valid {
		job.Context = json.RawMessage(args.Context.String)
	}
	if args.Result.Valid {
		job.Result = json.RawMessage(args.Result.String)
	}
	if args.ErrorMsg.Valid {
		job.Error = args.ErrorMsg.String
	}
	if args.Progress.Valid && args.Progress.String != "" {
		var p Progress
		if err := json.Unmarshal([]byte(args.Progress.String), &p); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal progress for job %s", job.ID)
		}
		job.Progress = &p
	}

	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	job.ExpiresAt = time.Unix(args.ExpiresAt, 0).UTC()

	return &job, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableJSON(raw json.RawMessage) sql.NullString {
	return sql.NullString{String: string(raw), Valid: len(raw) > 0}
}
