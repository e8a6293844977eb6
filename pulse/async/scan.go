package async

import (
	"database/sql"
	"time"
)

// taskSelectColumns is the column list every task SELECT uses, in scan order
const taskSelectColumns = `id, handler_name, payload, status, attempts, error,
		created_at, updated_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// taskScanArgs holds the nullable columns of a task row
type taskScanArgs struct {
	Payload     sql.NullString
	Error       sql.NullString
	StartedAt   sql.NullTime
	CompletedAt sql.NullTime
}

func scanTask(row rowScanner) (*Task, error) {
	var task Task
	var args taskScanArgs
	err := row.Scan(
		&task.ID,
		&task.HandlerName,
		&args.Payload,
		&task.Status,
		&task.Attempts,
		&args.Error,
		&task.CreatedAt,
		&task.UpdatedAt,
		&args.StartedAt,
		&args.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if args.Payload.Valid {
		task.Payload = []byte(args.Payload.String)
	}
	if args.Error.Valid {
		task.Error = args.Error.String
	}
	if args.StartedAt.Valid {
		t := args.StartedAt.Time
		task.StartedAt = &t
	}
	if args.CompletedAt.Valid {
		t := args.CompletedAt.Time
		task.CompletedAt = &t
	}
	return &task, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
