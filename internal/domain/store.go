package domain

import (
	"context"
	"time"
)

// Field is one column/value pair of a persisted row. Order within a Row fixes
// the CSV header.
type Field struct {
	Key   string
	Value string
}

// Row is an ordered list of fields, one reporting-cycle record.
type Row []Field

// RowAppender durably appends rows to one append-only log. The first append
// to a fresh log writes the header.
type RowAppender interface {
	Append(ctx context.Context, rows []Row) error
}

// VarStore loads and saves a small keyed string document used for
// cross-restart scalars such as the running equity peak.
type VarStore interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, vars map[string]string) error
}

// ReportSink mirrors report rows into a database. Optional; monitors skip it
// when nil.
type ReportSink interface {
	SaveOrderRows(ctx context.Context, rows []OrderRow) error
	SavePositionRows(ctx context.Context, at time.Time, rows []PositionRow) error
}

// DedupStore remembers that an alert key fired. FirstSeen returns true when
// the key was not seen within the window (and records it); a zero window
// means the key never expires.
type DedupStore interface {
	FirstSeen(ctx context.Context, key string, window time.Duration) (bool, error)
}
