package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iyuvalk/switcher-breeze-rest/internal/switcher"
)

// Outcome values.
const (
	OutcomeSuccess = "success"
	OutcomeInvalid = "invalid"
	OutcomeFailed  = "failed"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200

	// maxErrorLength caps stored error text, which may quote client input.
	maxErrorLength = 256

	// Fixed width so created_at sorts lexically.
	timeLayout = "2006-01-02T15:04:05.000000Z07:00"
)

// ErrDeviceRequired is returned when an entry or filter names no device.
var ErrDeviceRequired = errors.New("journal: device id is required")

// Entry is one recorded device call.
type Entry struct {
	ID         string         `json:"id"`
	RequestID  string         `json:"request_id,omitempty"`
	DeviceID   string         `json:"device_id"`
	Action     string         `json:"action"`
	Params     map[string]any `json:"params,omitempty"`
	Outcome    string         `json:"outcome"`
	ErrorKind  string         `json:"error_kind,omitempty"`
	Error      string         `json:"error,omitempty"`
	State      string         `json:"state,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter selects entries for List.
type Filter struct {
	DeviceID string
	Limit    int // Default 50, max 200
	Offset   int
}

// ListResult is a page of entries with the total matching count.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository persists journal entries.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Record builds an Entry from the outcome of one device call.
//
// Parameters:
//   - requestID: HTTP request id, may be empty
//   - device: Device reference as given by the client (normalised when valid)
//   - action: Action attempted
//   - params: Non-secret parameters worth keeping
//   - state: State reported by the device on success
//   - err: nil on success, a *switcher.ValidationError, a *switcher.DeviceError or anything else
//   - elapsed: Time spent on the call
//
// Returns:
//   - *Entry: Entry ready for Writer.Enqueue
func Record(requestID, device string, action switcher.Action, params map[string]any, state switcher.DeviceState, err error, elapsed time.Duration) *Entry {
	entry := &Entry{
		RequestID:  requestID,
		DeviceID:   device,
		Action:     string(action),
		Params:     params,
		Outcome:    OutcomeSuccess,
		State:      string(state),
		DurationMS: elapsed.Milliseconds(),
	}
	if err == nil {
		return entry
	}

	entry.Error = err.Error()
	if len(entry.Error) > maxErrorLength {
		entry.Error = entry.Error[:maxErrorLength]
	}
	entry.State = ""

	var verr *switcher.ValidationError
	var derr *switcher.DeviceError
	switch {
	case errors.As(err, &verr):
		entry.Outcome = OutcomeInvalid
		entry.ErrorKind = verr.Code
	case errors.As(err, &derr):
		entry.Outcome = OutcomeFailed
		entry.ErrorKind = string(derr.Kind)
	default:
		entry.Outcome = OutcomeFailed
		entry.ErrorKind = "internal"
	}
	return entry
}

// SQLiteRepository implements Repository on the command_log table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an entry. ID and CreatedAt are filled when empty.
func (r *SQLiteRepository) Create(ctx context.Context, entry *Entry) error {
	if entry.DeviceID == "" {
		return ErrDeviceRequired
	}
	if entry.ID == "" {
		entry.ID = "cmd-" + uuid.NewString()[:8]
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var paramsJSON *string
	if len(entry.Params) > 0 {
		b, err := json.Marshal(entry.Params)
		if err != nil {
			return fmt.Errorf("marshalling params: %w", err)
		}
		s := string(b)
		paramsJSON = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_log
		 (id, request_id, device_id, action, params, outcome, error_kind, error, state, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		nullableString(entry.RequestID),
		entry.DeviceID,
		entry.Action,
		paramsJSON,
		entry.Outcome,
		nullableString(entry.ErrorKind),
		nullableString(entry.Error),
		nullableString(entry.State),
		entry.DurationMS,
		entry.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}
	return nil
}

// List returns entries for one device, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.DeviceID == "" {
		return nil, ErrDeviceRequired
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM command_log WHERE device_id = ?",
		filter.DeviceID,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting journal entries: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, request_id, device_id, action, params, outcome, error_kind, error, state, duration_ms, created_at
		 FROM command_log
		 WHERE device_id = ?
		 ORDER BY created_at DESC
		 LIMIT ? OFFSET ?`,
		filter.DeviceID, filter.Limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, filter.Limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// Prune deletes entries older than the given duration.
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(timeLayout)
	result, err := r.db.ExecContext(ctx, "DELETE FROM command_log WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting journal entries: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		entry                                  Entry
		requestID, params, errKind, errMsg, st sql.NullString
		createdAt                              string
	)
	if err := rows.Scan(&entry.ID, &requestID, &entry.DeviceID, &entry.Action, &params,
		&entry.Outcome, &errKind, &errMsg, &st, &entry.DurationMS, &createdAt); err != nil {
		return Entry{}, fmt.Errorf("scanning journal entry: %w", err)
	}

	entry.RequestID = requestID.String
	entry.ErrorKind = errKind.String
	entry.Error = errMsg.String
	entry.State = st.String

	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &entry.Params); err != nil {
			return Entry{}, fmt.Errorf("unmarshalling params: %w", err)
		}
	}

	ts, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing created_at: %w", err)
	}
	entry.CreatedAt = ts
	return entry, nil
}

// nullableString returns nil for empty strings so SQLite stores NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
