package state

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/switchboard/internal/broker"
	"github.com/mattjoyce/switchboard/internal/log"
	"github.com/mattjoyce/switchboard/internal/protocol"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// LoggedMessage is one row of the message audit log.
type LoggedMessage struct {
	ID        string    `json:"id"`
	Direction string    `json:"direction"`
	Plugin    string    `json:"plugin"`
	Action    string    `json:"action"`
	MsgID     uint64    `json:"msg_id,omitempty"`
	Key       string    `json:"key"`
	Type      string    `json:"type"`
	ErrorCode int       `json:"error_code,omitempty"`
	Outcome   string    `json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageLog persists broker audit records. It satisfies broker.Recorder.
type MessageLog struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewMessageLog(db *sql.DB) *MessageLog {
	return &MessageLog{db: db, logger: log.WithComponent("message_log")}
}

// Record stores rec. Failures are logged; auditing never blocks routing on errors.
func (m *MessageLog) Record(ctx context.Context, rec broker.Record) {
	if err := m.Insert(ctx, rec); err != nil {
		m.logger.Error("failed to record message", "plugin", rec.Plugin, "key", rec.Key, "type", rec.Type, "error", err)
	}
}

// Insert stores rec and returns any database error.
func (m *MessageLog) Insert(ctx context.Context, rec broker.Record) error {
	var msgID, errCode any
	if rec.Action != protocol.ActionNotification {
		// Decimal text keeps ids above MaxInt64 intact.
		msgID = strconv.FormatUint(rec.ID, 10)
	}
	if rec.ErrorCode != 0 {
		errCode = rec.ErrorCode
	}
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err := m.db.ExecContext(ctx, `
INSERT INTO message_log(id, direction, plugin, action, msg_id, key, type, error_code, outcome, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, uuid.NewString(), string(rec.Direction), rec.Plugin, string(rec.Action), msgID, rec.Key, rec.Type, errCode, rec.Outcome,
		at.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert message log: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. An empty plugin
// returns entries for every plugin.
func (m *MessageLog) Recent(ctx context.Context, plugin string, limit int) ([]LoggedMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, direction, plugin, action, msg_id, key, type, error_code, outcome, created_at FROM message_log`
	args := []any{}
	if plugin != "" {
		query += ` WHERE plugin = ?`
		args = append(args, plugin)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?;`
	args = append(args, limit)

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query message log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []LoggedMessage
	for rows.Next() {
		var (
			lm        LoggedMessage
			msgID     sql.NullString
			errCode   sql.NullInt64
			createdAt string
		)
		if err := rows.Scan(&lm.ID, &lm.Direction, &lm.Plugin, &lm.Action, &msgID, &lm.Key, &lm.Type, &errCode, &lm.Outcome, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message log: %w", err)
		}
		if msgID.Valid {
			lm.MsgID, err = strconv.ParseUint(msgID.String, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse msg_id %q: %w", msgID.String, err)
			}
		}
		if errCode.Valid {
			lm.ErrorCode = int(errCode.Int64)
		}
		lm.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
		}
		out = append(out, lm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message log: %w", err)
	}
	return out, nil
}

// Prune deletes entries older than retention and returns how many were removed.
func (m *MessageLog) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().Format(timeLayout)
	res, err := m.db.ExecContext(ctx, "DELETE FROM message_log WHERE created_at < ?;", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune message log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune message log: %w", err)
	}
	return n, nil
}
