package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written to the ledger.
const (
	RunStarted   = "run.started"
	RunFinished  = "run.finished"
	DateSettled  = "date.settled"
	PushFailed   = "push.failed"
	HistoryError = "history.unavailable"
	WatchdogTick = "watchdog.check"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event inside tx, or directly on DB when tx is nil.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, runID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	const q = `INSERT INTO events(ts,type,run_id,payload_json) VALUES (?,?,?,?)`
	if tx != nil {
		_, err = tx.ExecContext(ctx, q, ts, evtType, nullable(runID), string(data))
	} else {
		_, err = w.DB.ExecContext(ctx, q, ts, evtType, nullable(runID), string(data))
	}
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
