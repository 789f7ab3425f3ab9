package eventbus

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// persistEvent upserts event into the events table on event_id. A nil
// db (no persistence wired) is a silent no-op: durability is best-effort
// per the error taxonomy's PersistenceError policy.
func (b *Bus) persistEvent(ctx context.Context, e Event) error {
	if b.db == nil {
		return nil
	}

	_, err := b.db.ExecContext(ctx, `
		INSERT INTO events (
			event_id, category, source, event_type, payload, priority, state,
			retry_count, created_at, expires_at, headers, correlation_id, trace_id,
			processed_at, error_message
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (event_id) DO UPDATE SET
			state = $7, retry_count = $8, processed_at = $14, error_message = $15
	`,
		e.EventID, string(e.Category), e.Source, e.EventType, e.Payload, int(e.Priority), string(e.State),
		e.RetryCount, e.CreatedAt.UnixMilli(), nullMillisEB(e.ExpiresAt), headersJSON(e.Headers),
		e.CorrelationID, e.TraceID, nullMillisEBPtr(e.ProcessedAt), e.ErrorMessage,
	)
	return err
}

// GetEvents returns persisted events in category with created_at >=
// since, ordered ascending by created_at.
func (b *Bus) GetEvents(ctx context.Context, category Category, since time.Time) ([]Event, error) {
	if b.db == nil {
		return nil, nil
	}
	rows, err := b.db.QueryContext(ctx, `
		SELECT event_id, category, source, event_type, payload, priority, state,
			retry_count, created_at, expires_at, headers, correlation_id, trace_id,
			processed_at, error_message
		FROM events WHERE category = $1 AND created_at >= $2 ORDER BY created_at
	`, string(category), since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEventRows(rows)
}

// GetEventsBySource returns persisted events from source with created_at
// >= since, ordered ascending by created_at.
func (b *Bus) GetEventsBySource(ctx context.Context, source string, since time.Time) ([]Event, error) {
	if b.db == nil {
		return nil, nil
	}
	rows, err := b.db.QueryContext(ctx, `
		SELECT event_id, category, source, event_type, payload, priority, state,
			retry_count, created_at, expires_at, headers, correlation_id, trace_id,
			processed_at, error_message
		FROM events WHERE source = $1 AND created_at >= $2 ORDER BY created_at
	`, source, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEventRows(rows)
}

// expirePersistedEvents deletes rows whose expires_at has passed,
// returning the count removed.
func (b *Bus) expirePersistedEvents(ctx context.Context) (int, error) {
	if b.db == nil {
		return 0, nil
	}
	now := time.Now().UTC().UnixMilli()
	result, err := b.db.ExecContext(ctx, `
		DELETE FROM events
		WHERE expires_at IS NOT NULL AND expires_at < $1
	`, now)
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

func scanEventRows(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var (
			e               Event
			category        string
			priority        int
			state           string
			createdAtMs     int64
			expiresAtMs     sql.NullInt64
			headersRaw      []byte
			processedAtMs   sql.NullInt64
			errorMessage    sql.NullString
		)
		if err := rows.Scan(
			&e.EventID, &category, &e.Source, &e.EventType, &e.Payload, &priority, &state,
			&e.RetryCount, &createdAtMs, &expiresAtMs, &headersRaw, &e.CorrelationID, &e.TraceID,
			&processedAtMs, &errorMessage,
		); err != nil {
			return nil, err
		}
		e.Category = Category(category)
		e.Priority = Priority(priority)
		e.State = State(state)
		e.CreatedAt = time.UnixMilli(createdAtMs).UTC()
		if expiresAtMs.Valid {
			e.ExpiresAt = time.UnixMilli(expiresAtMs.Int64).UTC()
		}
		if processedAtMs.Valid {
			t := time.UnixMilli(processedAtMs.Int64).UTC()
			e.ProcessedAt = &t
		}
		if errorMessage.Valid {
			e.ErrorMessage = errorMessage.String
		}
		e.Headers = parseHeadersJSON(headersRaw)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullMillisEB(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func nullMillisEBPtr(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

// headersJSON and parseHeadersJSON round-trip the headers map through
// the JSONB column; malformed stored JSON yields an empty map rather
// than failing the read path.
func headersJSON(h map[string]string) []byte {
	if len(h) == 0 {
		return []byte("{}")
	}
	b, err := json.Marshal(h)
	if err != nil {
		return []byte("{}")
	}
	return b
}

func parseHeadersJSON(raw []byte) map[string]string {
	h := make(map[string]string)
	if len(raw) == 0 {
		return h
	}
	_ = json.Unmarshal(raw, &h)
	return h
}
