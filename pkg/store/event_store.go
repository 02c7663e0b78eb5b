package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-labs/nexus/core/pkg/contracts"
)

// EventStore is the append-only decision event log. State is never stored;
// every mutation is an event append and every read is a replay input.
type EventStore struct {
	store *Store
	clock func() time.Time
}

// NewEventStore builds an EventStore over an opened Store.
func NewEventStore(s *Store) *EventStore {
	return &EventStore{store: s, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (es *EventStore) WithClock(clock func() time.Time) *EventStore {
	es.clock = clock
	return es
}

// CreateAggregate registers a new decision aggregate. An empty id gets a
// generated one. Fails with DECISION_EXISTS if the id is taken.
func (es *EventStore) CreateAggregate(ctx context.Context, id string) (string, error) {
	if id == "" {
		id = "dec_" + uuid.New().String()
	}
	query := es.store.q(`INSERT INTO decisions (id, created_at) VALUES (?, ?)`)
	if _, err := es.store.db.ExecContext(ctx, query, id, formatTime(es.clock())); err != nil {
		if isUniqueViolation(err) {
			return "", contracts.Errf(contracts.CodeDecisionExists, "decision %s already exists", id)
		}
		return "", fmt.Errorf("create aggregate: %w", err)
	}
	return id, nil
}

// AppendEvent allocates the next seq inside one transaction, computes the
// event digest over (event_type, payload), and persists the event.
func (es *EventStore) AppendEvent(ctx context.Context, aggregateID string, eventType contracts.EventType, actor contracts.Actor, payload map[string]any) (*contracts.StoredEvent, error) {
	digest, err := contracts.EventDigest(eventType, payload)
	if err != nil {
		return nil, err
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	tx, err := es.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	row := tx.QueryRowContext(ctx, es.store.q(`SELECT COUNT(1) FROM decisions WHERE id = ?`), aggregateID)
	if err := row.Scan(&exists); err != nil {
		return nil, fmt.Errorf("check aggregate: %w", err)
	}
	if exists == 0 {
		return nil, contracts.Errf(contracts.CodeDecisionNotFound, "decision %s not found", aggregateID)
	}

	var seq int64
	row = tx.QueryRowContext(ctx, es.store.q(
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM decision_events WHERE decision_id = ?`), aggregateID)
	if err := row.Scan(&seq); err != nil {
		return nil, fmt.Errorf("allocate seq: %w", err)
	}

	ts := es.clock().UTC()
	_, err = tx.ExecContext(ctx, es.store.q(
		`INSERT INTO decision_events (decision_id, seq, event_type, ts, actor_type, actor_id, payload_json, digest)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		aggregateID, seq, string(eventType), formatTime(ts),
		string(actor.Type), actor.ID, string(payloadJSON), digest,
	)
	if err != nil {
		// Concurrent appenders race on (decision_id, seq); the loser sees a
		// uniqueness violation and must retry the allocation.
		return nil, fmt.Errorf("insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}

	return &contracts.StoredEvent{
		AggregateID: aggregateID,
		Seq:         seq,
		Type:        eventType,
		Timestamp:   ts,
		Actor:       actor,
		Payload:     payload,
		Digest:      digest,
	}, nil
}

// GetEvents returns the full ordered event log for one aggregate.
func (es *EventStore) GetEvents(ctx context.Context, aggregateID string) ([]contracts.StoredEvent, error) {
	rows, err := es.store.db.QueryContext(ctx, es.store.q(
		`SELECT decision_id, seq, event_type, ts, actor_type, actor_id, payload_json, digest
		 FROM decision_events WHERE decision_id = ? ORDER BY seq ASC`), aggregateID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []contracts.StoredEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// AggregateHeader is one row of the decision listing.
type AggregateHeader struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// ListAggregates lists decisions newest first.
func (es *EventStore) ListAggregates(ctx context.Context, limit, offset int) ([]AggregateHeader, error) {
	rows, err := es.store.db.QueryContext(ctx, es.store.q(
		`SELECT id, created_at FROM decisions ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`),
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list aggregates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []AggregateHeader
	for rows.Next() {
		var id, created string
		if err := rows.Scan(&id, &created); err != nil {
			return nil, err
		}
		out = append(out, AggregateHeader{ID: id, CreatedAt: parseTime(created)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetAggregate returns the header for one decision, or nil if absent.
func (es *EventStore) GetAggregate(ctx context.Context, id string) (*AggregateHeader, error) {
	row := es.store.db.QueryRowContext(ctx, es.store.q(
		`SELECT id, created_at FROM decisions WHERE id = ?`), id)
	var hid, created string
	if err := row.Scan(&hid, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get aggregate: %w", err)
	}
	return &AggregateHeader{ID: hid, CreatedAt: parseTime(created)}, nil
}

// DeleteAggregate removes events then header. Used only by import-overwrite
// and replay-failure rollback.
func (es *EventStore) DeleteAggregate(ctx context.Context, id string) (bool, error) {
	tx, err := es.store.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, es.store.q(`DELETE FROM decision_events WHERE decision_id = ?`), id); err != nil {
		return false, fmt.Errorf("delete events: %w", err)
	}
	res, err := tx.ExecContext(ctx, es.store.q(`DELETE FROM decisions WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("delete header: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete: %w", err)
	}
	return n > 0, nil
}

// ImportAtomic inserts a decision header and its events verbatim in one
// transaction, preserving each event's given seq, digest and payload.
// Either fully applied or fully rolled back.
func (es *EventStore) ImportAtomic(ctx context.Context, id string, createdAt time.Time, events []contracts.StoredEvent, overwrite bool) error {
	tx, err := es.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	row := tx.QueryRowContext(ctx, es.store.q(`SELECT COUNT(1) FROM decisions WHERE id = ?`), id)
	if err := row.Scan(&exists); err != nil {
		return fmt.Errorf("check existing: %w", err)
	}
	if exists > 0 {
		if !overwrite {
			return contracts.Errf(contracts.CodeDecisionExists, "decision %s already exists", id)
		}
		if _, err := tx.ExecContext(ctx, es.store.q(`DELETE FROM decision_events WHERE decision_id = ?`), id); err != nil {
			return contracts.Errf(contracts.CodeImportAtomicity, "overwrite events: %v", err)
		}
		if _, err := tx.ExecContext(ctx, es.store.q(`DELETE FROM decisions WHERE id = ?`), id); err != nil {
			return contracts.Errf(contracts.CodeImportAtomicity, "overwrite header: %v", err)
		}
	}

	// Any write failure past this point is an atomicity fault: the deferred
	// rollback undoes the partial import and the caller sees one stable code.
	if _, err := tx.ExecContext(ctx, es.store.q(`INSERT INTO decisions (id, created_at) VALUES (?, ?)`),
		id, formatTime(createdAt)); err != nil {
		return contracts.Errf(contracts.CodeImportAtomicity, "insert header: %v", err)
	}
	for _, ev := range events {
		payloadJSON, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload seq %d: %w", ev.Seq, err)
		}
		if _, err := tx.ExecContext(ctx, es.store.q(
			`INSERT INTO decision_events (decision_id, seq, event_type, ts, actor_type, actor_id, payload_json, digest)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			id, ev.Seq, string(ev.Type), formatTime(ev.Timestamp),
			string(ev.Actor.Type), ev.Actor.ID, string(payloadJSON), ev.Digest,
		); err != nil {
			return contracts.Errf(contracts.CodeImportAtomicity, "insert event seq %d: %v", ev.Seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return contracts.Errf(contracts.CodeImportAtomicity, "commit import: %v", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (*contracts.StoredEvent, error) {
	var (
		decisionID, eventType, ts, actorType, actorID, payloadJSON, digest string
		seq                                                                int64
	)
	if err := r.Scan(&decisionID, &seq, &eventType, &ts, &actorType, &actorID, &payloadJSON, &digest); err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	var payload map[string]any
	dec := json.NewDecoder(bytes.NewReader([]byte(payloadJSON)))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("corrupt payload JSON at %s/%d: %w", decisionID, seq, err)
	}
	return &contracts.StoredEvent{
		AggregateID: decisionID,
		Seq:         seq,
		Type:        contracts.EventType(eventType),
		Timestamp:   parseTime(ts),
		Actor:       contracts.Actor{Type: contracts.ActorType(actorType), ID: actorID},
		Payload:     payload,
		Digest:      digest,
	}, nil
}
