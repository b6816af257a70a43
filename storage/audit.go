package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"contentmind/metrics"
)

// DefaultActor is recorded when neither the context nor the auditor config
// supplies an actor.
const DefaultActor = "system"

// AuditFields carries creation/modification provenance. Embed it in any
// persisted record to make the record Auditable.
type AuditFields struct {
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by"`
}

// Audit returns the fields for stamping.
func (a *AuditFields) Audit() *AuditFields { return a }

// Auditable is implemented by records that embed AuditFields.
type Auditable interface {
	Audit() *AuditFields
}

type actorKey struct{}

// WithActor attaches the acting principal to ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor attached by WithActor.
func ActorFromContext(ctx context.Context) (string, bool) {
	actor, ok := ctx.Value(actorKey{}).(string)
	return actor, ok && actor != ""
}

// AuditAction is the kind of change recorded in the audit trail.
type AuditAction string

const (
	ActionCreate AuditAction = "create"
	ActionUpdate AuditAction = "update"
	ActionDelete AuditAction = "delete"
)

// AuditEntry is one row of the audit trail.
type AuditEntry struct {
	ID         int64          `json:"id"`
	Entity     string         `json:"entity"`
	EntityID   string         `json:"entity_id"`
	Action     AuditAction    `json:"action"`
	Actor      string         `json:"actor"`
	OccurredAt time.Time      `json:"occurred_at"`
	Details    map[string]any `json:"details,omitempty"`
}

// Auditor stamps records with provenance and writes the audit trail.
type Auditor struct {
	db           *Database
	defaultActor string
	logger       *zap.SugaredLogger
	now          func() time.Time
}

// NewAuditor returns an auditor writing to db. An empty defaultActor
// falls back to DefaultActor.
func NewAuditor(db *Database, defaultActor string, logger *zap.SugaredLogger) *Auditor {
	if defaultActor == "" {
		defaultActor = DefaultActor
	}
	return &Auditor{
		db:           db,
		defaultActor: defaultActor,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// CurrentActor resolves the actor for ctx.
func (a *Auditor) CurrentActor(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor
	}
	return a.defaultActor
}

// Stamp sets CreatedAt/CreatedBy the first time a record is stamped and
// UpdatedAt/UpdatedBy on every stamp.
func (a *Auditor) Stamp(ctx context.Context, rec Auditable) {
	f := rec.Audit()
	now := a.now()
	actor := a.CurrentActor(ctx)

	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
		f.CreatedBy = actor
	}
	f.UpdatedAt = now
	f.UpdatedBy = actor
}

// Record appends entry to the audit trail, inside the ambient transaction
// when ctx carries one. Actor and OccurredAt are filled in when empty.
func (a *Auditor) Record(ctx context.Context, entry AuditEntry) (AuditEntry, error) {
	if entry.Entity == "" || entry.EntityID == "" || entry.Action == "" {
		return entry, fmt.Errorf("audit entry requires entity, entity_id and action")
	}
	if entry.Actor == "" {
		entry.Actor = a.CurrentActor(ctx)
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = a.now()
	}

	var details any
	if len(entry.Details) > 0 {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return entry, fmt.Errorf("encode audit details: %w", err)
		}
		details = string(b)
	}

	err := executorFor(ctx, a.db).QueryRowContext(ctx, a.db.Rebind(`
		INSERT INTO audit_log (entity, entity_id, action, actor, occurred_at, details)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`),
		entry.Entity, entry.EntityID, string(entry.Action), entry.Actor,
		entry.OccurredAt.UTC().Format(time.RFC3339Nano), details,
	).Scan(&entry.ID)
	if err != nil {
		return entry, fmt.Errorf("write audit entry: %w", err)
	}

	metrics.AuditRecords.WithLabelValues(entry.Entity, string(entry.Action)).Inc()
	a.logger.Debugw("Audit entry recorded",
		"entity", entry.Entity,
		"entity_id", entry.EntityID,
		"action", entry.Action,
		"actor", entry.Actor)
	return entry, nil
}

// History returns the newest-first audit trail for one entity.
func (a *Auditor) History(ctx context.Context, entity, entityID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := executorFor(ctx, a.db).QueryContext(ctx, a.db.Rebind(`
		SELECT id, entity, entity_id, action, actor, occurred_at, details
		FROM audit_log
		WHERE entity = ? AND entity_id = ?
		ORDER BY id DESC
		LIMIT ?`), entity, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit history: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e          AuditEntry
			action     string
			occurredAt string
			details    *string
		)
		if err := rows.Scan(&e.ID, &e.Entity, &e.EntityID, &action, &e.Actor, &occurredAt, &details); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = AuditAction(action)
		if e.OccurredAt, err = time.Parse(time.RFC3339Nano, occurredAt); err != nil {
			return nil, fmt.Errorf("parse audit timestamp %q: %w", occurredAt, err)
		}
		if details != nil && strings.TrimSpace(*details) != "" {
			if err := json.Unmarshal([]byte(*details), &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
