// Package statemgr implements the Connection State Manager: the
// External Status Projection held in Postgres JSONB, updated via
// per-field jsonb_set() writes, with retry/backoff and the suppression
// rules spec.md §4.4 names. The one whole-document write is Create
// (and Initialize through it), which replaces an existing row's
// document.
// Grounded on the teacher's bun/pgdriver stack
// (internal/infra/database/connection.go) repurposed from a flat
// relational Session row to a JSONB document column — see DESIGN.md
// Open Question resolution on the "document store" substrate.
package statemgr

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/uptrace/bun"

	"waconnect/internal/domain/events"
	"waconnect/internal/domain/projection"
	"waconnect/internal/domain/waerrors"
	"waconnect/pkg/logger"
)

type projectionRow struct {
	bun.BaseModel `bun:"table:waconnect_projections,alias:p"`

	SessionKey string          `bun:"session_key,pk"`
	Doc        json.RawMessage `bun:"doc,type:jsonb,notnull"`
	Deleted    bool            `bun:"deleted,notnull,default:false"`
	UpdatedAt  time.Time       `bun:"updated_at,type:timestamptz,notnull"`
}

// heartbeatInterval is the State Manager's own per-session touch of
// last_heartbeat/last_seen (distinct from the Instance Coordinator's
// T_heartbeat registry heartbeat).
const (
	heartbeatInterval = 30 * time.Second
	evictionDelay     = 60 * time.Second
)

type Config struct {
	RetryAttempts int
	RetryDelays   []time.Duration
}

func (c Config) WithDefaults() Config {
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if len(c.RetryDelays) == 0 {
		c.RetryDelays = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	}
	return c
}

// errAbsentTerminalSkip is returned internally by applyOnce when a
// document is absent and the requested status is terminal, or when the
// row carries the deleted flag whatever the status — the record was
// deliberately deleted, so ApplyDelta treats it as a silent no-op
// rather than a failure.
var errAbsentTerminalSkip = errors.New("statemgr: document absent for terminal status, write skipped")

// Publisher is the subset of the Event Bus the State Manager needs, to
// emit persist_failed when a retried write to an active session's
// absent projection is exhausted.
type Publisher interface {
	Publish(ctx context.Context, envelope events.Envelope) error
}

type Manager struct {
	cfg Config
	db  *bun.DB
	bus Publisher
	log logger.Logger

	mu         sync.Mutex
	heartbeats map[string]context.CancelFunc
}

func New(cfg Config, db *bun.DB, bus Publisher, log logger.Logger) *Manager {
	return &Manager{
		cfg:        cfg.WithDefaults(),
		db:         db,
		bus:        bus,
		log:        log.WithComponent("statemgr"),
		heartbeats: make(map[string]context.CancelFunc),
	}
}

func Migrate(ctx context.Context, db *bun.DB) error {
	if _, err := db.NewCreateTable().Model((*projectionRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create projections table: %w", err)
	}
	return nil
}

// Create inserts the initial projection document for a session key.
// If a row already exists, its whole document is replaced and its
// deleted flag cleared.
func (m *Manager) Create(ctx context.Context, status projection.Status) error {
	doc, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal projection: %w", err)
	}
	row := &projectionRow{SessionKey: status.SessionKey, Doc: doc, UpdatedAt: time.Now()}
	_, err = m.db.NewInsert().Model(row).
		On("CONFLICT (session_key) DO UPDATE").
		Set("doc = EXCLUDED.doc").
		Set("deleted = false").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// Initialize creates a projection row with status `connecting`, or
// replaces an existing row's whole document with a fresh `connecting`
// one (no earlier field of that document is kept), and starts the
// 30 s heartbeat loop for the session
// (spec.md §4.4). Any previously running heartbeat for the key is
// stopped first, so a re-attach never leaks a goroutine.
func (m *Manager) Initialize(ctx context.Context, sessionKey string) error {
	if err := m.Create(ctx, projection.Status{
		SessionKey: sessionKey,
		Phase:      "connecting",
		UpdatedAt:  time.Now(),
	}); err != nil {
		return fmt.Errorf("initialize projection: %w", err)
	}
	m.startHeartbeat(sessionKey)
	return nil
}

// startHeartbeat launches the per-session goroutine that touches
// last_heartbeat/last_seen every 30 s, but only while the document's
// own status is `connected` — a disconnected or failed session simply
// skips the tick rather than fabricating activity.
func (m *Manager) startHeartbeat(sessionKey string) {
	m.mu.Lock()
	if cancel, ok := m.heartbeats[sessionKey]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.heartbeats[sessionKey] = cancel
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.tickHeartbeat(ctx, sessionKey)
			}
		}
	}()
}

func (m *Manager) tickHeartbeat(ctx context.Context, sessionKey string) {
	status, err := m.Get(ctx, sessionKey)
	if err != nil {
		return
	}
	if status.Phase != "connected" {
		return
	}
	now := time.Now()
	if err := m.ApplyDelta(ctx, sessionKey, projection.Delta{
		"lastHeartbeat": now,
		"lastSeen":      now,
	}); err != nil {
		m.log.WithError(err).WithField("sessionKey", sessionKey).Warn().Msg("heartbeat write failed")
	}
}

// stopHeartbeat cancels a session's heartbeat goroutine, if running,
// and removes its entry from m.heartbeats at once — used by
// mark_disconnected, mark_failed and MarkDeleted.
func (m *Manager) stopHeartbeat(sessionKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.heartbeats[sessionKey]; ok {
		cancel()
		delete(m.heartbeats, sessionKey)
	}
}

// scheduleEviction checks, evictionDelay after a disconnect, whether
// the session's heartbeat entry is still gone (a fresh Initialize may
// have re-registered it) and logs the eviction if so. It removes
// nothing itself: stopHeartbeat has already dropped the entry, and the
// Manager keeps no other in-memory state per session.
func (m *Manager) scheduleEviction(sessionKey string) {
	time.AfterFunc(evictionDelay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, stillTracked := m.heartbeats[sessionKey]; !stillTracked {
			m.log.WithField("sessionKey", sessionKey).Debug().Msg("evicted in-memory heartbeat bookkeeping")
		}
	})
}

// MarkConnected is the `mark_connected` convenience wrapper.
func (m *Manager) MarkConnected(ctx context.Context, sessionKey string) error {
	return m.ApplyDelta(ctx, sessionKey, projection.Delta{"phase": "connected", "syncCompleted": true})
}

// MarkDisconnected is the `mark_disconnected` convenience wrapper: it
// stops the heartbeat loop and schedules the 60 s eviction check (see
// scheduleEviction).
func (m *Manager) MarkDisconnected(ctx context.Context, sessionKey, reason string) error {
	delta := projection.Delta{"phase": "disconnected"}
	if reason != "" {
		delta["lastError"] = reason
	}
	err := m.ApplyDelta(ctx, sessionKey, delta)
	m.stopHeartbeat(sessionKey)
	m.scheduleEviction(sessionKey)
	return err
}

// MarkFailed is the `mark_failed` convenience wrapper. Failed is
// terminal the same way disconnected is, so it stops the heartbeat and
// schedules the same eviction.
func (m *Manager) MarkFailed(ctx context.Context, sessionKey string, cause error) error {
	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}
	err := m.ApplyDelta(ctx, sessionKey, projection.Delta{"phase": "failed", "lastError": errMsg})
	m.stopHeartbeat(sessionKey)
	m.scheduleEviction(sessionKey)
	return err
}

// UpdateSyncProgress writes sync_status, derived from the counts, plus
// the raw contact/message counts — spec.md §4.4's `update_sync_progress`.
func (m *Manager) UpdateSyncProgress(ctx context.Context, sessionKey string, contacts, messages int, done bool) error {
	status := projection.SyncStarted
	switch {
	case done:
		status = projection.SyncCompleted
	case messages > 0:
		status = projection.SyncImportingMessages
	case contacts > 0:
		status = projection.SyncImportingContacts
	}
	return m.ApplyDelta(ctx, sessionKey, projection.Delta{
		"syncStatus":        status,
		"syncContactsCount": contacts,
		"syncMessagesCount": messages,
	})
}

// Close stops every running heartbeat goroutine, used on shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, cancel := range m.heartbeats {
		cancel()
		delete(m.heartbeats, key)
	}
}

// ApplyDelta writes only the dotted paths present in delta, via one
// jsonb_set() fragment per field, retrying transient failures with the
// configured backoff schedule. It applies the §4.4 suppression rules
// (qr_pending gating before handshake_completed, connected rewritten to
// importing_messages before sync_completed) and the absent-document
// write rules (skip for terminal status, retry-then-persist_failed for
// active status).
func (m *Manager) ApplyDelta(ctx context.Context, sessionKey string, delta projection.Delta) error {
	delta = m.suppress(ctx, sessionKey, delta)
	if len(delta) == 0 {
		return nil
	}

	requestedPhase, _ := delta["phase"].(string)

	var lastErr error
	for attempt := 0; attempt < m.cfg.RetryAttempts; attempt++ {
		err := m.applyOnce(ctx, sessionKey, delta, requestedPhase)
		if err == nil {
			return nil
		}
		if errors.Is(err, errAbsentTerminalSkip) {
			return nil
		}
		lastErr = err
		if attempt < len(m.cfg.RetryDelays) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.cfg.RetryDelays[attempt]):
			}
		}
	}

	if errors.Is(lastErr, waerrors.ErrProjectionMissing) {
		m.emitPersistFailed(sessionKey, lastErr)
	}
	return fmt.Errorf("apply projection delta after %d attempts: %w", m.cfg.RetryAttempts, lastErr)
}

// suppress applies the two first-time-pairing gating rules: any
// non-qr_pending phase is dropped until handshake_completed, and a
// requested `connected` is rewritten to `importing_messages` until
// sync_completed. Both checks consider the value the same delta is
// about to write before falling back to the document's current value,
// so a delta that sets the gating flag and the phase in the same call
// is evaluated against its own new value.
func (m *Manager) suppress(ctx context.Context, sessionKey string, delta projection.Delta) projection.Delta {
	phaseVal, hasPhase := delta["phase"]
	if !hasPhase {
		return delta
	}
	phase, _ := phaseVal.(string)

	if phase != "qr_pending" && !m.effectiveBool(ctx, sessionKey, delta, "handshakeCompleted") {
		m.log.WithField("sessionKey", sessionKey).Debug().Msg("suppressing non-qr_pending phase until handshake completed")
		delete(delta, "phase")
		return delta
	}

	if phase == "connected" && !m.effectiveBool(ctx, sessionKey, delta, "syncCompleted") {
		m.log.WithField("sessionKey", sessionKey).Debug().Msg("rewriting connected to importing_messages until sync completed")
		delta["phase"] = "importing_messages"
	}

	return delta
}

// effectiveBool prefers the value delta is about to write for field,
// falling back to the document's stored value when delta doesn't touch
// it. A read failure (e.g. the row not existing yet) defaults to true
// so a brand-new session's first writes are never spuriously suppressed.
func (m *Manager) effectiveBool(ctx context.Context, sessionKey string, delta projection.Delta, field string) bool {
	if v, ok := delta[field].(bool); ok {
		return v
	}
	v, err := m.fieldBool(ctx, sessionKey, field)
	if err != nil {
		return true
	}
	return v
}

func (m *Manager) emitPersistFailed(sessionKey string, cause error) {
	if m.bus == nil {
		return
	}
	err := m.bus.Publish(context.Background(), events.Envelope{
		SessionKey: sessionKey,
		Topic:      events.TopicPersistFailed,
		Timestamp:  time.Now(),
		Data:       map[string]any{"error": cause.Error()},
	})
	if err != nil {
		m.log.WithError(err).WithField("sessionKey", sessionKey).Warn().Msg("failed to publish persist_failed")
	}
}

func (m *Manager) applyOnce(ctx context.Context, sessionKey string, delta projection.Delta, requestedPhase string) error {
	exists, deleted, err := m.rowState(ctx, sessionKey)
	if err != nil {
		return err
	}
	if deleted {
		return errAbsentTerminalSkip
	}
	if !exists {
		if isTerminalPhase(requestedPhase) {
			return errAbsentTerminalSkip
		}
		return fmt.Errorf("%w: %s", waerrors.ErrProjectionMissing, sessionKey)
	}

	query := m.db.NewUpdate().Model((*projectionRow)(nil)).Where("session_key = ?", sessionKey)

	setExpr := `doc`
	args := []interface{}{}
	for path, value := range delta {
		valueJSON, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal field %q: %w", path, err)
		}
		setExpr = fmt.Sprintf("jsonb_set(%s, '{%s}', ?::jsonb, true)", setExpr, jsonPath(path))
		args = append(args, string(valueJSON))
	}

	query = query.Set(fmt.Sprintf("doc = %s", setExpr), args...).
		Set("updated_at = ?", time.Now())

	res, err := query.Exec(ctx)
	if err != nil {
		return fmt.Errorf("update projection: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		if isTerminalPhase(requestedPhase) {
			return errAbsentTerminalSkip
		}
		return fmt.Errorf("%w: %s", waerrors.ErrProjectionMissing, sessionKey)
	}
	return nil
}

// isTerminalPhase reports whether phase is one of the statuses after
// which an absent projection document must never be resurrected (the
// record was deliberately deleted, not merely slow to replicate).
func isTerminalPhase(phase string) bool {
	return phase == "disconnected" || phase == "failed"
}

// jsonPath renders a dotted field path ("meta.region") as the
// comma-separated path jsonb_set expects ("meta,region").
func jsonPath(path string) string {
	return strings.ReplaceAll(path, ".", ",")
}

// rowState reports whether a projection row exists for sessionKey and,
// if so, whether it carries the deliberately-deleted flag. A genuinely
// absent row (never created, or physically removed) is distinguished
// from one explicitly marked deleted, since the two obey different
// write rules (retry-then-persist_failed vs. permanent skip).
func (m *Manager) rowState(ctx context.Context, sessionKey string) (exists, deleted bool, err error) {
	err = m.db.NewSelect().Model((*projectionRow)(nil)).
		Column("deleted").Where("session_key = ?", sessionKey).Scan(ctx, &deleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("check projection row: %w", err)
	}
	return true, deleted, nil
}

func (m *Manager) fieldBool(ctx context.Context, sessionKey, field string) (bool, error) {
	var v bool
	err := m.db.NewRaw(
		"SELECT COALESCE((doc->>?)::boolean, false) FROM waconnect_projections WHERE session_key = ?",
		field, sessionKey,
	).Scan(ctx, &v)
	return v, err
}

// MarkDeleted sets the deleted flag so a late-arriving stale write
// cannot resurrect a deliberately removed session's projection.
func (m *Manager) MarkDeleted(ctx context.Context, sessionKey string) error {
	_, err := m.db.NewUpdate().Model((*projectionRow)(nil)).
		Set("deleted = true").Set("updated_at = ?", time.Now()).
		Where("session_key = ?", sessionKey).Exec(ctx)
	m.stopHeartbeat(sessionKey)
	return err
}

// ListActive returns every non-deleted projection document, used at
// startup to recover which sessions this runtime previously owned.
func (m *Manager) ListActive(ctx context.Context) ([]projection.Status, error) {
	var rows []projectionRow
	if err := m.db.NewSelect().Model(&rows).Where("deleted = false").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list active projections: %w", err)
	}
	out := make([]projection.Status, 0, len(rows))
	for _, row := range rows {
		var status projection.Status
		if err := json.Unmarshal(row.Doc, &status); err != nil {
			m.log.WithError(err).WithField("sessionKey", row.SessionKey).Warn().Msg("skipping unparseable projection during recovery scan")
			continue
		}
		out = append(out, status)
	}
	return out, nil
}

func (m *Manager) Get(ctx context.Context, sessionKey string) (projection.Status, error) {
	var row projectionRow
	if err := m.db.NewSelect().Model(&row).Where("session_key = ?", sessionKey).Scan(ctx); err != nil {
		return projection.Status{}, fmt.Errorf("%w: %v", waerrors.ErrProjectionMissing, err)
	}
	var status projection.Status
	if err := json.Unmarshal(row.Doc, &status); err != nil {
		return projection.Status{}, fmt.Errorf("unmarshal projection: %w", err)
	}
	return status, nil
}
