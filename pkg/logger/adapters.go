package logger

import (
	"context"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// ============================================================================
// WHATSAPP ADAPTER
// ============================================================================

// WhatsAppLoggerInterface is the logger shape whatsmeow expects.
type WhatsAppLoggerInterface interface {
	Errorf(string, ...any)
	Warnf(string, ...any)
	Infof(string, ...any)
	Debugf(string, ...any)
	Sub(string) WhatsAppLoggerInterface
}

// WhatsAppLoggerAdapter adapts our Logger to whatsmeow's interface.
type WhatsAppLoggerAdapter struct {
	logger Logger
}

func NewWhatsAppLoggerAdapter(logger Logger) WhatsAppLoggerInterface {
	return &WhatsAppLoggerAdapter{logger: logger}
}

func (w *WhatsAppLoggerAdapter) Errorf(msg string, args ...any) {
	if len(args) == 0 {
		w.logger.Error().Msg(msg)
	} else {
		w.logger.Error().Msgf(msg, args...)
	}
}

func (w *WhatsAppLoggerAdapter) Warnf(msg string, args ...any) {
	if len(args) == 0 {
		w.logger.Warn().Msg(msg)
	} else {
		w.logger.Warn().Msgf(msg, args...)
	}
}

func (w *WhatsAppLoggerAdapter) Infof(msg string, args ...any) {
	if len(args) == 0 {
		w.logger.Info().Msg(msg)
	} else {
		w.logger.Info().Msgf(msg, args...)
	}
}

func (w *WhatsAppLoggerAdapter) Debugf(msg string, args ...any) {
	if len(args) == 0 {
		w.logger.Debug().Msg(msg)
	} else {
		w.logger.Debug().Msgf(msg, args...)
	}
}

func (w *WhatsAppLoggerAdapter) Sub(module string) WhatsAppLoggerInterface {
	if module == "" {
		return w
	}
	return &WhatsAppLoggerAdapter{logger: w.logger.WithComponent(module)}
}

// ============================================================================
// BUN ORM ADAPTER
// ============================================================================

// BunQueryHook logs bun ORM queries with duration-based level escalation.
type BunQueryHook struct {
	logger Logger
}

func NewBunQueryHook(logger Logger) bun.QueryHook {
	return &BunQueryHook{
		logger: logger.WithComponent("database"),
	}
}

func (h *BunQueryHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *BunQueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	duration := time.Since(event.StartTime)
	durationMs := duration.Milliseconds()

	if event.Err != nil {
		h.logger.Error().
			Err(event.Err).
			Str("query", h.sanitizeQuery(event.Query)).
			Dur("duration", duration).
			Int64("duration_ms", durationMs).
			Str("operation", h.getQueryOperation(event.Query)).
			Str("table", h.getQueryTable(event.Query)).
			Msg("Database query failed")
		return
	}

	h.logSuccessfulQuery(event.Query, duration, durationMs)
}

func (h *BunQueryHook) logSuccessfulQuery(query string, duration time.Duration, durationMs int64) {
	operation := h.getQueryOperation(query)
	table := h.getQueryTable(query)

	if durationMs < 10 && h.isRoutineQuery(query) {
		h.logger.Trace().
			Str("operation", operation).
			Str("table", table).
			Int64("duration_ms", durationMs).
			Msg("Fast DB operation")
		return
	}

	if durationMs > 100 {
		h.logger.Warn().
			Str("operation", operation).
			Str("table", table).
			Str("query", h.sanitizeQuery(query)).
			Int64("duration_ms", durationMs).
			Msg("Slow database query")
		return
	}

	h.logger.Debug().
		Str("operation", operation).
		Str("table", table).
		Int64("duration_ms", durationMs).
		Msg("DB operation completed")
}

func (h *BunQueryHook) isRoutineQuery(query string) bool {
	routinePatterns := []string{
		`SET "last_heartbeat"`,
		"SET last_heartbeat",
		"SET status =",
		`SET "updated_at"`,
		"SET updated_at",
	}

	queryLower := strings.ToLower(query)
	for _, pattern := range routinePatterns {
		if strings.Contains(queryLower, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

func (h *BunQueryHook) getQueryOperation(query string) string {
	query = strings.TrimSpace(strings.ToUpper(query))

	switch {
	case strings.HasPrefix(query, "SELECT"):
		return "SELECT"
	case strings.HasPrefix(query, "INSERT"):
		return "INSERT"
	case strings.HasPrefix(query, "UPDATE"):
		return "UPDATE"
	case strings.HasPrefix(query, "DELETE"):
		return "DELETE"
	case strings.HasPrefix(query, "CREATE"):
		return "CREATE"
	case strings.HasPrefix(query, "ALTER"):
		return "ALTER"
	case strings.HasPrefix(query, "DROP"):
		return "DROP"
	}
	return "UNKNOWN"
}

func (h *BunQueryHook) getQueryTable(query string) string {
	queryUpper := strings.ToUpper(query)

	patterns := []struct {
		operation string
	}{
		{"UPDATE"}, {"INSERT"}, {"DELETE"}, {"SELECT"}, {"CREATE"},
	}

	for _, pattern := range patterns {
		if strings.Contains(queryUpper, pattern.operation) {
			return h.extractTableNameSimple(queryUpper, pattern.operation)
		}
	}

	return "unknown"
}

func (h *BunQueryHook) extractTableNameSimple(query, operation string) string {
	var startKeyword string

	switch operation {
	case "UPDATE":
		startKeyword = "UPDATE"
	case "INSERT":
		startKeyword = "INTO"
	case "DELETE":
		startKeyword = "FROM"
	case "SELECT":
		startKeyword = "FROM"
	case "CREATE":
		startKeyword = "TABLE"
	default:
		return "unknown"
	}

	keywordPos := strings.Index(query, startKeyword)
	if keywordPos == -1 {
		return "unknown"
	}

	afterKeyword := strings.TrimSpace(query[keywordPos+len(startKeyword):])

	if operation == "CREATE" && strings.HasPrefix(afterKeyword, "IF NOT EXISTS") {
		afterKeyword = strings.TrimSpace(afterKeyword[13:])
	}

	parts := strings.Fields(afterKeyword)
	if len(parts) > 0 {
		tableName := strings.Trim(parts[0], `"`)
		return strings.ToLower(tableName)
	}

	return "unknown"
}

func (h *BunQueryHook) sanitizeQuery(query string) string {
	if query == "" {
		return ""
	}

	const maxLength = 200
	if len(query) > maxLength {
		query = query[:maxLength] + "..."
	}

	var builder strings.Builder
	builder.Grow(len(query))

	var lastWasSpace bool
	for _, r := range query {
		switch r {
		case '\n', '\t', '\r', ' ':
			if !lastWasSpace {
				builder.WriteByte(' ')
				lastWasSpace = true
			}
		default:
			builder.WriteRune(r)
			lastWasSpace = false
		}
	}

	return strings.TrimSpace(builder.String())
}
