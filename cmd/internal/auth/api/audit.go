package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/puse45/auth-ms/cmd/account"
)

// AuditEvent is one auth-relevant action.
type AuditEvent struct {
	Action    string
	AccountID string
	SessionID string
	IP        net.IP
	UserAgent string
	Meta      map[string]any
}

// Auditor records auth events. Implementations must not fail the request.
type Auditor interface {
	Record(ctx context.Context, e AuditEvent)
}

// LogAuditor writes audit events to the structured log.
type LogAuditor struct {
	Log *slog.Logger
}

func (a LogAuditor) Record(ctx context.Context, e AuditEvent) {
	log := a.Log
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{"action", e.Action}
	if e.AccountID != "" {
		attrs = append(attrs, "account_id", e.AccountID)
	}
	if e.SessionID != "" {
		attrs = append(attrs, "session_id", e.SessionID)
	}
	if e.IP != nil {
		attrs = append(attrs, "ip", e.IP.String())
	}
	for k, v := range e.Meta {
		attrs = append(attrs, k, v)
	}
	log.InfoContext(ctx, "audit", attrs...)
}

// PostgresAuditor inserts into <schema>.audit_log.
type PostgresAuditor struct {
	pool  *pgxpool.Pool
	table string
	log   *slog.Logger
}

func NewPostgresAuditor(pool *pgxpool.Pool, schema string, log *slog.Logger) (*PostgresAuditor, error) {
	if pool == nil {
		return nil, errors.New("api: nil db pool")
	}
	if schema == "" {
		schema = "authms"
	}
	if !account.ValidSchema(schema) {
		return nil, account.OpError{Op: "api.NewPostgresAuditor", Kind: account.ErrInvalidInput, Msg: "invalid schema"}
	}
	if log == nil {
		log = slog.Default()
	}
	return &PostgresAuditor{
		pool:  pool,
		table: pgx.Identifier{schema, "audit_log"}.Sanitize(),
		log:   log,
	}, nil
}

func (a *PostgresAuditor) Record(ctx context.Context, e AuditEvent) {
	action := strings.TrimSpace(e.Action)
	if a == nil || a.pool == nil || action == "" {
		return
	}

	var ipVal any
	if e.IP != nil {
		ipVal = e.IP.String()
	}
	var metaVal *string
	if len(e.Meta) > 0 {
		if b, err := json.Marshal(e.Meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := a.pool.Exec(ctx, `
		INSERT INTO `+a.table+` (
			account_id, session_id, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, $3, now(), $4, $5, $6::jsonb)
	`, trimOrNil(e.AccountID), trimOrNil(e.SessionID), action, ipVal, trimOrNil(e.UserAgent), metaVal)
	if err != nil {
		a.log.Error("api.audit.insert.fail", "err", err, "action", action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}

func (h *Handler) audit(ctx context.Context, action, accountID, sessionID string, ip net.IP, ua string, meta map[string]any) {
	if h.auditor == nil {
		return
	}
	h.auditor.Record(ctx, AuditEvent{
		Action:    action,
		AccountID: accountID,
		SessionID: sessionID,
		IP:        ip,
		UserAgent: ua,
		Meta:      meta,
	})
}
