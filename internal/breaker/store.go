package breaker

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Incident is one append-only entry in the Incident Log.
type Incident struct {
	ID          string
	ServiceName string
	Type        string
	Severity    string // info | warning | critical
	Status      string // active | resolved
	StartedAt   time.Time
	EndedAt     *time.Time
	Message     string
	Metrics     map[string]any
}

// IncidentFilter narrows a ListIncidents query.
type IncidentFilter struct {
	ServiceName string
	Severity    string
	Status      string
	Since       *time.Time
	Until       *time.Time
	Limit       int
	Offset      int
}

// Store persists circuit-breaker config and the incident log in Postgres,
// mirroring the plain database/sql + lib/pq usage of pkg/database.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open Postgres connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// LoadConfig reads a service's persisted config, returning ok=false if no
// row exists yet (the caller should fall back to DefaultConfig).
func (s *Store) LoadConfig(ctx context.Context, serviceName string) (Config, bool, error) {
	var cfg Config
	var recoveryMs, windowMs int64
	row := s.db.QueryRowContext(ctx, `
		SELECT service_name, failure_threshold, recovery_timeout_ms,
		       request_limit, monitoring_window_ms, minimum_requests
		FROM circuit_breaker_config WHERE service_name = $1`, serviceName)
	err := row.Scan(&cfg.ServiceName, &cfg.FailureThreshold, &recoveryMs,
		&cfg.RequestLimit, &windowMs, &cfg.MinimumRequests)
	if err == sql.ErrNoRows {
		return Config{}, false, nil
	}
	if err != nil {
		return Config{}, false, err
	}
	cfg.RecoveryTimeout = time.Duration(recoveryMs) * time.Millisecond
	cfg.MonitoringWindow = time.Duration(windowMs) * time.Millisecond
	return cfg, true, nil
}

// SaveConfig upserts a service's circuit-breaker configuration.
func (s *Store) SaveConfig(ctx context.Context, cfg Config) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO circuit_breaker_config
			(service_name, failure_threshold, recovery_timeout_ms, request_limit, monitoring_window_ms, minimum_requests, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (service_name) DO UPDATE SET
			failure_threshold = EXCLUDED.failure_threshold,
			recovery_timeout_ms = EXCLUDED.recovery_timeout_ms,
			request_limit = EXCLUDED.request_limit,
			monitoring_window_ms = EXCLUDED.monitoring_window_ms,
			minimum_requests = EXCLUDED.minimum_requests,
			updated_at = now()`,
		cfg.ServiceName, cfg.FailureThreshold, cfg.RecoveryTimeout.Milliseconds(),
		cfg.RequestLimit, cfg.MonitoringWindow.Milliseconds(), cfg.MinimumRequests)
	return err
}

// OpenIncident inserts a new active incident and returns its id.
func (s *Store) OpenIncident(ctx context.Context, serviceName, incidentType, severity, message string, metrics map[string]any) (string, error) {
	id := uuid.New().String()
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO incident_log (id, service_name, type, severity, status, started_at, message, metrics)
		VALUES ($1, $2, $3, $4, 'active', now(), $5, $6)`,
		id, serviceName, incidentType, severity, message, metricsJSON)
	if err != nil {
		return "", err
	}
	return id, nil
}

// ResolveActiveIncident closes every active incident for a service,
// setting endedAt and status=resolved.
func (s *Store) ResolveActiveIncident(ctx context.Context, serviceName string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE incident_log SET status = 'resolved', ended_at = now()
		WHERE service_name = $1 AND status = 'active'`, serviceName)
	return err
}

// ListIncidents filters the incident log with pagination.
func (s *Store) ListIncidents(ctx context.Context, f IncidentFilter) ([]Incident, error) {
	query := `SELECT id, service_name, type, severity, status, started_at, ended_at, message, metrics
		FROM incident_log WHERE 1=1`
	var args []any
	add := func(clause string, val any) {
		args = append(args, val)
		query += clause + strconv.Itoa(len(args))
	}
	if f.ServiceName != "" {
		add(" AND service_name = $", f.ServiceName)
	}
	if f.Severity != "" {
		add(" AND severity = $", f.Severity)
	}
	if f.Status != "" {
		add(" AND status = $", f.Status)
	}
	if f.Since != nil {
		add(" AND started_at >= $", *f.Since)
	}
	if f.Until != nil {
		add(" AND started_at <= $", *f.Until)
	}
	query += " ORDER BY started_at DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	add(" LIMIT $", limit)
	add(" OFFSET $", f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Incident
	for rows.Next() {
		var inc Incident
		var metricsJSON []byte
		if err := rows.Scan(&inc.ID, &inc.ServiceName, &inc.Type, &inc.Severity,
			&inc.Status, &inc.StartedAt, &inc.EndedAt, &inc.Message, &metricsJSON); err != nil {
			return nil, err
		}
		if len(metricsJSON) > 0 {
			_ = json.Unmarshal(metricsJSON, &inc.Metrics)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}
