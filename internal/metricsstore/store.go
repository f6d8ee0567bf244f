// Package metricsstore implements the reference MetricsStore (spec.md
// §6): durable, queryable storage for the TaskMetric/AgentMetric/
// SwarmMetric records internal/metrics.Collector holds in process
// memory. Deliberately independent of the gorm ORM path
// internal/memory/postgres.go takes: raw database/sql against
// lib/pq, with hand-written DDL and parameterized queries, matching
// the minimal reference-store shape SPEC_FULL.md calls for. One table
// keyed by kind covers all three record kinds by folding the
// type-specific fields into a jsonb payload, since they share one
// query shape (kind, time range, agent_id?, swarm_id?).
package metricsstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/moai-flow/swarm-kernel/internal/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS swarm_metrics (
	id          BIGSERIAL PRIMARY KEY,
	kind        TEXT NOT NULL,
	agent_id    TEXT NOT NULL DEFAULT '',
	swarm_id    TEXT NOT NULL DEFAULT '',
	payload     JSONB NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_swarm_metrics_kind_time ON swarm_metrics (kind, recorded_at);
CREATE INDEX IF NOT EXISTS idx_swarm_metrics_agent ON swarm_metrics (agent_id);
CREATE INDEX IF NOT EXISTS idx_swarm_metrics_swarm ON swarm_metrics (swarm_id);
`

// Store is the durable MetricsStore backend, wired as the Sink
// internal/metrics.Collector flushes every record to when
// metrics_store.enabled is set.
type Store struct {
	db *sql.DB
}

var _ metrics.Sink = (*Store)(nil)

// New opens dsn via lib/pq and creates the backing table if absent.
func New(dsn string, maxOpenConns, maxIdleConns int) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveTask persists a TaskMetric.
func (s *Store) SaveTask(ctx context.Context, m metrics.TaskMetric) error {
	return s.save(ctx, "task", m.AgentID, "", m.Timestamp, m)
}

// SaveAgent persists an AgentMetric.
func (s *Store) SaveAgent(ctx context.Context, m metrics.AgentMetric) error {
	return s.save(ctx, "agent:"+m.MetricType, m.AgentID, "", m.Timestamp, m)
}

// SaveSwarm persists a SwarmMetric.
func (s *Store) SaveSwarm(ctx context.Context, m metrics.SwarmMetric) error {
	return s.save(ctx, "swarm:"+m.MetricType, "", m.SwarmID, m.Timestamp, m)
}

func (s *Store) save(ctx context.Context, kind, agentID, swarmID string, ts time.Time, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	const stmt = `INSERT INTO swarm_metrics (kind, agent_id, swarm_id, payload, recorded_at) VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.db.ExecContext(ctx, stmt, kind, agentID, swarmID, data, ts); err != nil {
		return fmt.Errorf("insert metric row: %w", err)
	}
	return nil
}

// QueryTasks returns TaskMetric rows matching filter, oldest first.
func (s *Store) QueryTasks(ctx context.Context, f metrics.Filter) ([]metrics.TaskMetric, error) {
	f.Kind = "task"
	rows, err := s.queryRows(ctx, f)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []metrics.TaskMetric{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan task metric: %w", err)
		}
		var tm metrics.TaskMetric
		if err := json.Unmarshal(payload, &tm); err != nil {
			return nil, fmt.Errorf("unmarshal task metric: %w", err)
		}
		out = append(out, tm)
	}
	return out, rows.Err()
}

// QueryAgents returns AgentMetric rows for metricType matching filter.
func (s *Store) QueryAgents(ctx context.Context, metricType string, f metrics.Filter) ([]metrics.AgentMetric, error) {
	f.Kind = "agent:" + metricType
	rows, err := s.queryRows(ctx, f)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []metrics.AgentMetric{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan agent metric: %w", err)
		}
		var am metrics.AgentMetric
		if err := json.Unmarshal(payload, &am); err != nil {
			return nil, fmt.Errorf("unmarshal agent metric: %w", err)
		}
		out = append(out, am)
	}
	return out, rows.Err()
}

// QuerySwarms returns SwarmMetric rows for metricType matching filter.
func (s *Store) QuerySwarms(ctx context.Context, metricType string, f metrics.Filter) ([]metrics.SwarmMetric, error) {
	f.Kind = "swarm:" + metricType
	rows, err := s.queryRows(ctx, f)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []metrics.SwarmMetric{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan swarm metric: %w", err)
		}
		var sm metrics.SwarmMetric
		if err := json.Unmarshal(payload, &sm); err != nil {
			return nil, fmt.Errorf("unmarshal swarm metric: %w", err)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

func (s *Store) queryRows(ctx context.Context, f metrics.Filter) (*sql.Rows, error) {
	query := `SELECT payload FROM swarm_metrics WHERE kind = $1`
	args := []interface{}{f.Kind}

	if !f.Since.IsZero() {
		args = append(args, f.Since)
		query += fmt.Sprintf(" AND recorded_at >= $%d", len(args))
	}
	if !f.Until.IsZero() {
		args = append(args, f.Until)
		query += fmt.Sprintf(" AND recorded_at <= $%d", len(args))
	}
	if f.AgentID != "" {
		args = append(args, f.AgentID)
		query += fmt.Sprintf(" AND agent_id = $%d", len(args))
	}
	if f.SwarmID != "" {
		args = append(args, f.SwarmID)
		query += fmt.Sprintf(" AND swarm_id = $%d", len(args))
	}
	query += " ORDER BY recorded_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	return rows, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close postgres: %w", err)
	}
	return nil
}
