package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RequiredTables are the tables the dashboard reads and writes.
var RequiredTables = []string{
	"profiles", "customers", "products", "shipments", "shipment_products",
	"tasks", "sub_tasks", "attachments", "comments", "notes", "messages",
	"calendar_events", "user_bans", "user_mutes",
	"note_mentions", "task_mentions", "message_mentions",
}

// HealthStatus is the result of Check.
type HealthStatus struct {
	Healthy       bool          `json:"healthy" yaml:"healthy"`
	Latency       time.Duration `json:"latency" yaml:"latency"`
	TotalConns    int32         `json:"total_conns" yaml:"total_conns"`
	IdleConns     int32         `json:"idle_conns" yaml:"idle_conns"`
	AcquiredConns int32         `json:"acquired_conns" yaml:"acquired_conns"`
	MissingTables []string      `json:"missing_tables,omitempty" yaml:"missing_tables,omitempty"`
	Error         string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Check pings the database, samples pool stats and verifies that every
// required table exists.
func Check(ctx context.Context, pool *pgxpool.Pool) *HealthStatus {
	status := &HealthStatus{}
	if pool == nil {
		status.Error = "pool is nil"
		return status
	}

	start := time.Now()
	err := pool.Ping(ctx)
	status.Latency = time.Since(start)
	if err != nil {
		status.Error = fmt.Sprintf("ping failed: %v", err)
		return status
	}

	stats := pool.Stat()
	status.TotalConns = stats.TotalConns()
	status.IdleConns = stats.IdleConns()
	status.AcquiredConns = stats.AcquiredConns()

	missing, err := missingTables(ctx, pool)
	if err != nil {
		status.Error = fmt.Sprintf("listing tables: %v", err)
		return status
	}
	status.MissingTables = missing
	status.Healthy = len(missing) == 0
	return status
}

func missingTables(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	rows, err := pool.Query(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = current_schema() AND table_name = ANY($1)`, RequiredTables)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var missing []string
	for _, t := range RequiredTables {
		if !present[t] {
			missing = append(missing, t)
		}
	}
	return missing, nil
}

// WaitForReady polls until the database answers or ctx ends.
func WaitForReady(ctx context.Context, pool *pgxpool.Pool, pollInterval time.Duration) error {
	if pool == nil {
		return fmt.Errorf("pool is nil")
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if err := pool.Ping(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
