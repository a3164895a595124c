package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/pullpilot/internal/fleet"
)

// DefaultTable is used when the DSN names no table.
const DefaultTable = "update_history"

// Config describes a ClickHouse native endpoint.
type Config struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// Sink sends history records to ClickHouse using the official ClickHouse Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

func New(cfg Config) (*Sink, error) {
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &Sink{conn: conn, table: cfg.Table}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// ReplacingMergeTree collapses rows re-sent with the same id on merge.
func (s *Sink) ensureSchema(ctx context.Context) error {
	err := s.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id Int64,
			status LowCardinality(String),
			timestamp DateTime64(6),
			summary String,
			details String
		) ENGINE = ReplacingMergeTree()
		ORDER BY id`, s.table))
	if err != nil {
		return fmt.Errorf("failed to create ClickHouse table %s: %w", s.table, err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, rec fleet.HistoryRecord) error {
	details, err := rec.Details.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode details of record %d: %w", rec.ID, err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, status, timestamp, summary, details) VALUES (?, ?, ?, ?, ?)`, s.table)

	err = s.conn.Exec(ctx, query,
		rec.ID,
		string(rec.Status),
		rec.Timestamp.UTC(),
		rec.Summary,
		string(details),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record into ClickHouse: %w", err)
	}
	return nil
}
