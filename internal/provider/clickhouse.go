package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

const clickhouseDialTimeout = 5 * time.Second

// ClickHouse writes events into a columnar events table over the native
// protocol, using async inserts so single-row writes batch server-side.
type ClickHouse struct {
	conn  clickhouse.Conn
	table string
}

// NewClickHouse connects to ClickHouse and verifies the connection.
func NewClickHouse(addr, database, username, password, table string) (*ClickHouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: clickhouseDialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse at %s: %w", addr, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	if table == "" {
		table = "trailmark_events"
	}
	return &ClickHouse{conn: conn, table: table}, nil
}

func (c *ClickHouse) Send(ctx context.Context, p Payload) error {
	fieldsJSON, err := json.Marshal(p.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode event fields: %w", err)
	}

	anonymousID, _ := p.Fields["anonymous_user_id"].(string)
	sessionID, _ := p.Fields["session_id"].(string)

	query := fmt.Sprintf(
		"INSERT INTO %s (event_name, occurred_at, anonymous_user_id, session_id, fields) VALUES (?, ?, ?, ?, ?)",
		c.table,
	)
	if err := c.conn.AsyncInsert(ctx, query, false,
		p.Name, p.At, anonymousID, sessionID, string(fieldsJSON)); err != nil {
		return fmt.Errorf("clickhouse insert failed: %w", err)
	}
	return nil
}

// Close releases the connection.
func (c *ClickHouse) Close() error {
	return c.conn.Close()
}
