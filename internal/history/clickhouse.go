package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ClickHouseSink appends one row per completed update to a ClickHouse table
// through the HTTP interface, using the JSONEachRow insert format.
type ClickHouseSink struct {
	client *http.Client
	base   string // HTTP endpoint, e.g. http://localhost:8123
	table  string
}

func NewClickHouseSink(baseURL, table string) *ClickHouseSink {
	return &ClickHouseSink{
		client: &http.Client{Timeout: 5 * time.Second},
		base:   strings.TrimRight(baseURL, "/"),
		table:  table,
	}
}

func (s *ClickHouseSink) Send(ctx context.Context, ev Event) error {
	u, err := url.Parse(s.base)
	if err != nil {
		return fmt.Errorf("clickhouse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("query", fmt.Sprintf("INSERT INTO %s FORMAT JSONEachRow", s.table))
	u.RawQuery = q.Encode()

	row, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(append(row, '\n')))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("clickhouse insert: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("clickhouse insert: HTTP %d", resp.StatusCode)
	}
	return nil
}
