package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenSearchSink indexes one document per completed update by POSTing the
// event to <base>/<index>/_doc.
type OpenSearchSink struct {
	client *http.Client
	base   string
	index  string
}

func NewOpenSearchSink(baseURL, index string) *OpenSearchSink {
	return &OpenSearchSink{
		client: &http.Client{Timeout: 5 * time.Second},
		base:   strings.TrimRight(baseURL, "/"),
		index:  index,
	}
}

func (s *OpenSearchSink) Send(ctx context.Context, ev Event) error {
	doc, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	url := fmt.Sprintf("%s/%s/_doc", s.base, s.index)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(doc))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("opensearch index: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("opensearch index: HTTP %d", resp.StatusCode)
	}
	return nil
}
