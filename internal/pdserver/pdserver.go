// Package pdserver is the HTTP client for the remote management server: it
// fetches pending updates for this router, marks them completed, and submits
// aggregate state reports.
package pdserver

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// Config holds remote server client configuration.
type Config struct {
	BaseURL  string
	RouterID string
	Token    string // bearer token issued at provisioning time
	Timeout  time.Duration
	Logger   *slog.Logger
	TLS      *TLSClientConfig
	Insecure bool // skip TLS verification
}

// TLSClientConfig holds TLS configuration for the server connection.
type TLSClientConfig struct {
	Enabled    bool
	CACert     string
	ClientCert string
	ClientKey  string
	ServerName string
	SkipVerify bool
}

// UpdateItem is one pending change-request as the server describes it.
// Config is kept raw so one malformed block cannot fail the whole listing;
// the consumer decodes it per item.
type UpdateItem struct {
	ID        string          `json:"_id"`
	ChuteID   string          `json:"chute_id"`
	VersionID string          `json:"version_id"`
	Class     string          `json:"updateClass"`
	Type      string          `json:"updateType"`
	Name      string          `json:"name"`
	Started   bool            `json:"started"`
	Delegated bool            `json:"delegated"`
	Config    json.RawMessage `json:"config"`
}

// UpdatesResponse is the envelope around a pending-updates listing.
type UpdatesResponse struct {
	Success bool         `json:"success"`
	Data    []UpdateItem `json:"data"`
}

// StateReport is the aggregate device state submitted after a batch of
// updates completes.
type StateReport struct {
	RouterID  string        `json:"router_id"`
	Timestamp time.Time     `json:"timestamp"`
	Chutes    []ChuteState  `json:"chutes"`
	Updates   []UpdateState `json:"updates"`
}

// ChuteState is one chute's condition within a state report.
type ChuteState struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	State   string `json:"state"`
}

// UpdateState is one completed update's outcome within a state report.
type UpdateState struct {
	UpdateID string `json:"update_id"`
	Success  bool   `json:"success"`
	Message  string `json:"message"`
}

// Client talks to the management server on behalf of one router.
type Client struct {
	baseURL  string
	routerID string
	token    string
	client   *http.Client
	logger   *slog.Logger
}

// New creates a management server client.
func New(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL:  config.BaseURL,
		routerID: config.RouterID,
		token:    config.Token,
		logger:   config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// ListUpdates fetches the pending updates for this router.
func (c *Client) ListUpdates(ctx context.Context) (*UpdatesResponse, error) {
	url := fmt.Sprintf("%s/api/routers/%s/updates", c.baseURL, c.routerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list updates: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list updates: HTTP %d", resp.StatusCode)
	}
	var out UpdatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return &out, nil
}

// MarkCompleted tells the server one update has finished on this device.
func (c *Client) MarkCompleted(ctx context.Context, updateID string) error {
	url := fmt.Sprintf("%s/api/routers/%s/updates/%s", c.baseURL, c.routerID, updateID)
	body := []map[string]any{
		{"op": "replace", "path": "/completed", "value": true},
	}
	return c.doJSON(ctx, http.MethodPatch, url, body)
}

// SendStateReport submits the aggregate device state.
func (c *Client) SendStateReport(ctx context.Context, report *StateReport) error {
	if report.RouterID == "" {
		report.RouterID = c.routerID
	}
	if report.Timestamp.IsZero() {
		report.Timestamp = time.Now().UTC()
	}
	url := fmt.Sprintf("%s/api/routers/%s/states", c.baseURL, c.routerID)
	return c.doJSON(ctx, http.MethodPost, url, report)
}

func (c *Client) doJSON(ctx context.Context, method, url string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		c.logger.Error("server request failed", "method", method, "url", url, "status", resp.StatusCode)
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// setupClientTLS configures TLS settings for the HTTP client.
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}
	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}
	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}
	return tlsConfig, nil
}

// loadCACert loads a CA certificate from file and adds it to the TLS config.
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = caCertPool
	return nil
}
