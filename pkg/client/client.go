// Package client provides HTTP client functionality to communicate with a
// running paradrop agent.
package client

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

// Client talks to the agent's local API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // skip TLS verification
}

// TLSClientConfig holds TLS configuration for the client.
type TLSClientConfig struct {
	Enabled    bool
	CACert     string
	ClientCert string
	ClientKey  string
	ServerName string
	SkipVerify bool
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8180/api",
		Timeout: 60 * time.Second,
	}
}

// New creates a new agent API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:8180/api"
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
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
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the agent is running and reachable.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("agent unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Status fetches the agent status summary.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.getJSON(ctx, c.baseURL+"/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateChute installs a new chute.
func (c *Client) CreateChute(ctx context.Context, req ChuteRequest) (*OperationResult, error) {
	return c.doOperation(ctx, http.MethodPost, c.baseURL+"/chutes", req)
}

// UpdateChute applies a new declaration to an existing chute.
func (c *Client) UpdateChute(ctx context.Context, name string, req ChuteRequest) (*OperationResult, error) {
	return c.doOperation(ctx, http.MethodPut, c.baseURL+"/chutes/"+name, req)
}

// DeleteChute removes a chute.
func (c *Client) DeleteChute(ctx context.Context, name string) (*OperationResult, error) {
	return c.doOperation(ctx, http.MethodDelete, c.baseURL+"/chutes/"+name, nil)
}

// StartChute starts a stopped chute.
func (c *Client) StartChute(ctx context.Context, name string) (*OperationResult, error) {
	return c.doOperation(ctx, http.MethodPost, c.baseURL+"/chutes/"+name+"/start", nil)
}

// StopChute stops a running chute.
func (c *Client) StopChute(ctx context.Context, name string) (*OperationResult, error) {
	return c.doOperation(ctx, http.MethodPost, c.baseURL+"/chutes/"+name+"/stop", nil)
}

// RestartChute restarts a chute.
func (c *Client) RestartChute(ctx context.Context, name string) (*OperationResult, error) {
	return c.doOperation(ctx, http.MethodPost, c.baseURL+"/chutes/"+name+"/restart", nil)
}

// ListChutes returns the chute registry contents.
func (c *Client) ListChutes(ctx context.Context) ([]Chute, error) {
	var out []Chute
	if err := c.getJSON(ctx, c.baseURL+"/chutes", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetHostConfig applies a host configuration blob.
func (c *Client) SetHostConfig(ctx context.Context, cfg map[string]any) (*OperationResult, error) {
	return c.doOperation(ctx, http.MethodPut, c.baseURL+"/hostconfig", cfg)
}

// TriggerPoll asks the agent to fetch pending updates now.
func (c *Client) TriggerPoll(ctx context.Context) error {
	res, err := c.doOperation(ctx, http.MethodPost, c.baseURL+"/updates/poll", nil)
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("poll refused: %s", res.Message)
	}
	return nil
}

// doOperation runs one mutating request and decodes the operation result.
// A failed update (HTTP 422) is returned as a result, not an error, so the
// caller can show the rollback message.
func (c *Client) doOperation(ctx context.Context, method, url string, body any) (*OperationResult, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", url)
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusUnprocessableEntity:
		var out OperationResult
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return &out, nil
	default:
		return nil, c.errorFrom(resp)
	}
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return c.errorFrom(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) errorFrom(resp *http.Response) error {
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return fmt.Errorf("API error: %s", errorResp.Error)
}

// setupClientTLS configures TLS settings for HTTP client.
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

// loadCACert loads CA certificate from file and adds it to TLS config.
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
