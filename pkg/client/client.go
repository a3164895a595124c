package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// SessionCookie is the cookie the gateway uses to track a login.
const SessionCookie = "pullpilot_session"

// Client talks to the update gateway's HTTP JSON API.
type Client struct {
	baseURL string
	rootURL string
	client  *http.Client
	jar     http.CookieJar
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string // API root, e.g. http://host:8000/api
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool   // Skip TLS verification
	Session  string // Optional session cookie value to start with
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8000/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a new gateway client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
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

	jar, _ := cookiejar.New(nil)
	base := strings.TrimRight(config.BaseURL, "/")
	c := &Client{
		baseURL: base,
		rootURL: rootOf(base),
		jar:     jar,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
			Jar:       jar,
			// login/logout answer with 303; the cookie is all we need
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	if config.Session != "" {
		c.SetSession(config.Session)
	}
	return c
}

// rootOf strips a trailing /api so login endpoints can be addressed.
func rootOf(base string) string {
	if strings.HasSuffix(base, "/api") {
		return strings.TrimSuffix(base, "/api")
	}
	return base
}

// BaseURL returns the API root this client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// SetSession installs a session cookie obtained earlier.
func (c *Client) SetSession(value string) {
	u, err := url.Parse(c.rootURL + "/")
	if err != nil {
		return
	}
	c.jar.SetCookies(u, []*http.Cookie{{Name: SessionCookie, Value: value, Path: "/"}})
}

// Session returns the current session cookie value, if any.
func (c *Client) Session() string {
	u, err := url.Parse(c.rootURL + "/")
	if err != nil {
		return ""
	}
	for _, ck := range c.jar.Cookies(u) {
		if ck.Name == SessionCookie {
			return ck.Value
		}
	}
	return ""
}

// IsReachable checks if the gateway answers at all.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/update-status", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Gateway unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode != http.StatusNotFound
}

// ListUnits returns the full unit snapshot.
func (c *Client) ListUnits(ctx context.Context) ([]Unit, error) {
	var out []Unit
	if err := c.getJSON(ctx, "/projects", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListHistory returns the update log, newest first.
func (c *Client) ListHistory(ctx context.Context) ([]HistoryRecord, error) {
	var out []HistoryRecord
	if err := c.getJSON(ctx, "/history", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListSchedules returns all stored schedules.
func (c *Client) ListSchedules(ctx context.Context) ([]Schedule, error) {
	var out []Schedule
	if err := c.getJSON(ctx, "/schedules", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateStatus returns the state of the fleet-wide operation.
func (c *Client) UpdateStatus(ctx context.Context) (Progress, error) {
	var out Progress
	if err := c.getJSON(ctx, "/update-status", &out); err != nil {
		return Progress{}, err
	}
	return out, nil
}

// UpdateUnit asks the gateway to update a single unit.
func (c *Client) UpdateUnit(ctx context.Context, name string) (UpdateResult, error) {
	c.logger.Debug("Updating unit", "name", name)
	var out UpdateResult
	if err := c.do(ctx, http.MethodPost, c.unitURL(name, "update"), nil, &out); err != nil {
		return UpdateResult{}, err
	}
	return out, nil
}

// UpdateAll starts a fleet-wide update in the background.
func (c *Client) UpdateAll(ctx context.Context) error {
	c.logger.Debug("Requesting fleet-wide update")
	return c.do(ctx, http.MethodPost, c.baseURL+"/update-all", nil, nil)
}

// ToggleExclude flips the unit's exclusion from fleet-wide updates.
func (c *Client) ToggleExclude(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, c.unitURL(name, "toggle_exclude"), nil, nil)
}

// ToggleFullStop flips the unit's full-stop update mode.
func (c *Client) ToggleFullStop(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, c.unitURL(name, "toggle_fullstop"), nil, nil)
}

// CreateSchedule stores a new recurring update.
func (c *Client) CreateSchedule(ctx context.Context, req ScheduleRequest) (Schedule, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return Schedule{}, fmt.Errorf("marshal request: %w", err)
	}
	var out Schedule
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/schedules", data, &out); err != nil {
		return Schedule{}, err
	}
	return out, nil
}

// DeleteSchedule removes a schedule by id.
func (c *Client) DeleteSchedule(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, c.baseURL+"/schedules/"+strconv.FormatInt(id, 10), nil, nil)
}

// Login exchanges credentials for a session cookie and returns its value.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{"username": {username}, "password": {password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rootURL+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	loc := resp.Header.Get("Location")
	if resp.StatusCode >= 400 || strings.Contains(loc, "error=") {
		return "", &APIError{StatusCode: resp.StatusCode, Message: "invalid credentials"}
	}
	session := c.Session()
	if session == "" {
		return "", &APIError{StatusCode: resp.StatusCode, Message: "no session issued"}
	}
	return session, nil
}

// Logout invalidates the current session on the gateway.
func (c *Client) Logout(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rootURL+"/logout", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	_ = resp.Body.Close()
	return nil
}

func (c *Client) unitURL(name, action string) string {
	return fmt.Sprintf("%s/projects/%s/%s", c.baseURL, url.PathEscape(name), action)
}

// setupClientTLS configures TLS settings for HTTP client
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

// loadCACert loads CA certificate from file and adds it to TLS config
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

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, c.baseURL+path, nil, out)
}

// do performs an HTTP request. A 401 always maps to ErrSessionExpired,
// checked before anything else; transport failures map to ErrUnreachable.
func (c *Client) do(ctx context.Context, method, url string, body []byte, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.logger.Debug("HTTP request failed", "error", err, "url", url)
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrSessionExpired
	}
	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Debug("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{StatusCode: resp.StatusCode}
	}

	c.logger.Debug("API request failed", "error", errorResp.message(), "status", resp.StatusCode)
	return &APIError{StatusCode: resp.StatusCode, Message: errorResp.message()}
}
