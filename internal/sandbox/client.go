// File: internal/sandbox/client.go
// Description: HTTP client for the remote automation agent. Every UI
// flow without a native adapter runs inside a VM the agent owns; this
// client is the only path in or out. Sessions are single-use: once torn
// down they are never revived.
package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	xproxy "golang.org/x/net/proxy"

	"github.com/karavolt/deskpilot-cli/api/schemas"
	"github.com/karavolt/deskpilot-cli/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Run event kinds emitted on the event stream.
const (
	EventLog     = "log"
	EventResult  = "result"
	EventError   = "error"
	EventTimeout = "timeout"
)

// Client implements schemas.SandboxClient over the agent's HTTP control
// protocol.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	minter      *TokenMinter
	egress      *EgressProxy
	artifactDir string
	logger      *zap.Logger

	mu       sync.Mutex
	tornDown map[string]bool
}

// NewClient builds the agent client. When cfg.SocksProxy is set, all
// control traffic is dialed through it; isolated VM hosts are often only
// reachable over such a jump.
func NewClient(cfg config.SandboxConfig, egress *EgressProxy, logger *zap.Logger) (*Client, error) {
	transport := &http.Transport{}
	if cfg.SocksProxy != "" {
		dialer, err := xproxy.SOCKS5("tcp", cfg.SocksProxy, nil, xproxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("cannot build SOCKS dialer: %w", err)
		}
		ctxDialer, ok := dialer.(xproxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("SOCKS dialer does not support context dialing")
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return ctxDialer.DialContext(ctx, network, addr)
		}
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:     cfg.AgentURL,
		httpClient:  &http.Client{Transport: transport, Timeout: timeout},
		minter:      NewTokenMinter(cfg.TokenSecret, cfg.TokenTTL),
		egress:      egress,
		artifactDir: cfg.ArtifactDir,
		logger:      logger.Named("sandbox"),
		tornDown:    make(map[string]bool),
	}, nil
}

type startRequest struct {
	Image        string `json:"image"`
	SharedFolder string `json:"shared_folder"`
}

type startResponse struct {
	ID string `json:"id"`
}

// StartSession boots a fresh agent session.
func (c *Client) StartSession(ctx context.Context, image, sharedFolder string) (*schemas.AutomationSession, error) {
	body, err := json.Marshal(startRequest{Image: image, SharedFolder: sharedFolder})
	if err != nil {
		return nil, fmt.Errorf("cannot encode session request: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/v1/sessions", "", bytes.NewReader(body), "application/json")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schemas.ErrAutomationUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: agent returned %s", schemas.ErrAutomationUnavailable, resp.Status)
	}

	var sr startResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("%w: malformed session response: %v", schemas.ErrAutomationUnavailable, err)
	}
	session := &schemas.AutomationSession{
		ID:        sr.ID,
		Image:     image,
		Status:    schemas.SessionRunning,
		StartedAt: time.Now(),
	}
	c.logger.Info("Started automation session",
		zap.String("session", session.ID), zap.String("image", image))
	return session, nil
}

// PushArtifacts seeds files into the session as one compressed bundle.
func (c *Client) PushArtifacts(ctx context.Context, session *schemas.AutomationSession, files map[string][]byte) error {
	if err := c.ensureLive(session); err != nil {
		return err
	}
	bundle, err := EncodeBundle(files)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPost, "/v1/sessions/"+session.ID+"/artifacts", session.ID, bytes.NewReader(bundle), bundleContentType)
	if err != nil {
		return fmt.Errorf("%w: %v", schemas.ErrAutomationUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: artifact push returned %s", schemas.ErrAutomationUnavailable, resp.Status)
	}
	return nil
}

type runRequest struct {
	Objective   string   `json:"objective"`
	TimeBudgetS int      `json:"time_budget_s"`
	Paths       []string `json:"allowed_paths"`
}

// Run starts the objective and streams its JSONL event feed. When the
// time budget expires the stream ends with an EventTimeout event and the
// session is torn down; partial artifacts stay collectable.
func (c *Client) Run(ctx context.Context, session *schemas.AutomationSession, objective string, constraints schemas.RunConstraints) (<-chan schemas.RunEvent, error) {
	if err := c.ensureLive(session); err != nil {
		return nil, err
	}
	if constraints.TimeBudget <= 0 {
		return nil, fmt.Errorf("run constraints require a positive time budget")
	}

	// The egress policy is installed before the run starts and removed
	// when it ends, so the VM never has a window of unrestricted network.
	if c.egress != nil {
		c.egress.SetPolicy(session.ID, constraints.NetworkPolicy)
	}

	body, err := json.Marshal(runRequest{
		Objective:   objective,
		TimeBudgetS: int(constraints.TimeBudget.Seconds()),
		Paths:       constraints.AllowedPaths,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot encode run request: %w", err)
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constraints.TimeBudget)
	req, err := http.NewRequestWithContext(runCtx, http.MethodPost, c.baseURL+"/v1/sessions/"+session.ID+"/run", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(req, session.ID); err != nil {
		cancel()
		return nil, err
	}

	// Streaming endpoint: the shared client's short timeout would cut the
	// feed off, so use a transport-only client bounded by runCtx instead.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		cancel()
		c.clearEgress(session.ID)
		return nil, fmt.Errorf("%w: %v", schemas.ErrAutomationUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		c.clearEgress(session.ID)
		return nil, fmt.Errorf("%w: run returned %s", schemas.ErrAutomationUnavailable, resp.Status)
	}

	session.TimeoutAt = time.Now().Add(constraints.TimeBudget)
	events := make(chan schemas.RunEvent)
	go c.streamEvents(runCtx, cancel, session, resp.Body, events)
	return events, nil
}

// streamEvents forwards agent events until the stream closes or the
// budget expires.
func (c *Client) streamEvents(ctx context.Context, cancel context.CancelFunc, session *schemas.AutomationSession, body io.ReadCloser, events chan<- schemas.RunEvent) {
	defer close(events)
	defer body.Close()
	defer cancel()
	defer c.clearEgress(session.ID)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev schemas.RunEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			c.logger.Debug("Skipping malformed run event", zap.Error(err))
			continue
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			c.finishTimedOut(session, events)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			c.finishTimedOut(session, events)
			return
		}
		c.logger.Warn("Run event stream broke", zap.String("session", session.ID), zap.Error(err))
		events <- schemas.RunEvent{Timestamp: time.Now(), Kind: EventError, Message: err.Error()}
	}
}

// finishTimedOut reports the budget expiry and tears the session down.
// Artifacts produced before the cutoff remain collectable from the
// shared folder bundle endpoint.
func (c *Client) finishTimedOut(session *schemas.AutomationSession, events chan<- schemas.RunEvent) {
	c.logger.Warn("Run exceeded its time budget; terminating session",
		zap.String("session", session.ID))
	events <- schemas.RunEvent{
		Timestamp: time.Now(),
		Kind:      EventTimeout,
		Message:   schemas.ErrRunTimeout.Error(),
	}
	teardownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Teardown(teardownCtx, session); err != nil {
		c.logger.Warn("Teardown after timeout failed", zap.String("session", session.ID), zap.Error(err))
	}
}

// CollectArtifacts pulls everything the session produced into the local
// artifact directory, keyed by session ID. Works after a timeout; the
// agent keeps the shared folder until the session record is reaped.
func (c *Client) CollectArtifacts(ctx context.Context, session *schemas.AutomationSession) ([]schemas.Artifact, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/sessions/"+session.ID+"/artifacts", session.ID, nil, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schemas.ErrAutomationUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: artifact fetch returned %s", schemas.ErrAutomationUnavailable, resp.Status)
	}

	dest := filepath.Join(c.artifactDir, session.ID)
	artifacts, err := DecodeBundle(resp.Body, dest)
	if err != nil {
		return nil, err
	}
	session.Artifacts = artifacts
	c.logger.Info("Collected artifacts",
		zap.String("session", session.ID), zap.Int("count", len(artifacts)))
	return artifacts, nil
}

// Teardown destroys the session. Calling it twice is a no-op: the first
// call wins and later calls return nil without touching the agent.
func (c *Client) Teardown(ctx context.Context, session *schemas.AutomationSession) error {
	c.mu.Lock()
	if c.tornDown[session.ID] {
		c.mu.Unlock()
		return nil
	}
	c.tornDown[session.ID] = true
	c.mu.Unlock()

	c.clearEgress(session.ID)
	session.Status = schemas.SessionTerminated

	resp, err := c.do(ctx, http.MethodDelete, "/v1/sessions/"+session.ID, session.ID, nil, "")
	if err != nil {
		return fmt.Errorf("%w: %v", schemas.ErrAutomationUnavailable, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK, http.StatusNotFound, http.StatusGone:
		// 404/410 mean the agent already reaped it, which is still done.
		c.logger.Info("Tore down automation session", zap.String("session", session.ID))
		return nil
	default:
		return fmt.Errorf("%w: teardown returned %s", schemas.ErrAutomationUnavailable, resp.Status)
	}
}

func (c *Client) ensureLive(session *schemas.AutomationSession) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tornDown[session.ID] || session.Status == schemas.SessionTerminated {
		return fmt.Errorf("%w: %s", schemas.ErrSessionTerminated, session.ID)
	}
	return nil
}

func (c *Client) clearEgress(sessionID string) {
	if c.egress != nil {
		c.egress.ClearPolicy(sessionID)
	}
}

func (c *Client) authorize(req *http.Request, sessionID string) error {
	if !c.minter.Enabled() {
		return nil
	}
	token, err := c.minter.Mint(sessionID)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (c *Client) do(ctx context.Context, method, path, sessionID string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if sessionID != "" {
		if err := c.authorize(req, sessionID); err != nil {
			return nil, err
		}
	}
	return c.httpClient.Do(req)
}

var _ schemas.SandboxClient = (*Client)(nil)
