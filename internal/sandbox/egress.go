// File: internal/sandbox/egress.go
// Description: Host-side egress proxy for sandbox sessions. The sandbox
// VM routes all outbound traffic through this proxy; anything not on
// the run's host allowlist is refused here, outside the VM's reach.
package sandbox

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"

	"github.com/karavolt/deskpilot-cli/api/schemas"
)

// EgressProxy is an HTTP(S) forward proxy that enforces per-session
// network policies.
type EgressProxy struct {
	addr   string
	logger *zap.Logger

	mu       sync.RWMutex
	policies map[string]schemas.NetworkPolicy // session ID -> policy

	server *http.Server
}

// NewEgressProxy builds the proxy; Start must be called to serve.
func NewEgressProxy(addr string, logger *zap.Logger) *EgressProxy {
	return &EgressProxy{
		addr:     addr,
		logger:   logger.Named("egress"),
		policies: make(map[string]schemas.NetworkPolicy),
	}
}

// SetPolicy installs the network policy for a session. Called when a
// run starts; the policy stays until ClearPolicy.
func (p *EgressProxy) SetPolicy(sessionID string, policy schemas.NetworkPolicy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.policies[sessionID] = policy
}

// ClearPolicy removes a session's policy. Subsequent traffic from that
// session is denied entirely.
func (p *EgressProxy) ClearPolicy(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.policies, sessionID)
}

// allow decides whether the session may reach the host. Deny-by-default:
// no policy, or an empty allowlist, means no network.
func (p *EgressProxy) allow(sessionID, host string) bool {
	p.mu.RLock()
	policy, ok := p.policies[sessionID]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	if policy.AllowAll {
		return true
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	for _, allowed := range policy.AllowedHosts {
		if strings.EqualFold(host, allowed) {
			return true
		}
		// A leading dot allows the domain and all subdomains.
		if strings.HasPrefix(allowed, ".") && strings.HasSuffix(strings.ToLower(host), strings.ToLower(allowed)) {
			return true
		}
	}
	return false
}

// sessionFromRequest extracts the session ID the sandbox agent stamps on
// proxied requests.
func sessionFromRequest(r *http.Request) string {
	return r.Header.Get("X-Deskpilot-Session")
}

// Start serves the proxy until the context is cancelled.
func (p *EgressProxy) Start(ctx context.Context) error {
	proxy := goproxy.NewProxyHttpServer()
	proxy.Logger = zap.NewStdLog(p.logger)

	proxy.OnRequest().DoFunc(func(r *http.Request, pctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
		session := sessionFromRequest(r)
		if !p.allow(session, r.URL.Host) {
			p.logger.Warn("Denied egress request",
				zap.String("session", session), zap.String("host", r.URL.Host))
			return r, goproxy.NewResponse(r, goproxy.ContentTypeText,
				http.StatusForbidden, "egress denied by network policy")
		}
		return r, nil
	})
	proxy.OnRequest().HandleConnectFunc(func(host string, pctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
		session := ""
		if pctx.Req != nil {
			session = sessionFromRequest(pctx.Req)
		}
		if !p.allow(session, host) {
			p.logger.Warn("Denied egress tunnel",
				zap.String("session", session), zap.String("host", host))
			return goproxy.RejectConnect, host
		}
		return goproxy.OkConnect, host
	})

	p.server = &http.Server{Addr: p.addr, Handler: proxy}
	p.logger.Info("Egress proxy listening", zap.String("addr", p.addr))

	errCh := make(chan error, 1)
	go func() { errCh <- p.server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		_ = p.server.Close()
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
