package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultFlowTTL bounds how long an unanswered OAuth2 request is remembered.
const DefaultFlowTTL = 10 * time.Minute

// Controller drives both sign-in flows and normalizes their completions
// into a single credential handed to the host channel.
type Controller struct {
	channel  *Channel
	reporter Reporter
	logger   *slog.Logger
	flowTTL  time.Duration
	button   ButtonOptions
	now      func() time.Time

	mu       sync.Mutex
	identity IdentityClient
	token    TokenClient
	pending  map[string]*Flow
}

// NewController wires a controller to the host channel.
func NewController(channel *Channel, reporter Reporter, logger *slog.Logger, flowTTL time.Duration) *Controller {
	if flowTTL <= 0 {
		flowTTL = DefaultFlowTTL
	}
	return &Controller{
		channel:  channel,
		reporter: reporter,
		logger:   logger,
		flowTTL:  flowTTL,
		button:   DefaultButtonOptions,
		now:      time.Now,
		pending:  make(map[string]*Flow),
	}
}

// attach installs both client handles. Handles are set at most once.
func (c *Controller) attach(identity IdentityClient, token TokenClient) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity != nil || c.token != nil {
		return false
	}
	c.identity = identity
	c.token = token
	return true
}

// HasClients reports whether initialization produced both handles.
func (c *Controller) HasClients() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity != nil && c.token != nil
}

// RenderIdentityButton asks the identity client to render its button into
// containerID. Failures are reported and returned; nothing panics out.
func (c *Controller) RenderIdentityButton(ctx context.Context, containerID string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = c.fail(ctx, FlowIdentity, "render button", fmt.Errorf("panic: %v", rec))
		}
	}()

	c.mu.Lock()
	client := c.identity
	c.mu.Unlock()

	if client == nil {
		return c.fail(ctx, FlowIdentity, "render button", ErrNoClient)
	}
	if strings.TrimSpace(containerID) == "" {
		return c.fail(ctx, FlowIdentity, "render button", fmt.Errorf("%w: empty container id", ErrRenderTargetMissing))
	}
	if err := client.RenderButton(containerID, c.button); err != nil {
		return c.fail(ctx, FlowIdentity, "render button", err)
	}
	c.logger.Debug("identity button rendered", "container", containerID)
	return nil
}

// TriggerOAuthFlow requests an access token. It returns as soon as the
// request is issued; the returned Flow completes when the provider calls back.
func (c *Controller) TriggerOAuthFlow(ctx context.Context) (flow *Flow, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			flow = nil
			err = c.fail(ctx, FlowOAuth, "request token", fmt.Errorf("panic: %v", rec))
		}
	}()

	c.mu.Lock()
	client := c.token
	c.mu.Unlock()

	if client == nil {
		return nil, c.fail(ctx, FlowOAuth, "request token", ErrNoClient)
	}

	req, err := client.RequestAccessToken(ctx)
	if err != nil {
		return nil, c.fail(ctx, FlowOAuth, "request token", err)
	}

	id := req.State
	if id == "" {
		id = uuid.NewString()
	}
	flow = newFlow(id, FlowOAuth, req.ConsentURL, c.now())

	c.mu.Lock()
	c.pruneLocked()
	c.pending[id] = flow
	c.mu.Unlock()

	c.logger.Info("oauth flow requested", "flow_id", id)
	return flow, nil
}

// HandleIdentityResponse is the identity client's callback. ctx is the
// request that carried the response; its values reach reports but its
// cancellation does not abort delivery.
func (c *Controller) HandleIdentityResponse(ctx context.Context, resp IdentityResponse) {
	ctx = context.WithoutCancel(ctx)
	defer func() {
		if rec := recover(); rec != nil {
			_ = c.fail(ctx, FlowIdentity, "identity callback", fmt.Errorf("panic: %v", rec))
		}
	}()

	if resp.Credential == "" {
		c.logger.Debug("identity response without credential", "select_by", resp.SelectBy)
		return
	}
	_ = c.deliver(ctx, FlowIdentity, resp.Credential, "select_by", resp.SelectBy)
}

// HandleTokenResponse is the token client's callback. Error responses are
// reported and never delivered.
func (c *Controller) HandleTokenResponse(ctx context.Context, resp TokenResponse) {
	ctx = context.WithoutCancel(ctx)
	flow := c.takeFlow(resp.State)

	defer func() {
		if rec := recover(); rec != nil {
			err := c.fail(ctx, FlowOAuth, "token callback", fmt.Errorf("panic: %v", rec))
			if flow != nil {
				flow.finish(StateReported, Result{Err: err})
			}
		}
	}()

	if resp.Error != "" {
		err := c.fail(ctx, FlowOAuth, "token callback", &ProviderError{
			Code:        resp.Error,
			Description: resp.ErrorDescription,
			URI:         resp.ErrorURI,
		})
		if flow != nil {
			flow.finish(StateReported, Result{Err: err})
		}
		return
	}
	if resp.AccessToken == "" {
		err := c.fail(ctx, FlowOAuth, "token callback", &ProviderError{
			Code:        "invalid_response",
			Description: "access_token missing",
		})
		if flow != nil {
			flow.finish(StateReported, Result{Err: err})
		}
		return
	}

	err := c.deliver(ctx, FlowOAuth, resp.AccessToken, "flow_id", resp.State)
	if flow == nil {
		return
	}
	if err != nil {
		flow.finish(StateReported, Result{Err: err})
		return
	}
	flow.finish(StateDelivered, Result{Credential: resp.AccessToken})
}

// Pending returns the number of OAuth2 flows awaiting a callback.
func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Controller) deliver(ctx context.Context, kind FlowKind, credential string, attrs ...any) error {
	if err := c.channel.Deliver(ctx, credential); err != nil {
		return c.fail(ctx, kind, "deliver", err)
	}
	attrs = append(attrs, "flow", kind.String())
	if sub, ok := credentialSubject(credential); ok {
		attrs = append(attrs, "sub", sub)
	}
	c.logger.Info("credential delivered", attrs...)
	return nil
}

func (c *Controller) fail(ctx context.Context, kind FlowKind, op string, err error) error {
	wrapped := flowErr(kind, op, err)
	if c.reporter != nil {
		c.reporter.Report(ctx, wrapped)
	}
	return wrapped
}

func (c *Controller) takeFlow(id string) *Flow {
	if id == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	flow, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return flow
}

// pruneLocked drops flows the user never finished. They end Idle with
// ErrFlowAbandoned and are neither delivered nor reported.
func (c *Controller) pruneLocked() {
	cutoff := c.now().Add(-c.flowTTL)
	for id, flow := range c.pending {
		if flow.Created.Before(cutoff) {
			delete(c.pending, id)
			flow.finish(StateIdle, Result{Err: ErrFlowAbandoned})
		}
	}
}

// credentialSubject peeks at a JWT credential's subject for logging. The
// token is not verified; non-JWT credentials return false.
func credentialSubject(credential string) (string, bool) {
	if strings.Count(credential, ".") != 2 {
		return "", false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(credential, claims); err != nil {
		return "", false
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", false
	}
	return sub, true
}
