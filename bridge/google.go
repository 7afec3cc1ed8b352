package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const (
	DefaultIssuer    = "https://accounts.google.com"
	DefaultScriptURL = "https://accounts.google.com/gsi/client"

	csrfCookieName = "g_csrf_token"

	credentialPath = "/gsi/credential"
	redirectPath   = "/oauth2/callback"
)

// GoogleSDKConfig carries what the Google SDK needs after discovery.
type GoogleSDKConfig struct {
	Endpoint     oauth2.Endpoint
	ClientSecret string
	PublicURL    string
	ScriptURL    string
	FlowTTL      time.Duration
	HTTPClient   *http.Client
	Mounts       *Mounts
}

// GoogleSDK implements SDK on top of Google Identity Services. Identity
// credentials arrive as GIS form posts; access tokens arrive through an
// authorization-code redirect exchanged with PKCE.
type GoogleSDK struct {
	cfg    GoogleSDKConfig
	logger *slog.Logger

	mu       sync.RWMutex
	identity *googleIdentityClient
	token    *googleTokenClient
}

// NewGoogleSDK builds the SDK from an already discovered endpoint.
func NewGoogleSDK(cfg GoogleSDKConfig, logger *slog.Logger) *GoogleSDK {
	if cfg.Mounts == nil {
		cfg.Mounts = NewMounts()
	}
	if cfg.FlowTTL <= 0 {
		cfg.FlowTTL = DefaultFlowTTL
	}
	cfg.PublicURL = strings.TrimSuffix(cfg.PublicURL, "/")
	return &GoogleSDK{cfg: cfg, logger: logger}
}

// NewGoogleLoadFunc returns a LoadFunc that fetches the GIS client script and
// discovers Google's OAuth2 endpoints.
func NewGoogleLoadFunc(cfg Config, mounts *Mounts, httpClient *http.Client, logger *slog.Logger) LoadFunc {
	return func(ctx context.Context) (SDK, error) {
		client := httpClient
		if client == nil {
			client = &http.Client{Timeout: 15 * time.Second}
		}

		if err := fetchScript(ctx, client, cfg.Google.ScriptURL); err != nil {
			return nil, err
		}

		op, err := oidc.NewProvider(oidc.ClientContext(ctx, client), cfg.Google.Issuer)
		if err != nil {
			return nil, fmt.Errorf("discover provider %s: %w", cfg.Google.Issuer, err)
		}

		endpoint := op.Endpoint()
		if cfg.Google.ClientSecret == "" {
			endpoint.AuthStyle = oauth2.AuthStyleInParams
		}

		return NewGoogleSDK(GoogleSDKConfig{
			Endpoint:     endpoint,
			ClientSecret: cfg.Google.ClientSecret,
			PublicURL:    cfg.Server.PublicURL,
			ScriptURL:    cfg.Google.ScriptURL,
			FlowTTL:      cfg.Flows.TTL(),
			HTTPClient:   client,
			Mounts:       mounts,
		}, logger), nil
	}
}

func fetchScript(ctx context.Context, client *http.Client, scriptURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scriptURL, nil)
	if err != nil {
		return fmt.Errorf("create script request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch client script: %w", err)
	}
	defer resp.Body.Close()
	n, _ := io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<20))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("fetch client script: received status %d", resp.StatusCode)
	}
	if n == 0 {
		return errors.New("fetch client script: empty body")
	}
	return nil
}

// InitializeIdentity configures the identity client. A second call replaces the first.
func (s *GoogleSDK) InitializeIdentity(cfg IdentityConfig) (IdentityClient, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("client_id required")
	}
	if cfg.Callback == nil {
		return nil, errors.New("callback required")
	}
	c := &googleIdentityClient{
		cfg:      cfg,
		loginURI: s.cfg.PublicURL + credentialPath,
		mounts:   s.cfg.Mounts,
	}
	s.mu.Lock()
	s.identity = c
	s.mu.Unlock()
	return c, nil
}

// InitTokenClient configures the OAuth2 token client.
func (s *GoogleSDK) InitTokenClient(cfg TokenConfig) (TokenClient, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("client_id required")
	}
	if cfg.Callback == nil {
		return nil, errors.New("callback required")
	}
	if len(cfg.Scopes) == 0 {
		return nil, errors.New("at least one scope required")
	}
	c := &googleTokenClient{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: s.cfg.ClientSecret,
			Endpoint:     s.cfg.Endpoint,
			RedirectURL:  s.cfg.PublicURL + redirectPath,
			Scopes:       cfg.Scopes,
		},
		callback:   cfg.Callback,
		ttl:        s.cfg.FlowTTL,
		httpClient: s.cfg.HTTPClient,
		logger:     s.logger,
		now:        time.Now,
		pending:    make(map[string]pendingToken),
	}
	s.mu.Lock()
	s.token = c
	s.mu.Unlock()
	return c, nil
}

// ScriptURL is the client library URL pages embed.
func (s *GoogleSDK) ScriptURL() string {
	return s.cfg.ScriptURL
}

// HandleCredential receives the GIS credential post.
func (s *GoogleSDK) HandleCredential(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	client := s.identity
	s.mu.RUnlock()
	if client == nil {
		http.Error(w, "identity client not initialized", http.StatusServiceUnavailable)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	cookie, err := r.Cookie(csrfCookieName)
	if err != nil || cookie.Value == "" {
		s.logger.Warn("credential post without csrf cookie")
		http.Error(w, "missing csrf token", http.StatusBadRequest)
		return
	}
	if r.PostForm.Get(csrfCookieName) != cookie.Value {
		s.logger.Warn("credential post csrf mismatch")
		http.Error(w, "csrf token mismatch", http.StatusBadRequest)
		return
	}

	credential := r.PostForm.Get("credential")
	if credential == "" {
		s.logger.Warn("credential post without credential", "select_by", r.PostForm.Get("select_by"))
		http.Error(w, "missing credential", http.StatusBadRequest)
		return
	}

	client.cfg.Callback(r.Context(), IdentityResponse{
		Credential: credential,
		SelectBy:   r.PostForm.Get("select_by"),
	})
	writeCompletionPage(w, "Signed in. You can return to the app.")
}

// HandleRedirect receives the OAuth2 authorization redirect, exchanges the
// code and hands the outcome to the token callback.
func (s *GoogleSDK) HandleRedirect(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	client := s.token
	s.mu.RUnlock()
	if client == nil {
		http.Error(w, "token client not initialized", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	state := q.Get("state")
	p, ok := client.take(state)
	if !ok {
		s.logger.Warn("oauth redirect with unknown state", "state", state)
		http.Error(w, "unknown or expired state", http.StatusBadRequest)
		return
	}

	if code := q.Get("error"); code != "" {
		client.callback(r.Context(), TokenResponse{
			State:            state,
			Error:            code,
			ErrorDescription: q.Get("error_description"),
			ErrorURI:         q.Get("error_uri"),
		})
		writeCompletionPage(w, "Sign-in was not completed.")
		return
	}

	code := q.Get("code")
	if code == "" {
		client.callback(r.Context(), TokenResponse{State: state, Error: "invalid_request", ErrorDescription: "code missing"})
		writeCompletionPage(w, "Sign-in was not completed.")
		return
	}

	client.callback(r.Context(), client.exchange(r.Context(), state, code, p.verifier))
	writeCompletionPage(w, "Signed in. You can return to the app.")
}

type googleIdentityClient struct {
	cfg      IdentityConfig
	loginURI string
	mounts   *Mounts
}

var buttonTemplate = template.Must(template.New("gsi-button").Parse(`<div id="g_id_onload"
     data-client_id="{{.ClientID}}"
     data-login_uri="{{.LoginURI}}"
     data-auto_select="{{.AutoSelect}}"
     data-cancel_on_tap_outside="{{.CancelOnTapOutside}}"></div>
<div class="g_id_signin"
     data-type="{{.Button.Type}}"
     data-theme="{{.Button.Theme}}"
     data-size="{{.Button.Size}}"
     data-text="{{.Button.Text}}"
     data-shape="{{.Button.Shape}}"
     data-logo_alignment="{{.Button.LogoAlignment}}"
     data-width="{{.Button.Width}}"></div>`))

func (c *googleIdentityClient) RenderButton(containerID string, opts ButtonOptions) error {
	mt, ok := c.mounts.Lookup(containerID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrRenderTargetMissing, containerID)
	}

	var buf bytes.Buffer
	err := buttonTemplate.Execute(&buf, map[string]any{
		"ClientID":           c.cfg.ClientID,
		"LoginURI":           c.loginURI,
		"AutoSelect":         c.cfg.AutoSelect,
		"CancelOnTapOutside": c.cfg.CancelOnTapOutside,
		"Button":             opts,
	})
	if err != nil {
		return fmt.Errorf("render button: %w", err)
	}
	mt.set(template.HTML(buf.String()), time.Now())
	return nil
}

type pendingToken struct {
	verifier string
	created  time.Time
}

type googleTokenClient struct {
	oauth      oauth2.Config
	callback   func(context.Context, TokenResponse)
	ttl        time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	pending map[string]pendingToken
}

func (c *googleTokenClient) RequestAccessToken(ctx context.Context) (TokenRequest, error) {
	if err := ctx.Err(); err != nil {
		return TokenRequest{}, err
	}
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	c.mu.Lock()
	cutoff := c.now().Add(-c.ttl)
	for k, p := range c.pending {
		if p.created.Before(cutoff) {
			delete(c.pending, k)
		}
	}
	c.pending[state] = pendingToken{verifier: verifier, created: c.now()}
	c.mu.Unlock()

	consentURL := c.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOnline,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
	return TokenRequest{State: state, ConsentURL: consentURL}, nil
}

func (c *googleTokenClient) take(state string) (pendingToken, bool) {
	if state == "" {
		return pendingToken{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[state]
	if !ok {
		return pendingToken{}, false
	}
	delete(c.pending, state)
	if p.created.Before(c.now().Add(-c.ttl)) {
		return pendingToken{}, false
	}
	return p, true
}

func (c *googleTokenClient) exchange(ctx context.Context, state, code, verifier string) TokenResponse {
	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tok, err := c.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		c.logger.Error("token exchange failed", "error", err, "token_endpoint", c.oauth.Endpoint.TokenURL)
		resp := TokenResponse{State: state, Error: "server_error", ErrorDescription: err.Error()}
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.ErrorCode != "" {
			resp.Error = rerr.ErrorCode
			resp.ErrorDescription = rerr.ErrorDescription
			resp.ErrorURI = rerr.ErrorURI
		}
		return resp
	}

	resp := TokenResponse{
		State:       state,
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		resp.ExpiresIn = int64(time.Until(tok.Expiry).Seconds())
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		resp.Scope = scope
	}
	return resp
}

var completionTemplate = template.Must(template.New("done").Parse(`<!DOCTYPE html>
<html>
<head><title>Sign-in</title></head>
<body><p>{{.}}</p></body>
</html>`))

func writeCompletionPage(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = completionTemplate.Execute(w, message)
}
