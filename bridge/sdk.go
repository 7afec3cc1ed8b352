package bridge

import (
	"context"
	"net/http"
)

// OAuthScopes is the fixed scope set requested by the token client.
var OAuthScopes = []string{
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// ButtonOptions controls how the identity button is presented.
type ButtonOptions struct {
	Type          string
	Theme         string
	Size          string
	Text          string
	Shape         string
	LogoAlignment string
	Width         int
}

// DefaultButtonOptions are the presentation options used for every render.
var DefaultButtonOptions = ButtonOptions{
	Type:          "standard",
	Theme:         "outline",
	Size:          "large",
	Text:          "signin_with",
	Shape:         "rectangular",
	LogoAlignment: "left",
	Width:         240,
}

// IdentityResponse is what the provider hands back from the one-tap/button flow.
type IdentityResponse struct {
	Credential string
	SelectBy   string
}

// TokenResponse is what the provider hands back from the OAuth2 token flow.
// Either AccessToken or Error is set.
type TokenResponse struct {
	State            string
	AccessToken      string
	TokenType        string
	ExpiresIn        int64
	Scope            string
	Error            string
	ErrorDescription string
	ErrorURI         string
}

// IdentityConfig configures the identity-token client.
type IdentityConfig struct {
	ClientID           string
	Callback           func(ctx context.Context, resp IdentityResponse)
	AutoSelect         bool
	CancelOnTapOutside bool
}

// TokenConfig configures the OAuth2 token client.
type TokenConfig struct {
	ClientID string
	Scopes   []string
	Callback func(ctx context.Context, resp TokenResponse)
}

// TokenRequest describes an access-token request in flight.
type TokenRequest struct {
	State      string
	ConsentURL string
}

// SDK is the identity provider capability the bridge configures and calls.
type SDK interface {
	InitializeIdentity(cfg IdentityConfig) (IdentityClient, error)
	InitTokenClient(cfg TokenConfig) (TokenClient, error)
}

// IdentityClient renders the provider's sign-in affordance.
type IdentityClient interface {
	RenderButton(containerID string, opts ButtonOptions) error
}

// TokenClient starts OAuth2 consent requests. Completion arrives later
// through the configured callback.
type TokenClient interface {
	RequestAccessToken(ctx context.Context) (TokenRequest, error)
}

// CallbackHandler is implemented by SDKs whose completions arrive over HTTP.
type CallbackHandler interface {
	HandleCredential(w http.ResponseWriter, r *http.Request)
	HandleRedirect(w http.ResponseWriter, r *http.Request)
}
