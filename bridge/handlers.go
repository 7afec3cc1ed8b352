package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// App bundles runtime dependencies for the bridge.
type App struct {
	Config      Config
	Logger      *slog.Logger
	Reporter    Reporter
	Channel     *Channel
	Controller  *Controller
	Loader      *Loader
	Initializer *Initializer
	Mounts      *Mounts
}

// NewApp wires the bridge components together. Reports are always logged;
// a non-nil reporter receives them as well.
func NewApp(cfg Config, mounts *Mounts, load LoadFunc, reporter Reporter, logger *slog.Logger) *App {
	if reporter == nil {
		reporter = LogReporter{Logger: logger}
	} else {
		reporter = Reporters(reporter, LogReporter{Logger: logger})
	}
	if mounts == nil {
		mounts = NewMounts(cfg.Flows.Containers...)
	}

	channel := NewChannel()
	ctrl := NewController(channel, reporter, logger, cfg.Flows.TTL())

	return &App{
		Config:      cfg,
		Logger:      logger,
		Reporter:    reporter,
		Channel:     channel,
		Controller:  ctrl,
		Loader:      NewLoader(load, cfg.Google.Timeout(), reporter, logger),
		Initializer: NewInitializer(cfg.Google.ClientID, ctrl, reporter, logger),
		Mounts:      mounts,
	}
}

// Bind installs the host receiver. Call it before Start so that no
// credential produced during startup is dropped.
func (a *App) Bind(fn Receiver) {
	a.Channel.Bind(fn)
}

// Start loads the SDK and initializes the clients once it is ready. It
// blocks until initialization has been attempted.
func (a *App) Start(ctx context.Context) error {
	a.Loader.Start(ctx)
	err := a.Initializer.Run(ctx, a.Loader)
	if err != nil && !errors.Is(err, context.Canceled) {
		// Degraded mode: the HTTP surface keeps serving and every flow
		// trigger fails fast with ErrNoClient.
		a.Logger.Warn("bridge running without identity clients", "error", err)
		return nil
	}
	return err
}

func (a *App) callbacks() (CallbackHandler, bool) {
	sdk := a.Loader.SDK()
	if sdk == nil {
		return nil, false
	}
	h, ok := sdk.(CallbackHandler)
	return h, ok
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	if !a.Controller.HasClients() {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"sdk":            a.Loader.Status(),
		"clients":        a.Controller.HasClients(),
		"receiver_bound": a.Channel.Bound(),
		"pending_flows":  a.Controller.Pending(),
		"containers":     a.Mounts.IDs(),
	})
}

var signinTemplate = template.Must(template.New("signin").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>Sign in</title>
    <script src="{{.ScriptURL}}" async defer></script>
</head>
<body>
    <div id="{{.ContainerID}}">{{.Fragment}}</div>
    <form method="post" action="/oauth2/start"><button type="submit">Continue with Google</button></form>
</body>
</html>`))

func (a *App) handleSignin(w http.ResponseWriter, r *http.Request) {
	containerID := r.URL.Query().Get("container")
	if containerID == "" {
		containerID = DefaultContainerID
		if len(a.Config.Flows.Containers) > 0 {
			containerID = a.Config.Flows.Containers[0]
		}
	}

	if err := a.Controller.RenderIdentityButton(r.Context(), containerID); err != nil {
		http.Error(w, err.Error(), errorStatus(err))
		return
	}
	var fragment template.HTML
	if mt, ok := a.Mounts.Lookup(containerID); ok {
		fragment, _ = mt.Fragment()
	}

	scriptURL := a.Config.Google.ScriptURL
	if s, ok := a.Loader.SDK().(interface{ ScriptURL() string }); ok && s.ScriptURL() != "" {
		scriptURL = s.ScriptURL()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = signinTemplate.Execute(w, map[string]any{
		"ScriptURL":   scriptURL,
		"ContainerID": containerID,
		"Fragment":    fragment,
	})
}

func (a *App) handleMountGet(w http.ResponseWriter, r *http.Request) {
	mt, ok := a.Mounts.Lookup(chi.URLParam(r, "container"))
	if !ok {
		http.Error(w, "unknown container", http.StatusNotFound)
		return
	}
	fragment, rendered := mt.Fragment()
	if !rendered {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(fragment))
}

func (a *App) handleMountRender(w http.ResponseWriter, r *http.Request) {
	containerID := chi.URLParam(r, "container")
	if err := a.Controller.RenderIdentityButton(r.Context(), containerID); err != nil {
		http.Error(w, err.Error(), errorStatus(err))
		return
	}
	writeJSON(w, map[string]string{"container": containerID, "status": "rendered"})
}

func (a *App) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	flow, err := a.Controller.TriggerOAuthFlow(r.Context())
	if err != nil {
		http.Error(w, err.Error(), errorStatus(err))
		return
	}
	http.Redirect(w, r, flow.ConsentURL, http.StatusFound)
}

func (a *App) handleCredential(w http.ResponseWriter, r *http.Request) {
	h, ok := a.callbacks()
	if !ok {
		http.Error(w, ErrSDKUnavailable.Error(), http.StatusServiceUnavailable)
		return
	}
	h.HandleCredential(w, r)
}

func (a *App) handleRedirect(w http.ResponseWriter, r *http.Request) {
	h, ok := a.callbacks()
	if !ok {
		http.Error(w, ErrSDKUnavailable.Error(), http.StatusServiceUnavailable)
		return
	}
	h.HandleRedirect(w, r)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrRenderTargetMissing):
		return http.StatusNotFound
	case errors.Is(err, ErrNoClient), errors.Is(err, ErrSDKUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
