package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Initializer configures both client handles once the SDK is ready.
type Initializer struct {
	clientID string
	ctrl     *Controller
	reporter Reporter
	logger   *slog.Logger

	mu   sync.Mutex
	done bool
}

// NewInitializer binds initialization to the controller that will own the handles.
func NewInitializer(clientID string, ctrl *Controller, reporter Reporter, logger *slog.Logger) *Initializer {
	return &Initializer{
		clientID: clientID,
		ctrl:     ctrl,
		reporter: reporter,
		logger:   logger,
	}
}

// Run consumes the loader's readiness signal once and initializes.
func (i *Initializer) Run(ctx context.Context, loader *Loader) error {
	sdk, err := loader.Wait(ctx)
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return err
	}
	return i.Initialize(ctx, sdk)
}

// Initialize performs the single capability check and constructs both
// clients. A nil sdk leaves the handles unset. Calls after handles exist are
// no-ops.
func (i *Initializer) Initialize(ctx context.Context, sdk SDK) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.done || i.ctrl.HasClients() {
		i.logger.Debug("bridge already initialized")
		return nil
	}

	if sdk == nil {
		i.logger.Error("identity services api failed to load")
		return i.fail(ctx, ErrSDKUnavailable)
	}

	identity, token, err := i.construct(sdk)
	if err != nil {
		i.logger.Error("failed to initialize identity clients", "error", err)
		return i.fail(ctx, fmt.Errorf("%w: %w", ErrClientConstruction, err))
	}

	i.ctrl.attach(identity, token)
	i.done = true
	i.logger.Info("identity clients initialized", "client_id", i.clientID)
	return nil
}

func (i *Initializer) construct(sdk SDK) (identity IdentityClient, token TokenClient, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			identity, token = nil, nil
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	identity, err = sdk.InitializeIdentity(IdentityConfig{
		ClientID:           i.clientID,
		Callback:           i.ctrl.HandleIdentityResponse,
		AutoSelect:         false,
		CancelOnTapOutside: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("identity client: %w", err)
	}

	token, err = sdk.InitTokenClient(TokenConfig{
		ClientID: i.clientID,
		Scopes:   append([]string(nil), OAuthScopes...),
		Callback: i.ctrl.HandleTokenResponse,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("token client: %w", err)
	}
	if identity == nil || token == nil {
		return nil, nil, errors.New("sdk returned nil client")
	}
	return identity, token, nil
}

func (i *Initializer) fail(ctx context.Context, err error) error {
	wrapped := flowErr(FlowNone, "initialize", err)
	if i.reporter != nil {
		i.reporter.Report(ctx, wrapped)
	}
	return wrapped
}
