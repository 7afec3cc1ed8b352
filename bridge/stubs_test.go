package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubIdentityClient struct {
	mu       sync.Mutex
	cfg      IdentityConfig
	rendered []string
	opts     ButtonOptions
	known    map[string]bool
}

func (c *stubIdentityClient) RenderButton(containerID string, opts ButtonOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.known != nil && !c.known[containerID] {
		return ErrRenderTargetMissing
	}
	c.rendered = append(c.rendered, containerID)
	c.opts = opts
	return nil
}

type stubTokenClient struct {
	mu       sync.Mutex
	cfg      TokenConfig
	requests int
	err      error
}

func (c *stubTokenClient) RequestAccessToken(ctx context.Context) (TokenRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return TokenRequest{}, c.err
	}
	c.requests++
	state := "state-" + string(rune('0'+c.requests))
	return TokenRequest{State: state, ConsentURL: "https://consent.example/" + state}, nil
}

type stubSDK struct {
	mu            sync.Mutex
	identity      *stubIdentityClient
	token         *stubTokenClient
	identityCalls int
	tokenCalls    int
	identityErr   error
	tokenErr      error
	panicOnToken  bool
}

func newStubSDK() *stubSDK {
	return &stubSDK{}
}

func (s *stubSDK) InitializeIdentity(cfg IdentityConfig) (IdentityClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identityCalls++
	if s.identityErr != nil {
		return nil, s.identityErr
	}
	s.identity = &stubIdentityClient{cfg: cfg}
	return s.identity, nil
}

func (s *stubSDK) InitTokenClient(cfg TokenConfig) (TokenClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenCalls++
	if s.panicOnToken {
		panic("token client exploded")
	}
	if s.tokenErr != nil {
		return nil, s.tokenErr
	}
	s.token = &stubTokenClient{cfg: cfg}
	return s.token, nil
}

// recordingReporter keeps every reported error.
type recordingReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingReporter) Report(ctx context.Context, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingReporter) count(target error) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, err := range r.errs {
		if errors.Is(err, target) {
			n++
		}
	}
	return n
}

func (r *recordingReporter) all() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// recordingReceiver counts deliveries.
type recordingReceiver struct {
	mu    sync.Mutex
	got   []string
	err   error
	panic bool
}

func (r *recordingReceiver) receive(ctx context.Context, credential string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panic {
		panic("receiver exploded")
	}
	r.got = append(r.got, credential)
	return r.err
}

func (r *recordingReceiver) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

// newTestBridge returns an initialized controller backed by a stub SDK.
func newTestBridge(t interface{ Fatalf(string, ...any) }) (*Controller, *stubSDK, *recordingReporter) {
	rep := &recordingReporter{}
	ctrl := NewController(NewChannel(), rep, discardLogger(), 0)
	sdk := newStubSDK()
	initr := NewInitializer("app-client-id", ctrl, rep, discardLogger())
	if err := initr.Initialize(context.Background(), sdk); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}
	return ctrl, sdk, rep
}
