package bridge

import (
	"errors"
	"fmt"
)

// Failure classes surfaced through the Reporter.
var (
	ErrSDKUnavailable      = errors.New("identity sdk unavailable")
	ErrClientConstruction  = errors.New("identity client construction failed")
	ErrNoClient            = errors.New("flow triggered without client")
	ErrRenderTargetMissing = errors.New("render target missing")
	ErrReceiverUnbound     = errors.New("no host receiver bound")
	ErrDelivery            = errors.New("credential delivery failed")
	ErrFlowAbandoned       = errors.New("flow abandoned")
)

// FlowKind identifies which sign-in flow produced a result.
type FlowKind int

const (
	FlowNone FlowKind = iota
	FlowIdentity
	FlowOAuth
)

func (k FlowKind) String() string {
	switch k {
	case FlowIdentity:
		return "identity"
	case FlowOAuth:
		return "oauth"
	default:
		return "none"
	}
}

// FlowError attaches the flow and operation to an underlying failure.
type FlowError struct {
	Kind FlowKind
	Op   string
	Err  error
}

func (e *FlowError) Error() string {
	if e.Kind == FlowNone {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s flow: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *FlowError) Unwrap() error { return e.Err }

// ProviderError is an error response returned by the provider in place of a token.
type ProviderError struct {
	Code        string
	Description string
	URI         string
}

func (e *ProviderError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("provider error %s: %s", e.Code, e.Description)
	}
	return "provider error " + e.Code
}

// Denied reports whether the user refused consent.
func (e *ProviderError) Denied() bool {
	return e.Code == "access_denied"
}

func flowErr(kind FlowKind, op string, err error) error {
	return &FlowError{Kind: kind, Op: op, Err: err}
}
