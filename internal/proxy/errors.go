// Package proxy implements the fault-injecting forward proxy data plane.
package proxy

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/frayproxy/fray/internal/fault"
)

// ProxyError is a structured proxy error response.
type ProxyError struct {
	HTTPCode  int
	FrayError string // X-Fray-Error header value
	Message   string // plain-text body
}

func (e *ProxyError) Error() string { return e.Message }

// Predefined proxy errors covering the data-plane taxonomy.
var (
	ErrInvalidConfiguration = &ProxyError{
		HTTPCode:  http.StatusBadRequest,
		FrayError: "INVALID_CONFIGURATION",
		Message:   "Invalid fault configuration",
	}
	ErrInvalidRequest = &ProxyError{
		HTTPCode:  http.StatusBadRequest,
		FrayError: "INVALID_REQUEST",
		Message:   "Unable to determine upstream target",
	}
	ErrInvalidHeader = &ProxyError{
		HTTPCode:  http.StatusBadRequest,
		FrayError: "INVALID_HEADER",
		Message:   "Malformed request header",
	}
	ErrUpstreamConnectFailed = &ProxyError{
		HTTPCode:  http.StatusBadGateway,
		FrayError: "UPSTREAM_CONNECT_FAILED",
		Message:   "Failed to connect to upstream",
	}
	ErrUpstreamTimeout = &ProxyError{
		HTTPCode:  http.StatusGatewayTimeout,
		FrayError: "UPSTREAM_TIMEOUT",
		Message:   "Upstream connection or response timed out",
	}
	ErrUpstreamRequestFailed = &ProxyError{
		HTTPCode:  http.StatusBadGateway,
		FrayError: "UPSTREAM_REQUEST_FAILED",
		Message:   "Upstream request failed",
	}
	ErrDNSFault = &ProxyError{
		HTTPCode:  http.StatusBadGateway,
		FrayError: "DNS_FAULT_TRIGGERED",
		Message:   "Upstream resolution failed (injected)",
	}
	// Reserved for the remote plugin seam.
	ErrRPCCall = &ProxyError{
		HTTPCode:  http.StatusBadGateway,
		FrayError: "RPC_CALL_FAILED",
		Message:   "Remote plugin call failed",
	}
	ErrRPCConnection = &ProxyError{
		HTTPCode:  http.StatusBadGateway,
		FrayError: "RPC_CONNECTION_FAILED",
		Message:   "Remote plugin unreachable",
	}
	ErrIO = &ProxyError{
		HTTPCode:  http.StatusInternalServerError,
		FrayError: "IO_ERROR",
		Message:   "Local I/O failure",
	}
	ErrInternal = &ProxyError{
		HTTPCode:  http.StatusInternalServerError,
		FrayError: "INTERNAL_ERROR",
		Message:   "Internal proxy error",
	}
)

// FaultTriggered builds a deliberate upstream error carrying a chosen
// status code.
func FaultTriggered(status int, message string) *ProxyError {
	return &ProxyError{HTTPCode: status, FrayError: "FAULT_TRIGGERED", Message: message}
}

// writeProxyError writes a standardised proxy error response.
func writeProxyError(w http.ResponseWriter, pe *ProxyError) {
	w.Header().Set("X-Fray-Error", pe.FrayError)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(pe.HTTPCode)
	w.Write([]byte(pe.Message))
}

// classifyUpstreamError maps a forward-path upstream error to a
// ProxyError. Returns nil for context.Canceled: client-initiated
// cancellation is closed silently.
func classifyUpstreamError(err error) *ProxyError {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if errors.Is(err, fault.ErrDNSFaultTriggered) {
		return ErrDNSFault
	}
	if os.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return ErrUpstreamTimeout
	}
	return ErrUpstreamRequestFailed
}

// classifyConnectError classifies errors in the CONNECT path, where all
// failures before the tunnel starts are dial-phase errors.
func classifyConnectError(err error) *ProxyError {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if errors.Is(err, fault.ErrDNSFaultTriggered) {
		return ErrDNSFault
	}
	if os.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return ErrUpstreamTimeout
	}
	return ErrUpstreamConnectFailed
}

// classifyPluginError maps a plugin pipeline failure. A *ProxyError passes
// through so FaultTriggered can carry its deliberate status code.
func classifyPluginError(err error) *ProxyError {
	if err == nil {
		return nil
	}
	var pe *ProxyError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, fault.ErrDNSFaultTriggered) {
		return ErrDNSFault
	}
	return ErrInternal
}
