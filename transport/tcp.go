// Package transport implements one reliable, ordered, bidirectional byte
// stream per peer pair (spec §4.2): plain TCP. Higher layers (registry,
// meshnet) frame their own handshakes on top using the wire package.
//
// Deployments needing a non-socket substrate (shared-storage bootstrap for
// firewalled runners, cross-cloud testbeds) wire the relevant Azure SDK
// client directly at the point of use instead of going through a generic
// scheme here — see registry.AzureTableStore, trace.AzureBlobSink, and
// monitor.AzureQueueBus.
package transport

import (
	"fmt"
	"net"
)

// SchemeTCP is the only substrate this package implements directly.
const SchemeTCP = "tcp"

// Listen opens a TCP listener at address. scheme must be SchemeTCP.
func Listen(scheme, address string, opts ...Option) (net.Listener, error) {
	if scheme != SchemeTCP {
		return nil, fmt.Errorf("transport: unsupported scheme %q", scheme)
	}
	cfg := applyConfig(opts)
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	cfg.log.WithField("addr", ln.Addr().String()).Debug("transport: listening")
	return ln, nil
}

// Dial connects to address over scheme. scheme must be SchemeTCP.
func Dial(scheme, address string, opts ...Option) (net.Conn, error) {
	if scheme != SchemeTCP {
		return nil, fmt.Errorf("transport: unsupported scheme %q", scheme)
	}
	cfg := applyConfig(opts)
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, err
	}
	cfg.log.WithField("addr", address).Debug("transport: dialed")
	return conn, nil
}
