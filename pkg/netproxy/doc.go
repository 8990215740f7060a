// Package netproxy applies the outbound network proxy (HTTP, HTTPS or
// SOCKS5, with optional credentials) to the relay's upstream transport and
// to the process environment.
//
// The Provider owns the transport used for all upstream traffic. When the
// global configuration changes, Rebuild swaps in a new transport without
// interrupting requests that are already in flight:
//
//	provider, err := netproxy.NewProvider(&global.Proxy, netproxy.DefaultTransportOptions())
//	client := &http.Client{Transport: provider}
//
// ApplyEnv exports HTTP_PROXY, HTTPS_PROXY and ALL_PROXY so that processes
// started by the relay inherit the same settings.
package netproxy
