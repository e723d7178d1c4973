// Package server assembles the gateway: the HTTP dispatcher with the
// account-linking and signout routes, the websocket endpoint feeding the
// realtime router, health probes, and the standalone metrics listener.
package server
