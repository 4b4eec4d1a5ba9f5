// Package httpserver runs the router's HTTP surface: address validation,
// tunable timeouts, an explicit bind step and context-driven draining.
package httpserver
