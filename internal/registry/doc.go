// Package registry owns the configured providers. Selection queries always
// probe providers live; the background sweep only feeds status reporting.
package registry
