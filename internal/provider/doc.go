// Package provider defines the contract between the router and the
// generation backends it dispatches to: the Client interface, the request
// and response types, the Backend handle the registry keeps per provider,
// and the failure taxonomy attempts are classified into.
package provider
