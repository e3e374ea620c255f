// Package provider defines the contract between the convergence engine and
// resource providers. Providers run in-process; requests and responses carry
// resource configuration as raw JSON so the engine stays schema-agnostic.
package provider

import "context"

// Action is the convergence operation a provider decides on during planning.
type Action string

const (
	ActionNoop    Action = "NOOP"
	ActionCreate  Action = "CREATE"
	ActionUpdate  Action = "UPDATE"
	ActionReplace Action = "REPLACE"
	ActionDelete  Action = "DELETE"
)

// PlanRequest asks a provider to compare desired configuration against the
// last-known state for one declaration. Desired is nil for deletions; Prior
// is nil for resources not yet created. PriorInputs carries the
// configuration the resource was last applied with, in the same shape as
// Desired, so providers can diff like against like instead of comparing a
// config document to an attribute snapshot.
type PlanRequest struct {
	Type        string
	Name        string
	Desired     []byte
	Prior       []byte
	PriorInputs []byte
}

type PlanResponse struct {
	Action            Action
	ChangedAttributes []string
}

// ApplyRequest asks a provider to make real infrastructure match Desired.
// A nil Desired requests deletion of whatever Prior describes.
type ApplyRequest struct {
	Type    string
	Name    string
	Desired []byte
	Prior   []byte
}

// ApplyResponse carries the provider-assigned attribute snapshot that
// becomes the resource's state entry.
type ApplyResponse struct {
	NewState []byte
}

type ReadRequest struct {
	Type    string
	ID      string
	Current []byte
}

type ReadResponse struct {
	Exists   bool
	NewState []byte
}

type DeleteRequest struct {
	Type    string
	ID      string
	Current []byte
}

// Interface is implemented by every resource provider.
type Interface interface {
	// Configure prepares the provider (client setup, credentials).
	Configure(ctx context.Context, settings map[string]string) error

	// Plan decides which action would converge the declaration.
	Plan(ctx context.Context, req *PlanRequest) (*PlanResponse, error)

	// Apply performs the decided action against real infrastructure.
	Apply(ctx context.Context, req *ApplyRequest) (*ApplyResponse, error)

	// Read refreshes the last-known state of an existing resource.
	Read(ctx context.Context, req *ReadRequest) (*ReadResponse, error)

	// Delete removes a resource that is no longer declared.
	Delete(ctx context.Context, req *DeleteRequest) error
}
