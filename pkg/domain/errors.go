package domain

import "errors"

// ErrNoActiveFlow is returned when a tenant has no published flow.
var ErrNoActiveFlow = errors.New("no active flow")

// ErrFlowNotFound is returned when a flow ID cannot be found in the store.
var ErrFlowNotFound = errors.New("flow not found")

// ErrTenantNotFound is returned when a tenant ID cannot be found in the store.
var ErrTenantNotFound = errors.New("tenant not found")

// ErrConversationNotFound is returned when a conversation ID cannot be found in the store.
var ErrConversationNotFound = errors.New("conversation not found")

// ErrDanglingNode is reported when the current node of a conversation is not part of the active definition.
var ErrDanglingNode = errors.New("dangling node reference")

// ErrUnrecognizedNodeType is reported when the interpreter reaches a node type it cannot execute.
var ErrUnrecognizedNodeType = errors.New("unrecognized node type")

// ErrStepLimitExceeded is reported when a single walk visits more nodes than the configured ceiling.
var ErrStepLimitExceeded = errors.New("step limit exceeded")

// ErrInvalidDefinition is returned when a flow definition fails structural validation.
var ErrInvalidDefinition = errors.New("invalid flow definition")

// ErrDuplicateNodeID is returned when two nodes of one definition share an ID.
var ErrDuplicateNodeID = errors.New("duplicate node id")

// ErrInvalidEvent is returned when an inbound event cannot be routed to a tenant.
var ErrInvalidEvent = errors.New("invalid inbound event")
