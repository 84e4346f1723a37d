/*
Package domain contains the core domain models of the wabaflow engine.

It defines the entities the flow interpreter works with and is kept free of I/O
and persistence concerns, following Hexagonal Architecture principles.

# Key Entities

  - Flow: A versioned, tenant-owned node graph. Only the highest published version is active.
  - Node: A single step of a flow (send_message, ask_question, end, or an unknown future type).
  - Graph: A compiled Flow definition indexed by node id.
  - Conversation: The durable execution state of one participant inside a tenant.
  - Message: An immutable inbound or outbound transcript entry.
*/
package domain
