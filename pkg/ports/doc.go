/*
Package ports defines the driven ports (interfaces) of the wabaflow engine.

These interfaces decouple the flow interpreter from storage, locking and delivery
implementations, so the same engine runs against memory, SQLite, Postgres and Redis.

# Key Interfaces

  - Store: Tenants, flows, conversations, the message log and the audit log.
  - StepCommitter: Atomic persistence of one interpreter step (state + outbound messages).
  - DistributedLocker: Serializes event handling per (tenant, participant) across replicas.
  - Queue: At-least-once delivery of inbound events to workers.
  - InboundHandler: The single entry point exposed to the delivery boundary.
*/
package ports
