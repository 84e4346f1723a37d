/*
Package session serializes event handling per conversation.

A conversation is identified by its (tenant, participant) pair. The Manager keeps a
reference-counted in-process mutex per pair and, when configured, also holds a
distributed lease so replicas never walk the same conversation concurrently.
*/
package session
