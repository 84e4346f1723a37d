/*
Package wabaflow is a multi-tenant conversational flow engine for WhatsApp-style chat.

Each tenant authors versioned flow graphs made of send_message, ask_question and end
nodes. For every inbound participant message the engine persists the message, resolves
the tenant's active flow and walks the participant's conversation through it until the
flow waits for more input, terminates, or needs a human.

# Concept

The engine is hexagonal: the interpreter owns no storage and talks to ports. Adapters
provide memory, SQLite and Postgres stores, a Redis lock and queue, an HTTP API and an
MCP server. Delivery is at least once; every interpreter step commits atomically, so a
crash mid-walk resumes from the last committed node without repeating sent messages.

# Key Features

  - Single-use input: one inbound text answers at most one question per walk.
  - Step ceiling: cyclic flows escalate instead of looping forever.
  - Fault absorption: dangling references and unknown node types never crash a walk.
  - Per-conversation serialization: a keyed lock plus a uniqueness constraint on (tenant, participant).

# Usage

	store := memory.NewStore()
	eng, err := wabaflow.New(store, wabaflow.WithMaxSteps(50))
	if err != nil {
		log.Fatal(err)
	}

	res, err := eng.HandleInbound(ctx, domain.InboundEvent{TenantID: 1, FromNumber: "+5511999", Text: "hello"})
	if errors.Is(err, domain.ErrNoActiveFlow) {
		// the message is logged; retry once a flow is published
	}
	fmt.Println(res.Conversation.State)
*/
package wabaflow
