package wabaflow_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/wabaflow"
	"github.com/aretw0/wabaflow/pkg/adapters/memory"
	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/aretw0/wabaflow/pkg/dsl"
)

// ExampleNew_memory runs a two-turn conversation against an in-memory store.
func ExampleNew_memory() {
	ctx := context.Background()
	store := memory.NewStore()
	tenant, err := store.CreateTenant(ctx, "padaria")
	if err != nil {
		log.Fatal(err)
	}

	eng, err := wabaflow.New(store, wabaflow.WithQuestionPolicy(wabaflow.QuestionAskFirst))
	if err != nil {
		log.Fatal(err)
	}

	err = eng.PublishFlow(ctx, &domain.Flow{
		TenantID: tenant.ID,
		Name:     "menu",
		Definition: dsl.New().
			Send("greet", "Olá!").Go("menu").
			Ask("menu", "1 para pães, 2 para bolos").Go("thanks").
			Send("thanks", "Anotado!").Go("bye").
			End("bye").
			MustBuild(),
	})
	if err != nil {
		log.Fatal(err)
	}

	for _, text := range []string{"oi", "2"} {
		res, err := eng.HandleInbound(ctx, domain.InboundEvent{TenantID: tenant.ID, FromNumber: "+5511", Text: text})
		if err != nil {
			log.Fatal(err)
		}
		for _, m := range res.Outcome.Emitted {
			fmt.Println(m.Content)
		}
		fmt.Printf("[%s]\n", res.Conversation.State)
	}

	// Output:
	// Olá!
	// 1 para pães, 2 para bolos
	// [waiting_for_user]
	// Anotado!
	// [closed]
}
