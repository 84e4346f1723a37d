/*
Package dsl provides a Go DSL for programmatically constructing flow definitions.

Nodes keep the order in which they are added, which is the authoring order the
interpreter relies on: the first node added is the entry point.

Example usage:

	def, err := dsl.New().
		Send("greet", "Hi! Welcome to Acme.").Go("name").
		Ask("name", "What is your name?").Go("done").
		End("done").
		Build()
	if err != nil {
		return err
	}
	flow := &domain.Flow{TenantID: 1, Name: "onboarding", Status: domain.FlowStatusPublished, Definition: def}
*/
package dsl
