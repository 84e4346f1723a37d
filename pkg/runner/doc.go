/*
Package runner drives the engine from the outside world.

# Key Components

  - Worker: consumes the inbound queue with bounded concurrency and at-least-once
    delivery. Transient failures (no published flow yet, storage errors) are retried
    with a linear backoff up to a maximum number of attempts.
  - Console: plays the participant side of one conversation on a terminal,
    useful to try a flow before it is exposed to real traffic.
  - SanitizeInput: size, UTF-8 and control character checks applied to inbound text.

# Usage

	w := runner.NewWorker(queue, engine,
		runner.WithConcurrency(4),
		runner.WithMaxAttempts(5),
		runner.WithLogger(logger),
	)

	if err := w.Run(ctx); err != nil {
		log.Fatal(err)
	}
*/
package runner
