// Package shutdown coordinates graceful process shutdown.
//
// A Handler waits for SIGINT, SIGTERM or a programmatic Trigger, then runs
// the registered hooks in reverse registration order under one timeout.
// Every hook runs even when an earlier one fails; failures are returned
// together.
//
// Usage:
//
//	h := shutdown.NewHandler(30*time.Second, logger)
//	h.OnShutdown("store", store.Close)
//	err := h.Wait(ctx)
package shutdown
