// Command orchestratord is the process entry point for the governed
// workflow orchestrator (SPEC_FULL.md §6 "Supplemented: CLI surface").
// Grounded on fyrsmithlabs-contextd's cmd/ctxd cobra wiring, adapted from an
// HTTP-client CLI to a direct, in-process driver of workflow.Orchestrator.
package main

import (
	"context"
	"fmt"
	"os"
)

// Exit codes (spec.md §9 "panics ... trigger orchestrator shutdown with exit
// code 4"; the remaining codes are this command's own operational surface).
const (
	exitOK                    = 0
	exitConfigError           = 1
	exitAuditIntegrityFailed  = 2
	exitStateStoreUnavailable = 3
	exitFatalInvariant        = 4
)

func main() {
	os.Exit(run())
}

func run() (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "orchestratord: fatal invariant violation: %v\n", r)
			code = exitFatalInvariant
		}
	}()

	shutdownTracing := setupTracing()
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, "orchestratord: shutdown tracer provider:", err)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "orchestratord:", err)
		return exitCodeFor(err)
	}
	return exitOK
}
