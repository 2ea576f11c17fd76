package main

import (
	"context"
	"strings"
)

// runHistoryCommand prints the journaled receipts of one escrow.
func runHistoryCommand(env *cliEnv, args []string) int {
	fs := newFlagSet("history", env)
	id := fs.String("id", "", "escrow identifier")
	limit := fs.Int("limit", 0, "keep only the most recent entries (0 for all)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(env.stderr, "unexpected positional arguments")
	}
	if strings.TrimSpace(*id) == "" {
		return printError(env.stderr, "--id is required")
	}
	if *limit < 0 {
		return printError(env.stderr, "--limit must not be negative")
	}

	l, err := env.openLedger()
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	defer l.Close()
	if l.journal == nil {
		return printError(env.stderr, "receipt journal disabled in configuration")
	}

	entries, err := l.journal.History(context.Background(), strings.TrimSpace(*id), *limit)
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	return printJSON(env, entries)
}
