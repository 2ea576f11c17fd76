package main

import (
	"fmt"
	"strings"

	"escrowchain/native/escrow"
)

// runGetCommand prints one record: get <kind> <id>.
func runGetCommand(env *cliEnv, args []string) int {
	if len(args) != 2 {
		return printError(env.stderr, "usage: get <escrow|title|buyer|seller|buyerbank|sellerbank> <id>")
	}
	kind, err := escrow.ParseRecordKind(args[0])
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	id := strings.TrimSpace(args[1])
	if id == "" {
		return printError(env.stderr, "id must not be empty")
	}

	l, err := env.openLedger()
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	defer l.Close()

	var record interface{}
	switch {
	case kind == escrow.KindEscrow:
		record, err = l.state.Escrows().Get(id)
	case kind == escrow.KindTitle:
		record, err = l.state.Titles().Get(id)
	case kind.IsParticipant():
		record, err = l.state.Participants(kind).Get(id)
	default:
		err = fmt.Errorf("unsupported record kind %s", kind)
	}
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	return printJSON(env, record)
}
