package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"escrowchain/core/types"
)

// amountCommands maps CLI verbs onto the amount-bearing transaction types.
var amountCommands = map[string]types.TxType{
	"buyer-deposit":     types.TxTypeBuyerDeposit,
	"bank-deposit":      types.TxTypeBuyerBankDeposit,
	"withdraw-mortgage": types.TxTypeMortgageWithdrawn,
}

var refCommands = map[string]types.TxType{
	"approve":        types.TxTypeBuyerApproved,
	"transfer-title": types.TxTypeTransferTitle,
}

func newFlagSet(name string, env *cliEnv) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	return fs
}

func runSetupDemoCommand(env *cliEnv, args []string) int {
	fs := newFlagSet("setup-demo", env)
	number := fs.String("number", "", "identifier shared by the demo records")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(env.stderr, "unexpected positional arguments")
	}
	if strings.TrimSpace(*number) == "" {
		return printError(env.stderr, "--number is required")
	}
	return env.submit(types.TxTypeSetupDemo, types.SetupDemoData{Number: strings.TrimSpace(*number)})
}

func runStartCommand(env *cliEnv, args []string) int {
	fs := newFlagSet("start", env)
	var data types.StartEscrowData
	fs.StringVar(&data.EscrowID, "id", "", "escrow identifier (generated when empty)")
	fs.StringVar(&data.Title, "title", "", "title identifier")
	fs.StringVar(&data.Buyer, "buyer", "", "buyer identifier")
	fs.StringVar(&data.Seller, "seller", "", "seller identifier")
	fs.StringVar(&data.BuyerBank, "buyer-bank", "", "buyer bank identifier")
	fs.StringVar(&data.SellerBank, "seller-bank", "", "seller bank identifier")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(env.stderr, "unexpected positional arguments")
	}
	required := []struct {
		flag  string
		value string
	}{
		{"--title", data.Title},
		{"--buyer", data.Buyer},
		{"--seller", data.Seller},
		{"--buyer-bank", data.BuyerBank},
		{"--seller-bank", data.SellerBank},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return printError(env.stderr, r.flag+" is required")
		}
	}
	return env.submit(types.TxTypeStartEscrow, data)
}

func runAmountCommand(env *cliEnv, name string, args []string) int {
	typ, ok := amountCommands[name]
	if !ok {
		return printError(env.stderr, "unknown command "+name)
	}
	fs := newFlagSet(name, env)
	id := fs.String("id", "", "escrow identifier")
	amountStr := fs.String("amount", "", "decimal amount")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(env.stderr, "unexpected positional arguments")
	}
	if strings.TrimSpace(*id) == "" {
		return printError(env.stderr, "--id is required")
	}
	if strings.TrimSpace(*amountStr) == "" {
		return printError(env.stderr, "--amount is required")
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(*amountStr))
	if err != nil {
		return printError(env.stderr, fmt.Sprintf("invalid --amount %q", *amountStr))
	}
	return env.submit(typ, types.EscrowAmountData{EscrowID: strings.TrimSpace(*id), Amount: amount})
}

func runRefCommand(env *cliEnv, name string, args []string) int {
	typ, ok := refCommands[name]
	if !ok {
		return printError(env.stderr, "unknown command "+name)
	}
	fs := newFlagSet(name, env)
	id := fs.String("id", "", "escrow identifier")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(env.stderr, "unexpected positional arguments")
	}
	if strings.TrimSpace(*id) == "" {
		return printError(env.stderr, "--id is required")
	}
	return env.submit(typ, types.EscrowRefData{EscrowID: strings.TrimSpace(*id)})
}

// submit applies a single transaction against the configured ledger and prints
// the receipt.
func (env *cliEnv) submit(typ types.TxType, payload interface{}) int {
	tx, err := types.NewTransaction(typ, uint64(time.Now().UnixNano()), payload)
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	l, err := env.openLedger()
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.RequestTimeoutDuration())
	defer cancel()
	receipt, err := l.processor.ApplyTransaction(ctx, tx)
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	return printJSON(env, receipt)
}

func printJSON(env *cliEnv, v interface{}) int {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	fmt.Fprintln(env.stdout, string(encoded))
	return 0
}
