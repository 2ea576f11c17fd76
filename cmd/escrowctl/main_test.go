package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"escrowchain/core"
	"escrowchain/journal"
	"escrowchain/native/escrow"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "escrow.toml")
	contents := fmt.Sprintf(`ServiceName = "escrowctl-test"
Environment = "test"
LogLevel = "error"
DataDir = %q
Backend = "leveldb"
MetricsEnabled = true
`, filepath.Join(dir, "data"))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func runCLI(t *testing.T, cfgPath string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(append([]string{"--config", cfgPath}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Equal(t, 1, run(nil, &stdout, &stderr))
	require.Contains(t, stderr.String(), "Usage:")

	stderr.Reset()
	require.Equal(t, 1, run([]string{"mint"}, &stdout, &stderr))
	require.Contains(t, stderr.String(), "Unknown command: mint")
}

func TestFlagValidation(t *testing.T) {
	cfg := writeTestConfig(t)
	cases := []struct {
		name string
		args []string
		want string
	}{
		{"setup missing number", []string{"setup-demo"}, "--number is required"},
		{"start missing title", []string{"start", "--buyer", "1"}, "--title is required"},
		{"deposit missing id", []string{"buyer-deposit", "--amount", "1"}, "--id is required"},
		{"deposit missing amount", []string{"buyer-deposit", "--id", "1"}, "--amount is required"},
		{"deposit bad amount", []string{"bank-deposit", "--id", "1", "--amount", "lots"}, "invalid --amount"},
		{"approve missing id", []string{"approve"}, "--id is required"},
		{"get wrong arity", []string{"get", "escrow"}, "usage: get"},
		{"get bad kind", []string{"get", "broker", "1"}, "unknown record kind"},
		{"history missing id", []string{"history"}, "--id is required"},
		{"history negative limit", []string{"history", "--id", "1", "--limit", "-1"}, "--limit must not be negative"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, _, stderr := runCLI(t, cfg, tc.args...)
			require.Equal(t, 1, code)
			require.Contains(t, stderr, tc.want)
		})
	}
}

func TestDemoLifecycle(t *testing.T) {
	cfg := writeTestConfig(t)

	code, stdout, stderr := runCLI(t, cfg, "setup-demo", "--number", "42")
	require.Equal(t, 0, code, stderr)
	var receipt core.Receipt
	require.NoError(t, json.Unmarshal([]byte(stdout), &receipt))
	require.Equal(t, "42", receipt.EscrowID)

	steps := [][]string{
		{"buyer-deposit", "--id", "42", "--amount", "20000"},
		{"bank-deposit", "--id", "42", "--amount", "380000"},
		{"approve", "--id", "42"},
		{"withdraw-mortgage", "--id", "42", "--amount", "380000"},
		{"transfer-title", "--id", "42"},
	}
	for _, step := range steps {
		code, _, stderr := runCLI(t, cfg, step...)
		require.Equal(t, 0, code, "%s: %s", step[0], stderr)
	}

	code, stdout, stderr = runCLI(t, cfg, "get", "escrow", "42")
	require.Equal(t, 0, code, stderr)
	var esc escrow.Escrow
	require.NoError(t, json.Unmarshal([]byte(stdout), &esc))
	require.Equal(t, escrow.StatusDelivered, esc.Status)

	code, stdout, stderr = runCLI(t, cfg, "get", "buyer", "42")
	require.Equal(t, 0, code, stderr)
	var buyer escrow.Participant
	require.NoError(t, json.Unmarshal([]byte(stdout), &buyer))
	require.True(t, buyer.Balance.Equal(decimal.RequireFromString("80000")), buyer.Balance.String())

	code, stdout, stderr = runCLI(t, cfg, "get", "title", "42")
	require.Equal(t, 0, code, stderr)
	require.True(t, strings.Contains(stdout, `"buyer"`), stdout)

	code, stdout, stderr = runCLI(t, cfg, "history", "--id", "42")
	require.Equal(t, 0, code, stderr)
	var history []journal.Entry
	require.NoError(t, json.Unmarshal([]byte(stdout), &history))
	require.Len(t, history, 6)
	require.Equal(t, "setupDemo", history[0].Type)
	require.Equal(t, "transferTitle", history[5].Type)
}

func TestRejectedTransitionExitsNonZero(t *testing.T) {
	cfg := writeTestConfig(t)
	code, _, stderr := runCLI(t, cfg, "setup-demo", "--number", "5")
	require.Equal(t, 0, code, stderr)

	code, _, stderr = runCLI(t, cfg, "transfer-title", "--id", "5")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "invalid transaction")

	code, stdout, stderr := runCLI(t, cfg, "get", "escrow", "5")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "STARTED")
}
