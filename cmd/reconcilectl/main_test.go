package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpd "payment_reconciliation/internal/delivery/http"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "statement.txt")
	require.NoError(t, os.WriteFile(path, []byte("2024-03-15 10:01 +150,000 VND CK DH42\n2024-03-15 10:05 -20,000 VND phi"), 0o644))

	out, err := run(t, "", "parse", path)
	require.NoError(t, err)
	assert.Contains(t, out, "1 incoming transfers")
	assert.Contains(t, out, "150000")
	assert.Contains(t, out, "DH42")

	out, err = run(t, "nothing to see", "parse", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "no incoming transfers found")

	_, err = run(t, "", "parse", filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestParseCommand_JSON(t *testing.T) {
	out, err := run(t, "Received $12.50 memo XK9P", "parse", "-", "--json")
	require.NoError(t, err)

	var entries []struct {
		Amount   int64
		Currency string
	}
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1250), entries[0].Amount)
	assert.Equal(t, "USD", entries[0].Currency)
}

func TestIngestCommand(t *testing.T) {
	var gotToken, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/operator/ingest", r.URL.Path)
		gotToken = r.Header.Get("X-Operator-Token")
		var req httpd.IngestReq
		json.NewDecoder(r.Body).Decode(&req)
		gotText = req.Text
		json.NewEncoder(w).Encode(httpd.SummaryResp{
			Parsed:  1,
			Matched: 1,
			Outcomes: []httpd.OutcomeItem{
				{Kind: "matched", Amount: "150000", Reference: "DH42", TransactionID: "tx-1", Status: "confirmed"},
			},
		})
	}))
	defer srv.Close()

	out, err := run(t, "+150,000 VND DH42", "ingest", "-", "--server", srv.URL, "--token", "tok-alice")
	require.NoError(t, err)
	assert.Equal(t, "tok-alice", gotToken)
	assert.Equal(t, "+150,000 VND DH42", gotText)
	assert.Contains(t, out, "matched          1")
	assert.Contains(t, out, "tx-1")
}

func TestRejectCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/operator/transactions/missing/reject" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "transaction not found"})
			return
		}
		var req httpd.RejectReq
		json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "duplicate", req.Reason)
		json.NewEncoder(w).Encode(httpd.ResolutionResp{
			OK:          false,
			Transaction: httpd.TxItem{ID: "tx-1", Status: "confirmed", ResolvedBy: "automatic-match"},
		})
	}))
	defer srv.Close()

	_, err := run(t, "", "reject", "tx-1", "--server", srv.URL, "--token", "tok")
	assert.ErrorContains(t, err, "--reason is required")

	out, err := run(t, "", "reject", "tx-1", "--reason", "duplicate", "--server", srv.URL, "--token", "tok")
	require.NoError(t, err)
	assert.Contains(t, out, "already confirmed")

	_, err = run(t, "", "reject", "missing", "--reason", "x", "--server", srv.URL, "--token", "tok")
	assert.ErrorContains(t, err, "transaction not found")
}

func TestCommandsRequireToken(t *testing.T) {
	t.Setenv("RECONCILE_TOKEN", "")
	_, err := run(t, "", "open", "--server", "http://127.0.0.1:1")
	assert.ErrorContains(t, err, "operator token required")
}
