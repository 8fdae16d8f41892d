package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	httpd "payment_reconciliation/internal/delivery/http"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow, color.Bold)
	red    = color.New(color.FgRed)
)

func header(w io.Writer, text string) {
	green.Fprintf(w, "%s\n%s\n", text, strings.Repeat("=", len(text)))
}

func info(w io.Writer, text string) {
	fmt.Fprintf(w, "  → %s\n", text)
}

func warning(w io.Writer, text string) {
	yellow.Fprintf(w, "  ⚠ %s\n", text)
}

func printTx(w io.Writer, t httpd.TxItem) {
	fmt.Fprintf(w, "  %s  %-8s %-10s %12s %-3s  order %s  until %s\n",
		t.ID, t.VerificationCode, t.Status, t.Amount, t.Currency, t.OrderRef, t.Deadline.Local().Format("15:04:05"))
}

func printSummary(w io.Writer, s httpd.SummaryResp) {
	header(w, fmt.Sprintf("%d parsed", s.Parsed))
	green.Fprintf(w, "  matched          %d\n", s.Matched)
	fmt.Fprintf(w, "  already resolved %d\n", s.AlreadyResolved)
	fmt.Fprintf(w, "  no match         %d\n", s.NoMatch)
	if s.Ambiguous > 0 {
		yellow.Fprintf(w, "  ambiguous        %d\n", s.Ambiguous)
	} else {
		fmt.Fprintf(w, "  ambiguous        %d\n", s.Ambiguous)
	}

	for _, o := range s.Outcomes {
		switch o.Kind {
		case "matched":
			green.Fprintf(w, "  ✓ %s %s → %s\n", o.Amount, o.Reference, o.TransactionID)
		case "ambiguous":
			yellow.Fprintf(w, "  ? %s %s → %s\n", o.Amount, o.Reference, strings.Join(o.Candidates, ", "))
		case "already-resolved":
			fmt.Fprintf(w, "  = %s %s → %s (%s)\n", o.Amount, o.Reference, o.TransactionID, o.Status)
		}
	}
}

func printResolution(w io.Writer, r httpd.ResolutionResp) {
	if r.OK {
		green.Fprintf(w, "  → %s %s by %s\n", r.Transaction.ID, r.Transaction.Status, r.Transaction.Operator)
		return
	}
	red.Fprintf(w, "Error: %s was already %s (%s)\n", r.Transaction.ID, r.Transaction.Status, r.Transaction.ResolvedBy)
}
