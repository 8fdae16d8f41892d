package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"payment_reconciliation/internal/money"
	"payment_reconciliation/internal/parser"
)

func readInput(path string, stdin io.Reader) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

func parseCmd() *cobra.Command {
	var currency string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "parse [file|-]",
		Short: "Show the transfers a statement or notification would yield, without a server",
		Long: `Parse a statement, SMS dump or OFX file locally and list every incoming
transfer found. Nothing is matched or resolved.

Examples:
  reconcilectl parse statement.txt
  reconcilectl parse export.ofx --currency USD
  pbpaste | reconcilectl parse - --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}

			entries := parser.New(currency).Parse(text)
			out := cmd.OutOrStdout()

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			if len(entries) == 0 {
				warning(out, "no incoming transfers found")
				return nil
			}
			header(out, fmt.Sprintf("%d incoming transfers", len(entries)))
			for _, e := range entries {
				when := "-"
				if !e.OccurredAt.IsZero() {
					when = e.OccurredAt.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(out, "  %-16s %14s %-3s  %s\n", when, money.FormatMinor(e.Amount, e.Currency), e.Currency, e.Reference)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&currency, "currency", "c", "VND", "currency assumed for amounts without a marker")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [file|-]",
		Short: "Submit notification text to the service for matching",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFrom(cmd)
			if err != nil {
				return err
			}
			text, err := readInput(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}

			summary, err := c.ingest(cmd.Context(), text)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}
}

func openCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open",
		Short: "List open payment requests, earliest deadline first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFrom(cmd)
			if err != nil {
				return err
			}
			txs, err := c.listOpen(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(txs) == 0 {
				info(out, "no open payment requests")
				return nil
			}
			header(out, fmt.Sprintf("%d open", len(txs)))
			for _, t := range txs {
				printTx(out, t)
			}
			return nil
		},
	}
}

func confirmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm [id]",
		Short: "Confirm a payment request by hand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFrom(cmd)
			if err != nil {
				return err
			}
			res, err := c.resolve(cmd.Context(), args[0], "confirm", "")
			if err != nil {
				return err
			}
			printResolution(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func rejectCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reject [id]",
		Short: "Reject a payment request by hand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(reason) == "" {
				return fmt.Errorf("--reason is required")
			}
			c, err := clientFrom(cmd)
			if err != nil {
				return err
			}
			res, err := c.resolve(cmd.Context(), args[0], "reject", reason)
			if err != nil {
				return err
			}
			printResolution(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&reason, "reason", "r", "", "why the payment is rejected")
	return cmd
}
