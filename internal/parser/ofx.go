package parser

import (
	"fmt"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"payment_reconciliation/internal/domain"
	"payment_reconciliation/internal/money"
)

// looksLikeOFX inspects the head of the blob for OFX/QFX markers.
func looksLikeOFX(text string) bool {
	head := text
	if len(head) > 512 {
		head = head[:512]
	}
	head = strings.ToUpper(head)
	return strings.Contains(head, "OFXHEADER") ||
		strings.Contains(head, "<?OFX") ||
		strings.Contains(head, "<OFX>")
}

// parseOFX turns the credit transactions of an OFX bank or card statement
// into entries. Errors mean the blob is not usable OFX; the caller then falls
// back to line parsing.
func (p *Parser) parseOFX(text string) ([]domain.ParsedEntry, error) {
	resp, err := ofxgo.ParseResponse(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX statement (%d bytes): %w", len(text), err)
	}

	var entries []domain.ParsedEntry
	for _, msg := range resp.Bank {
		stmt, ok := msg.(*ofxgo.StatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		entries = append(entries, p.ofxEntries(stmt.BankTranList, stmt.CurDef.String())...)
	}
	for _, msg := range resp.CreditCard {
		stmt, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		entries = append(entries, p.ofxEntries(stmt.BankTranList, stmt.CurDef.String())...)
	}

	if len(resp.Bank) == 0 && len(resp.CreditCard) == 0 {
		return nil, fmt.Errorf("no bank or credit card statement in OFX response")
	}
	return entries, nil
}

func (p *Parser) ofxEntries(list *ofxgo.TransactionList, currency string) []domain.ParsedEntry {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" || currency == "XXX" {
		currency = p.defaultCurrency
	}

	entries := make([]domain.ParsedEntry, 0, len(list.Transactions))
	for _, txn := range list.Transactions {
		// Outgoing money can never settle a payment request.
		if txn.TrnAmt.Rat.Sign() <= 0 {
			continue
		}
		value, err := decimal.NewFromString(txn.TrnAmt.Rat.FloatString(4))
		if err != nil {
			continue
		}
		minor, err := money.ToMinor(value, currency)
		if err != nil {
			continue
		}

		name := strings.TrimSpace(txn.Name.String())
		memo := strings.TrimSpace(txn.Memo.String())

		entries = append(entries, domain.ParsedEntry{
			Amount:     minor,
			Currency:   currency,
			Reference:  strings.TrimSpace(name + " " + memo),
			OccurredAt: txn.DtPosted.Time,
			RawText:    fmt.Sprintf("%s %s %s %s", txn.FiTID.String(), txn.TrnAmt.Rat.FloatString(2), name, memo),
		})
	}
	return entries
}
