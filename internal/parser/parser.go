// Package parser extracts candidate incoming transfers from notification text.
//
// The parser is stateless and knows nothing about open payment requests: it
// returns each transfer's amount together with the remainder of its line, and
// leaves verification-code matching to the matcher.
package parser

import (
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"payment_reconciliation/internal/domain"
	"payment_reconciliation/internal/money"
	"payment_reconciliation/internal/textnorm"
)

// Parser holds formatting defaults only; it is safe for concurrent use.
type Parser struct {
	defaultCurrency string
	loc             *time.Location
}

type Option func(*Parser)

// WithLocation sets the zone used for timestamps that carry no offset.
func WithLocation(loc *time.Location) Option {
	return func(p *Parser) {
		if loc != nil {
			p.loc = loc
		}
	}
}

// New returns a parser that assumes defaultCurrency for signed amounts
// carrying no currency marker.
func New(defaultCurrency string, opts ...Option) *Parser {
	p := &Parser{
		defaultCurrency: strings.ToUpper(defaultCurrency),
		loc:             time.UTC,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// amountPattern matches an optionally signed number with optional thousands
// grouping and decimal part, surrounded by an optional currency marker. The
// token must open the line or follow a character that is neither a letter
// nor a digit, so markers and digits inside words (CORP, XRP42K) never count.
// Text is folded first, so "đ" arrives here as a bare "d" suffix.
var amountPattern = regexp.MustCompile(
	`(?i)(?:^|(?P<lead>[^\p{L}\p{N}]))` +
		`(?P<tok>(?P<sign>[+-])?(?P<pre>(?:\$|€|rp\.?|usd|vnd|idr|eur)\s*)?` +
		`(?P<num>\d{1,3}(?:[.,]\d{3})+(?:[.,]\d{1,2})?|\d+(?:[.,]\d{1,2})?)` +
		`(?:\s*(?P<suf>(?:vnd|usd|idr|eur|rp|dong)\b)|(?P<dong>d)\b|\s*(?P<sym>₫|€|\$))?)`,
)

var debitPattern = regexp.MustCompile(`(?i)\b(debit|withdrawal|ghi no|tru)\b`)

var markerCurrency = map[string]string{
	"$": "USD", "€": "EUR", "rp": "IDR", "rp.": "IDR",
	"usd": "USD", "vnd": "VND", "idr": "IDR", "eur": "EUR",
	"d": "VND", "₫": "VND", "dong": "VND",
}

// Parse returns every incoming transfer found in text. It never fails:
// lines without a monetary token, debits, and amounts the currency cannot
// represent are skipped.
func (p *Parser) Parse(text string) []domain.ParsedEntry {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if looksLikeOFX(text) {
		if entries, err := p.parseOFX(text); err == nil {
			return entries
		}
	}

	var entries []domain.ParsedEntry
	for _, line := range strings.Split(text, "\n") {
		if entry, ok := p.parseLine(line); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

func (p *Parser) parseLine(raw string) (domain.ParsedEntry, bool) {
	line := strings.TrimSpace(textnorm.Fold(raw))
	if line == "" {
		return domain.ParsedEntry{}, false
	}

	// Dates look like numbers; remove them before hunting for the amount.
	occurredAt, span := findTimestamp(line, p.loc)
	scan := line
	if span != nil {
		scan = line[:span[0]] + strings.Repeat(" ", span[1]-span[0]) + line[span[1]:]
	}

	tok, ok := pickAmount(scan)
	if !ok {
		return domain.ParsedEntry{}, false
	}
	if tok.sign() == "-" || debitPattern.MatchString(line) {
		return domain.ParsedEntry{}, false
	}
	currency, _ := tok.currency()
	if currency == "" {
		currency = p.defaultCurrency
	}

	value, err := normalizeNumber(tok.group("num"))
	if err != nil {
		return domain.ParsedEntry{}, false
	}
	minor, err := money.ToMinor(value, currency)
	if err != nil || minor <= 0 {
		return domain.ParsedEntry{}, false
	}

	start, end := tok.span()
	remainder := strings.TrimSpace(collapseSpaces(line[:start] + " " + line[end:]))
	return domain.ParsedEntry{
		Amount:     minor,
		Currency:   currency,
		Reference:  remainder,
		OccurredAt: occurredAt,
		RawText:    strings.TrimSpace(raw),
	}, true
}

// pickAmount chooses the monetary token of a line: the first signed one, or
// failing that the first one carrying a currency marker. Bare numbers
// (account numbers, OTPs) never qualify.
func pickAmount(line string) (token, bool) {
	var marked *token
	for _, m := range amountPattern.FindAllStringSubmatchIndex(line, -1) {
		tok := token{line: line, idx: m}
		if !tok.closed() {
			continue
		}
		if tok.sign() != "" {
			return tok, true
		}
		if _, ok := tok.currency(); ok && marked == nil {
			marked = &tok
		}
	}
	if marked == nil {
		return token{}, false
	}
	return *marked, true
}

type token struct {
	line string
	idx  []int
}

func (t token) group(name string) string {
	i := amountPattern.SubexpIndex(name)
	if i < 0 || t.idx[2*i] < 0 {
		return ""
	}
	return t.line[t.idx[2*i]:t.idx[2*i+1]]
}

// currency resolves the marker attached to the token; marked reports whether
// any marker was present at all.
func (t token) currency() (string, bool) {
	for _, name := range []string{"pre", "suf", "dong", "sym"} {
		if m := strings.ToLower(strings.TrimSpace(t.group(name))); m != "" {
			return markerCurrency[m], true
		}
	}
	return "", false
}

// sign returns "+" or "-" only when the sign opens the line or follows
// whitespace. A hyphen glued to a preceding word is a separator.
func (t token) sign() string {
	s := t.group("sign")
	if s == "" {
		return ""
	}
	if lead := t.group("lead"); lead != "" && !unicode.IsSpace([]rune(lead)[0]) {
		return ""
	}
	return s
}

// span is the byte range of the token without its leading separator.
func (t token) span() (int, int) {
	i := amountPattern.SubexpIndex("tok")
	return t.idx[2*i], t.idx[2*i+1]
}

// closed reports whether the token ends at a word boundary, so the leading
// digits of "150000abc" or "7DHX4K" are not read as an amount.
func (t token) closed() bool {
	_, end := t.span()
	if end >= len(t.line) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(t.line[end:])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// normalizeNumber resolves thousands and decimal separators. A final
// separator followed by one or two digits is the decimal point; every other
// separator groups thousands.
func normalizeNumber(num string) (decimal.Decimal, error) {
	last := strings.LastIndexAny(num, ".,")
	if last >= 0 && len(num)-last-1 <= 2 {
		intPart := strings.NewReplacer(".", "", ",", "").Replace(num[:last])
		return decimal.NewFromString(intPart + "." + num[last+1:])
	}
	return decimal.NewFromString(strings.NewReplacer(".", "", ",", "").Replace(num))
}

var spaceRun = regexp.MustCompile(`\s+`)

func collapseSpaces(s string) string {
	return spaceRun.ReplaceAllString(s, " ")
}
