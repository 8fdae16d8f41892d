// Package textnorm folds notification text into a comparable form.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Fold converts full-width characters to their narrow forms and strips
// diacritics, so "１５０.０００ Đồng" becomes "150.000 Dong".
func Fold(s string) string {
	t := transform.Chain(
		width.Fold,
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Map(func(r rune) rune {
			switch r {
			case 'đ':
				return 'd'
			case 'Đ':
				return 'D'
			}
			return r
		}),
		norm.NFC,
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Key is the case-insensitive form used to compare verification codes with
// free text.
func Key(s string) string {
	return strings.ToUpper(Fold(s))
}
