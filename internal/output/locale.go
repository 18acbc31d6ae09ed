package output

import (
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Locale formats numbers with the user's grouping and decimal separators.
type Locale struct {
	tag     language.Tag
	printer *message.Printer
}

// DetectLocale resolves the locale from LC_ALL, LC_NUMERIC or LANG,
// falling back to en-US.
func DetectLocale() Locale {
	for _, env := range []string{"LC_ALL", "LC_NUMERIC", "LANG"} {
		if v := os.Getenv(env); v != "" {
			return NewLocale(v)
		}
	}
	return NewLocale("")
}

// NewLocale parses a POSIX ("de_DE.UTF-8") or BCP 47 ("de-DE") locale.
func NewLocale(raw string) Locale {
	if i := strings.IndexByte(raw, '.'); i != -1 {
		raw = raw[:i]
	}
	raw = strings.ReplaceAll(raw, "_", "-")

	tag, _ := language.Parse(raw)
	if tag == language.Und {
		tag = language.AmericanEnglish
	}
	return Locale{tag: tag, printer: message.NewPrinter(tag)}
}

// FormatInt formats n with digit grouping.
func (l Locale) FormatInt(n int) string {
	return l.printer.Sprint(number.Decimal(n))
}

// FormatPercent formats a 0..1 ratio as a percentage.
func (l Locale) FormatPercent(ratio float64) string {
	return l.printer.Sprint(number.Percent(ratio, number.MaxFractionDigits(1)))
}

func (l Locale) Tag() language.Tag { return l.tag }
