// Package report renders backtest results for terminals and files.
package report

import (
	"fmt"
	"math"
	"strings"
)

// FormatInt formats an integer with comma separators.
func FormatInt(n int) string {
	if n < 0 {
		return "-" + FormatInt(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	start := len(s) % 3
	if start > 0 {
		b.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatMoney formats a cash amount with comma separators and cents.
func FormatMoney(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	cents := int(math.Round(v * 100))
	return fmt.Sprintf("%s%s.%02d", sign, FormatInt(cents/100), cents%100)
}

// FormatPct formats a fraction as a signed percentage, or "-" if undefined.
func FormatPct(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "-"
	}
	return fmt.Sprintf("%+.2f%%", f*100)
}

// FormatRatio formats a dimensionless statistic. Infinite values print as
// "inf" and undefined ones as "-".
func FormatRatio(r float64) string {
	switch {
	case math.IsNaN(r):
		return "-"
	case math.IsInf(r, 1):
		return "inf"
	case math.IsInf(r, -1):
		return "-inf"
	}
	return fmt.Sprintf("%.2f", r)
}

// FormatQty formats a share quantity without trailing zeros.
func FormatQty(q float64) string {
	if q == math.Trunc(q) && math.Abs(q) < 1e15 {
		return FormatInt(int(q))
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", q), "0"), ".")
}
