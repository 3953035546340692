package notify

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// TimeLayout is the detection time format used in messages.
const TimeLayout = "2006-01-02 15:04:05 MST"

// FormatMessage renders opp as a Telegram Markdown message.
func FormatMessage(opp domain.Opportunity, quoteCurrency string) string {
	var b strings.Builder
	b.WriteString("💰 *New arbitrage opportunity*\n\n")
	fmt.Fprintf(&b, "🪙 Pair: `%s/%s`\n", opp.Pair, quoteCurrency)
	fmt.Fprintf(&b, "⏰ Detected: %s\n\n", opp.DetectedAt.UTC().Format(TimeLayout))
	fmt.Fprintf(&b, "🏦 Buy price (%s): %s\n", opp.BuyExchange, formatAmount(opp.BuyPrice))
	fmt.Fprintf(&b, "🏦 Sell price (%s): %s\n\n", opp.SellExchange, formatAmount(opp.SellPrice))
	fmt.Fprintf(&b, "📈 Difference: %s %s\n", formatAmount(opp.AbsoluteDiff), quoteCurrency)
	fmt.Fprintf(&b, "📊 Percent: %s%%\n", decimal.NewFromFloat(opp.PercentDiff).StringFixed(2))
	fmt.Fprintf(&b, "🔁 Route: %s", opp.Direction())
	return b.String()
}

// FormatBatch joins the messages of a batch, separated by blank lines.
func FormatBatch(opps []domain.Opportunity, quoteCurrency string) string {
	parts := make([]string, len(opps))
	for i, opp := range opps {
		parts[i] = FormatMessage(opp, quoteCurrency)
	}
	return strings.Join(parts, "\n\n")
}

// formatAmount rounds to whole units and groups thousands: 6560000000.4 ->
// "6,560,000,000".
func formatAmount(v float64) string {
	s := decimal.NewFromFloat(v).Round(0).String()
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String()
}
