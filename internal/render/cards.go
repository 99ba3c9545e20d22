// Package render maps alert variants to Feishu interactive card payloads.
// Monitors stay presentation-free: they build domain.Alert values and this
// package owns the wire card layout.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidewatch/futuresmon/internal/domain"
	"github.com/tidewatch/futuresmon/internal/notify"
	"github.com/tidewatch/futuresmon/internal/timeutil"
)

const timeLayout = "2006-01-02 15:04:05"

// Card renders an alert into the webhook envelope for its kind.
func Card(a domain.Alert) notify.Payload {
	switch a.Kind {
	case domain.AlertLifecycle:
		return interactive(card("blue", "🛰️ Futures Monitor", markdown(a.Text), footer(a)))
	case domain.AlertError:
		return interactive(card("red", "❗ Monitor Error", markdown("```\n"+a.Text+"\n```"), footer(a)))
	case domain.AlertPosition:
		return positionCard(a)
	case domain.AlertMarket:
		return marketCard(a)
	case domain.AlertOrder:
		return orderCard(a)
	case domain.AlertExchange:
		return exchangeCard(a)
	}
	return interactive(card("grey", "Notification", markdown(a.Text), footer(a)))
}

// Lifecycle builds the delivery-channel open/close card factory for one
// channel name.
func Lifecycle(name string) func(opened bool) notify.Payload {
	return func(opened bool) notify.Payload {
		a := domain.NewAlert(domain.AlertLifecycle)
		if opened {
			a.Text = fmt.Sprintf("**%s** channel online", name)
		} else {
			a.Text = fmt.Sprintf("**%s** channel shutting down", name)
		}
		return Card(a)
	}
}

func positionCard(a domain.Alert) notify.Payload {
	var b strings.Builder
	b.WriteString("**Summary**\n")
	b.WriteString("指标 | 名义价值 | 未实现盈亏 | 1h盈亏 | 回撤\n---|---|---|---|---\n")
	for _, r := range a.Position.Summary {
		pnl1h := "--"
		if r.HasPnL1h {
			pnl1h = r.PnL1h.StringFixed(2)
		}
		dd := "--"
		if r.HasDrawdown {
			dd = fmt.Sprintf("%.2f%%", r.DrawdownPct)
		}
		fmt.Fprintf(&b, "%s | %s | %s | %s | %s\n",
			r.Indicator, r.Notional.StringFixed(2), r.UnrealizedProfit.StringFixed(2), pnl1h, dd)
	}
	if len(a.Position.Positions) > 0 {
		b.WriteString("\n**Positions**\n")
		b.WriteString("持仓 | 名义 | 占比 | 未实现 | 1h | 12h\n---|---|---|---|---|---\n")
		for _, r := range a.Position.Positions {
			fmt.Fprintf(&b, "%s | %s | %.1f%% | %s (%.2f%%) | %s | %s\n",
				sideSymbol(r.Short, r.Symbol),
				r.Notional.StringFixed(2), r.NotionalPct,
				r.UnrealizedProfit.StringFixed(2), r.UnrealizedProfitPct,
				pct(r.Change1hPct, r.HasChange1h), pct(r.Change12hPct, r.HasChange12h))
		}
	}
	elements := []any{markdown(b.String())}
	if a.MentionAll {
		elements = append(elements, markdown(`<at id="all"></at> drawdown threshold breached`))
	}
	elements = append(elements, footer(a))
	return interactive(card("green", "📊 Position Report", elements...))
}

func marketCard(a domain.Alert) notify.Payload {
	var b strings.Builder
	b.WriteString("品种 | 窗口 | 涨跌\n---|---|---\n")
	for _, r := range a.Market.Rows {
		sym := timeutil.FormatSymbol(r.Symbol)
		if r.Held {
			sym = sideSymbol(r.Short, r.Symbol)
		}
		fmt.Fprintf(&b, "%s | %s | %+.2f%%\n",
			sym, timeutil.FormatMillis(r.Window.Milliseconds()), r.ChangePct)
	}
	elements := []any{markdown(b.String())}
	if a.MentionAll {
		elements = append(elements, markdown(`<at id="all"></at> held instrument moved`))
	}
	elements = append(elements, footer(a))
	return interactive(card("orange", "📈 Market Moves", elements...))
}

func orderCard(a domain.Alert) notify.Payload {
	var b strings.Builder
	b.WriteString("方向 | 品种 | 数量 | 价格 | 滑点 | 手续费 | 已实现 | 成交 | 延迟 | 角色 | 状态\n")
	b.WriteString("---|---|---|---|---|---|---|---|---|---|---\n")
	for _, r := range a.Order.Rows {
		latency := "--"
		if r.Latency >= 0 {
			latency = timeutil.FormatMillis(r.Latency)
		}
		role := "TAKER"
		if r.Maker {
			role = "MAKER"
		}
		fmt.Fprintf(&b, "%s | %s | %s | %s | %s (%.3f%%) | %s | %s | %.1f%% | %s | %s | %s\n",
			sideArrow(r.Side), timeutil.FormatSymbol(r.Symbol),
			r.LastQty.String(), r.LastPrice.String(),
			r.Slippage.String(), r.SlippagePct,
			r.Commission.String(), r.RealizedPnL.StringFixed(4),
			r.FilledPct, latency, role, r.Status)
	}
	return interactive(card("turquoise", "🧾 Order Activity", markdown(b.String()), footer(a)))
}

func exchangeCard(a domain.Alert) notify.Payload {
	var b strings.Builder
	b.WriteString("品种 | 状态 | 上线 | 下线\n---|---|---|---\n")
	for _, r := range a.Exchange.Rows {
		sym := timeutil.FormatSymbol(r.Symbol)
		if r.Held {
			sym = sideSymbol(r.Short, r.Symbol)
		}
		fmt.Fprintf(&b, "%s | %s | %s | %s\n",
			sym, r.Status, formatMillisDate(r.OnboardDate), formatMillisDate(r.DeliveryDate))
	}
	elements := []any{markdown(b.String())}
	if a.MentionAll {
		elements = append(elements, markdown(`<at id="all"></at> held instrument listing change`))
	}
	elements = append(elements, footer(a))
	return interactive(card("purple", "🏛️ Instrument Changes", elements...))
}

// ---------------------------------------------------------------------------
// Card building blocks
// ---------------------------------------------------------------------------

func interactive(card map[string]any) notify.Payload {
	return notify.Payload{"msg_type": "interactive", "card": card}
}

func card(color, title string, elements ...any) map[string]any {
	return map[string]any{
		"config": map[string]any{"wide_screen_mode": true},
		"header": map[string]any{
			"template": color,
			"title":    map[string]any{"tag": "plain_text", "content": title},
		},
		"elements": elements,
	}
}

func markdown(content string) map[string]any {
	return map[string]any{"tag": "markdown", "content": content}
}

func footer(a domain.Alert) map[string]any {
	return map[string]any{
		"tag": "note",
		"elements": []any{
			map[string]any{
				"tag":     "plain_text",
				"content": fmt.Sprintf("%s · %s", a.At.Format(timeLayout), a.ID[:8]),
			},
		},
	}
}

func sideSymbol(short bool, symbol string) string {
	if short {
		return "<font color='red'>空</font> " + timeutil.FormatSymbol(symbol)
	}
	return "<font color='green'>多</font> " + timeutil.FormatSymbol(symbol)
}

func sideArrow(side string) string {
	if side == "BUY" {
		return "<font color='green'>买</font>"
	}
	return "<font color='red'>卖</font>"
}

func pct(v float64, ok bool) string {
	if !ok {
		return "--"
	}
	return fmt.Sprintf("%+.2f%%", v)
}

func formatMillisDate(ms int64) string {
	if ms <= 0 {
		return "--"
	}
	return time.UnixMilli(ms).UTC().Format("2006-01-02")
}
