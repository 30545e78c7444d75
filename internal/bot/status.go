package bot

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"polyarb/pkg/types"
)

// FormatStatus renders a human-readable snapshot of the bot state, suitable
// for periodic logging or a status command reading the persisted file.
func FormatStatus(state *types.BotState, now time.Time) string {
	var b strings.Builder

	running := "stopped"
	if state.IsRunning {
		running = "running"
	}
	fmt.Fprintf(&b, "status: %s  balance: $%.2f  realized pnl: %+.2f  wins/losses: %d/%d\n",
		running, state.CurrentBalance, state.TotalRealizedPnL, state.WinCount, state.LossCount)
	fmt.Fprintf(&b, "exposure: $%.2f across %d open positions\n",
		state.OpenExposure(), len(state.OpenPositions))
	if state.LastError != "" {
		fmt.Fprintf(&b, "last error: %s\n", state.LastError)
	}

	if len(state.OpenPositions) == 0 {
		return b.String()
	}

	ids := make([]string, 0, len(state.OpenPositions))
	for id := range state.OpenPositions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	b.WriteString("open positions:\n")
	for _, id := range ids {
		p := state.OpenPositions[id]
		days := p.Expiry.Sub(now).Hours() / 24
		fmt.Fprintf(&b, "  %-5s %s $%.0f %s  %s $%.2f @ %.3f  edge %+.3f  upnl %+.2f  %.0fd\n",
			p.Symbol, p.Direction, p.TargetPrice, p.BetType,
			p.Side, p.Notional, p.EntryPrice, p.CurrentEdge, p.UnrealizedPnL, days)
	}
	return b.String()
}
