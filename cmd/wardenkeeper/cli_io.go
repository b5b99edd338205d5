package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ligun0805/warden-keeper/internal/account"
	"github.com/ligun0805/warden-keeper/internal/config"
	"github.com/ligun0805/warden-keeper/internal/keeper"
)

// maskToken keeps the head and tail of a secret-like string.
func maskToken(h string) string {
	h = strings.TrimSpace(h)
	if len(h) <= 16 {
		return "***"
	}
	return h[:10] + "…" + h[len(h)-6:]
}

func renderAccounts(w io.Writer, accounts []account.Account) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"#", "Credential", "Name", "Points", "Created", "Status"})
	for _, a := range accounts {
		name, points, created := "-", "-", "-"
		if a.Metadata != nil {
			name, points, created = a.Metadata.DisplayName, a.Metadata.PointTotal, a.Metadata.CreatedAt
		}
		tw.AppendRow(table.Row{a.Index + 1, maskToken(a.Credential), name, points, created, a.Status})
	}
	tw.AppendFooter(table.Row{"", fmt.Sprintf("%d accounts", len(accounts))})
	tw.Render()
}

func renderStats(w io.Writer, stats map[account.Status]int) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Status", "Accounts"})
	total := 0
	for _, st := range account.All {
		tw.AppendRow(table.Row{st, stats[st]})
		total += stats[st]
	}
	tw.AppendFooter(table.Row{"total", total})
	tw.Render()
	fmt.Fprintln(w, keeper.FormatStats(stats))
}

func printConfig(w io.Writer, st config.Settings) {
	fmt.Fprintln(w, "=== CONFIG (.env) ===")
	fmt.Fprintln(w, "ACCOUNTS_FILE     :", st.AccountsFile)
	fmt.Fprintln(w, "PRIVATE_KEYS_FILE :", st.PrivateKeysFile)
	fmt.Fprintln(w, "PROXIES_FILE      :", st.ProxiesFile)
	fmt.Fprintln(w, "USE_PROXY         :", st.UseProxy)
	fmt.Fprintln(w, "API_BASE_URL      :", st.APIBaseURL)
	fmt.Fprintln(w, "AUTH_BASE_URL     :", st.AuthBaseURL)
	fmt.Fprintln(w, "PRIVY_APP_ID      :", maskToken(st.PrivyAppID))
	fmt.Fprintln(w, "CHAIN_ID          :", st.ChainID)
	fmt.Fprintln(w, "MAX_RETRIES       :", st.MaxRetries)
	fmt.Fprintln(w, "BASE_DELAY        :", st.BaseDelay)
	fmt.Fprintln(w, "STAGGER           :", st.Stagger)
	fmt.Fprintln(w, "MAX_WORKERS       :", st.MaxWorkers)
	fmt.Fprintln(w, "HTTP_TIMEOUT      :", st.HTTPTimeout)
	fmt.Fprintln(w, "=====================")
}
