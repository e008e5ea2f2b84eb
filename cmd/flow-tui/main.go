package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-resty/resty/v2"

	"github.com/betbot/copyflow/internal/engine"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	badStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type tickMsg time.Time

type snapshotMsg struct {
	snap *engine.Snapshot
	err  error
}

type model struct {
	client  *resty.Client
	baseURL string

	snap    *engine.Snapshot
	err     error
	lastCmd string
}

func newModel(baseURL string) model {
	return model{
		client:  resty.New().SetTimeout(3 * time.Second),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.fetch, tick())
}

func tick() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) fetch() tea.Msg {
	var snap engine.Snapshot
	resp, err := m.client.R().SetResult(&snap).Get(m.baseURL + "/status")
	if err != nil {
		return snapshotMsg{err: err}
	}
	if resp.StatusCode() != 200 {
		return snapshotMsg{err: fmt.Errorf("status %d", resp.StatusCode())}
	}
	return snapshotMsg{snap: &snap}
}

func (m model) liquidate(mode string) tea.Cmd {
	return func() tea.Msg {
		_, err := m.client.R().
			SetBody(map[string]string{"mode": mode}).
			Post(m.baseURL + "/liquidate")
		if err != nil {
			return snapshotMsg{err: err}
		}
		return tickMsg(time.Now())
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "L":
			m.lastCmd = "liquidate ALL"
			return m, m.liquidate("ALL")
		case "o":
			m.lastCmd = "liquidate LOSING_ONLY"
			return m, m.liquidate("LOSING_ONLY")
		case "n":
			m.lastCmd = "liquidate NONE"
			return m, m.liquidate("NONE")
		}
	case tickMsg:
		return m, tea.Batch(m.fetch, tick())
	case snapshotMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.snap = msg.snap
		}
		return m, nil
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("copyflow") + "  " + labelStyle.Render(m.baseURL) + "\n\n")

	if m.err != nil {
		b.WriteString(badStyle.Render("连接失败: "+m.err.Error()) + "\n")
		b.WriteString(helpStyle.Render("q 退出") + "\n")
		return b.String()
	}
	if m.snap == nil {
		b.WriteString(labelStyle.Render("等待第一个快照…") + "\n")
		return b.String()
	}

	s := m.snap
	state := okStyle.Render("RUNNING")
	if s.Halted {
		state = badStyle.Render("HALTED")
	} else if s.Liquidation != engine.LiquidateNone {
		state = warnStyle.Render("LIQUIDATING " + string(s.Liquidation))
	}
	b.WriteString(fmt.Sprintf("%s  cycle=%d  %s\n", state, s.Cycle,
		labelStyle.Render(s.At.Format("15:04:05"))))

	b.WriteString(fmt.Sprintf("%s $%.2f   %s $%.2f   %s %.0f%%   %s $%.2f\n",
		labelStyle.Render("余额"), s.Balance.UsdcUsd,
		labelStyle.Render("可用"), s.Reserve.AvailableUsd,
		labelStyle.Render("准备金"), s.Reserve.ReserveFraction*100,
		labelStyle.Render("已部署"), s.Reserve.DeployedCapitalUsd))

	ev := okStyle
	if s.Ev.Paused {
		ev = badStyle
	} else if s.Ev.EvCents < 0 {
		ev = warnStyle
	}
	b.WriteString(fmt.Sprintf("%s %s   %s %.0f%%   %s %.2f   %s %d\n\n",
		labelStyle.Render("EV(c)"), ev.Render(fmt.Sprintf("%+.2f", s.Ev.EvCents)),
		labelStyle.Render("胜率"), s.Ev.WinRate*100,
		labelStyle.Render("PF"), s.Ev.ProfitFactor,
		labelStyle.Render("样本"), s.Ev.SampleCount))

	b.WriteString(headerStyle.Render(fmt.Sprintf("%-24s %-8s %6s %6s %5s %9s", "MARKET", "STATE", "SIZE", "ENTRY", "HEDGE", "uPnL")) + "\n")
	if len(s.Positions) == 0 {
		b.WriteString(labelStyle.Render("（空仓）") + "\n")
	}
	for _, p := range s.Positions {
		pnl := okStyle
		if p.UnrealizedPnlUsd < 0 {
			pnl = badStyle
		}
		b.WriteString(fmt.Sprintf("%-24s %-8s %6.1f %5dc %4.0f%% %s\n",
			truncate(p.MarketSlug, 24), p.State, p.Size, p.EntryPriceCents,
			p.HedgeRatio*100, pnl.Render(fmt.Sprintf("%+9.2f", p.UnrealizedPnlUsd))))
	}

	b.WriteString(fmt.Sprintf("\n%s %d   %s %s\n",
		labelStyle.Render("已平仓"), s.ClosedCount,
		labelStyle.Render("已实现"), renderPnl(s.RealizedUsd)))

	if m.lastCmd != "" {
		b.WriteString(warnStyle.Render("→ "+m.lastCmd) + "\n")
	}
	b.WriteString(helpStyle.Render("L 全清仓  o 只清亏损  n 取消清仓  q 退出") + "\n")
	return b.String()
}

func renderPnl(v float64) string {
	s := fmt.Sprintf("%+.2f USD", v)
	if v < 0 {
		return badStyle.Render(s)
	}
	return okStyle.Render(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8088", "控制面地址")
	flag.Parse()

	if _, err := tea.NewProgram(newModel(*addr), tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI 退出: %v\n", err)
		os.Exit(1)
	}
}
