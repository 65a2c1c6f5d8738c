package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/betbot/spotmm/internal/core"
	"github.com/betbot/spotmm/internal/journal"
)

const recentFillsLimit = 8

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	buyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2")) // 绿色
	sellStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // 红色
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

type statusFetcher interface {
	Fetch(ctx context.Context) (*core.Status, error)
}

type fillsSource interface {
	RecentFills(ctx context.Context, limit int) ([]journal.FillRow, error)
}

// model 看板状态
type model struct {
	poller   statusFetcher
	fills    fillsSource
	interval time.Duration

	status    *core.Status
	recent    []journal.FillRow
	err       error
	updatedAt time.Time
}

type tickMsg time.Time

type statusMsg struct {
	status *core.Status
	fills  []journal.FillRow
	err    error
}

func newModel(poller statusFetcher, jrn *journal.Journal, interval time.Duration) model {
	m := model{poller: poller, interval: interval}
	// 避免 nil 指针装进非 nil 接口
	if jrn != nil {
		m.fills = jrn
	}
	return m
}

func (m model) Init() tea.Cmd {
	return m.fetchCmd()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			return m, m.fetchCmd()
		}
	case tickMsg:
		return m, m.fetchCmd()
	case statusMsg:
		m.err = msg.err
		if msg.err == nil {
			m.status = msg.status
			m.recent = msg.fills
			m.updatedAt = time.Now()
		}
		return m, tickCmd(m.interval)
	}
	return m, nil
}

func (m model) fetchCmd() tea.Cmd {
	poller, fills := m.poller, m.fills
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		st, err := poller.Fetch(ctx)
		if err != nil {
			return statusMsg{err: err}
		}
		out := statusMsg{status: st}
		if fills != nil {
			out.fills, out.err = fills.RecentFills(ctx, recentFillsLimit)
		}
		return out
	}
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) View() string {
	var s strings.Builder
	if m.status == nil {
		if m.err != nil {
			s.WriteString(errStyle.Render(fmt.Sprintf("连接失败: %v", m.err)))
		} else {
			s.WriteString("正在连接...")
		}
		s.WriteString("\n\n按 q 退出")
		return s.String()
	}

	st := m.status
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | %s: %s | 限频 %d/%d | 更新于 %s",
		st.Symbol, st.QuoteAsset, st.QuoteBalance, st.RateCount, st.RateLimit,
		m.updatedAt.Format("15:04:05"))))
	s.WriteString("\n")
	if m.err != nil {
		s.WriteString(errStyle.Render(fmt.Sprintf("最近一次刷新失败: %v", m.err)))
		s.WriteString("\n")
	}
	s.WriteString("\n")

	summary := fmt.Sprintf("持仓: %s (成本 %s)\n卖一地板: %s\n已撤卖单池: %d",
		st.AcquiredQty, st.AcquiredValue, orDash(st.BestAskFloor), st.CanceledPool)
	s.WriteString(borderStyle.Render(summary))
	s.WriteString("\n")

	books := lipgloss.JoinHorizontal(lipgloss.Top,
		renderOrders(buyStyle.Render(fmt.Sprintf("买单 (%d)", len(st.BuyOrders))), st.BuyOrders),
		" ",
		renderOrders(sellStyle.Render(fmt.Sprintf("卖单 (%d)", len(st.SellOrders))), st.SellOrders),
	)
	s.WriteString(books)
	s.WriteString("\n")

	if m.fills != nil {
		s.WriteString(renderFills(m.recent))
		s.WriteString("\n")
	}
	s.WriteString("按 r 刷新，q 退出")
	return s.String()
}

func renderOrders(title string, orders []core.OrderView) string {
	var s strings.Builder
	s.WriteString(title)
	s.WriteString("\n")
	if len(orders) == 0 {
		s.WriteString("  --\n")
	}
	for _, o := range orders {
		line := fmt.Sprintf("  %12s  %12s", o.Price, o.Qty)
		if o.AvgBuyPrice != "" {
			line += fmt.Sprintf("  成本 %s", o.AvgBuyPrice)
		}
		s.WriteString(line)
		s.WriteString("\n")
	}
	return borderStyle.Render(s.String())
}

func renderFills(rows []journal.FillRow) string {
	var s strings.Builder
	s.WriteString(titleStyle.Render("最近成交"))
	s.WriteString("\n")
	if len(rows) == 0 {
		s.WriteString("  --\n")
	}
	for _, r := range rows {
		style := buyStyle
		if r.Side == "SELL" {
			style = sellStyle
		}
		s.WriteString(style.Render(fmt.Sprintf("  %-4s %12s x %-12s = %s", r.Side, r.Price, r.Qty, r.QuoteQty)))
		s.WriteString("\n")
	}
	return borderStyle.Render(s.String())
}

func orDash(s string) string {
	if s == "" {
		return "--"
	}
	return s
}
