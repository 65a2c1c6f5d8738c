package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/spotmm/internal/core"
	"github.com/betbot/spotmm/internal/journal"
)

type fakeFetcher struct {
	st  *core.Status
	err error
}

func (f fakeFetcher) Fetch(context.Context) (*core.Status, error) { return f.st, f.err }

type fakeFills []journal.FillRow

func (f fakeFills) RecentFills(context.Context, int) ([]journal.FillRow, error) { return f, nil }

func sampleStatus() *core.Status {
	return &core.Status{
		Symbol:       "BTCUSDT",
		QuoteAsset:   "USDT",
		QuoteBalance: "950.5",
		RateCount:    3,
		RateLimit:    100,
		AcquiredQty:  "0.01",
		BuyOrders:    []core.OrderView{{OrderID: 1, Side: "BUY", Price: "100.01", Qty: "0.1"}},
		SellOrders:   []core.OrderView{{OrderID: 2, Side: "SELL", Price: "101", Qty: "0.1", AvgBuyPrice: "100"}},
	}
}

func TestPollerFetch(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/status", func(c *gin.Context) { c.JSON(http.StatusOK, sampleStatus()) })
	srv := httptest.NewServer(r)
	defer srv.Close()

	st, err := newStatusPoller(srv.URL + "/").Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", st.Symbol)
	require.Len(t, st.SellOrders, 1)
	assert.Equal(t, "100", st.SellOrders[0].AvgBuyPrice)
}

func TestPollerHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newStatusPoller(srv.URL).Fetch(context.Background())
	require.Error(t, err)
}

func TestModelRendersStatus(t *testing.T) {
	m := model{
		poller:   fakeFetcher{st: sampleStatus()},
		fills:    fakeFills{{OrderID: 2, Side: "SELL", Price: "101", Qty: "0.1", QuoteQty: "10.1"}},
		interval: time.Second,
	}
	msg := m.fetchCmd()()
	next, cmd := m.Update(msg)
	require.NotNil(t, cmd)

	view := next.(model).View()
	assert.Contains(t, view, "BTCUSDT")
	assert.Contains(t, view, "950.5")
	assert.Contains(t, view, "100.01")
	assert.Contains(t, view, "最近成交")
	assert.Contains(t, view, "10.1")
}

func TestModelKeepsLastStatusOnError(t *testing.T) {
	m := model{poller: fakeFetcher{st: sampleStatus()}, interval: time.Second}
	next, _ := m.Update(m.fetchCmd()())
	m = next.(model)

	next, _ = m.Update(statusMsg{err: errors.New("connection refused")})
	view := next.(model).View()
	assert.Contains(t, view, "BTCUSDT")
	assert.Contains(t, view, "connection refused")
	assert.NotContains(t, view, "最近成交")
}

func TestModelWaitingAndQuit(t *testing.T) {
	m := newModel(fakeFetcher{}, nil, time.Second)
	assert.Nil(t, m.fills)
	assert.Contains(t, m.View(), "正在连接")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
