// Package binance 现货 REST 交易适配器（签名下单/撤单/账户查询）。
package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/spotmm/internal/domain"
	"github.com/betbot/spotmm/internal/execution"
	"github.com/betbot/spotmm/pkg/ratelimit"
)

var log = logrus.WithField("component", "binance")

const (
	// HeaderOrderCount10s 最近 10s 下单计数
	HeaderOrderCount10s = "X-MBX-ORDER-COUNT-10S"
	headerAPIKey        = "X-MBX-APIKEY"

	orderPath   = "/api/v3/order"
	accountPath = "/api/v3/account"

	clientOrderIDPrefix = "mm-"
)

// Config REST 客户端配置
type Config struct {
	BaseURL        string
	APIKey         string
	RecvWindow     time.Duration
	Timeout        time.Duration
	ProxyURL       string
	RequestsPerSec int // 0 表示不限速
}

// Client 实现 execution.TradingClient 和 ports.AccountFetcher。
type Client struct {
	http    *resty.Client
	signer  Signer
	recvWin int64
	guard   *ratelimit.TokenBucket
	now     func() time.Time
}

// New 创建 REST 客户端
func New(cfg Config, signer Signer) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("binance: api key is empty")
	}
	if signer == nil {
		return nil, errors.New("binance: signer is nil")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = 5 * time.Second
	}

	// 下单不是幂等操作，不开启 resty 自动重试
	rc := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader(headerAPIKey, cfg.APIKey).
		SetHeader("Accept", "application/json")
	if cfg.ProxyURL != "" {
		rc.SetProxy(cfg.ProxyURL)
	}

	c := &Client{
		http:    rc,
		signer:  signer,
		recvWin: cfg.RecvWindow.Milliseconds(),
		now:     time.Now,
	}
	if cfg.RequestsPerSec > 0 {
		c.guard = ratelimit.NewTokenBucket(cfg.RequestsPerSec, cfg.RequestsPerSec)
	}
	return c, nil
}

// PlaceLimitMaker 下 LIMIT_MAKER 单（只做 maker，会吃单时交易所直接拒绝）
func (c *Client) PlaceLimitMaker(ctx context.Context, side domain.Side, symbol, qty, price string) (*execution.PlaceResult, error) {
	if !side.Valid() {
		return nil, errors.Errorf("binance: invalid side %q", side)
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", "LIMIT_MAKER")
	params.Set("quantity", qty)
	params.Set("price", price)
	params.Set("newClientOrderId", NewClientOrderID())
	params.Set("newOrderRespType", "ACK")

	var out placeOrderResponse
	resp, err := c.signedRequest(ctx, http.MethodPost, orderPath, params, &out)
	if err != nil {
		return nil, err
	}
	return &execution.PlaceResult{
		OrderID:      out.OrderID,
		Symbol:       out.Symbol,
		TransactTime: time.UnixMilli(out.TransactTime),
		OrderCount:   resp.Header().Get(HeaderOrderCount10s),
	}, nil
}

// CancelOrder 按交易所订单号撤单
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (*execution.CancelResult, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	var out cancelOrderResponse
	resp, err := c.signedRequest(ctx, http.MethodDelete, orderPath, params, &out)
	if err != nil {
		return nil, err
	}
	return &execution.CancelResult{
		OrderID:    out.OrderID,
		Symbol:     out.Symbol,
		OrderCount: resp.Header().Get(HeaderOrderCount10s),
	}, nil
}

// GetAccount 查询账户余额（忽略零余额）
func (c *Client) GetAccount(ctx context.Context) (*domain.AccountSnapshot, error) {
	params := url.Values{}
	params.Set("omitZeroBalances", "true")

	var out accountResponse
	if _, err := c.signedRequest(ctx, http.MethodGet, accountPath, params, &out); err != nil {
		return nil, err
	}

	snap := &domain.AccountSnapshot{
		Balances:  make([]domain.AssetBalance, 0, len(out.Balances)),
		EventTime: time.UnixMilli(out.UpdateTime),
	}
	for _, b := range out.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return nil, errors.Wrapf(err, "parse free balance of %s", b.Asset)
		}
		locked, err := decimal.NewFromString(b.Locked)
		if err != nil {
			return nil, errors.Wrapf(err, "parse locked balance of %s", b.Asset)
		}
		snap.Balances = append(snap.Balances, domain.AssetBalance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return snap, nil
}

// signedRequest 追加 timestamp/recvWindow 并签名。
// 签名覆盖的查询串原样拼到 URL 上，保证服务端看到的顺序与签名时一致。
func (c *Client) signedRequest(ctx context.Context, method, path string, params url.Values, out any) (*resty.Response, error) {
	if c.guard != nil {
		if err := c.guard.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "wait request budget")
		}
	}

	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.recvWin, 10))
	query := params.Encode()
	sig, err := c.signer.Sign(query)
	if err != nil {
		return nil, errors.Wrap(err, "sign request")
	}
	query += "&signature=" + url.QueryEscape(sig)

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		Execute(method, path+"?"+query)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	log.Debugf("[HTTP] %s %s -> %d (%s)", method, path, resp.StatusCode(), time.Since(start))

	if resp.IsError() {
		return resp, parseError(resp)
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return resp, errors.Wrapf(err, "decode %s %s response", method, path)
		}
	}
	return resp, nil
}

// parseError 4xx/5xx 且带 {code,msg} 时返回 *execution.APIError
func parseError(resp *resty.Response) error {
	var body errorResponse
	if err := json.Unmarshal(resp.Body(), &body); err == nil && (body.Code != 0 || body.Msg != "") {
		return &execution.APIError{Status: resp.StatusCode(), Code: body.Code, Msg: body.Msg}
	}
	return errors.Errorf("http non-2xx: %d %s", resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
}

// NewClientOrderID 生成客户端订单号（≤36 字符，仅字母数字和 -）
func NewClientOrderID() string {
	return clientOrderIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}
