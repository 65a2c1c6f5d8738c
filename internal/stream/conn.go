// Package stream 行情深度流与用户数据流（WebSocket）适配器。
package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/betbot/spotmm/pkg/sigchan"
	"github.com/betbot/spotmm/pkg/syncgroup"
)

var log = logrus.WithField("component", "stream")

const (
	pingInterval     = 15 * time.Second
	writeTimeout     = 10 * time.Second
	handshakeTimeout = 15 * time.Second
	staleAfter       = 60 * time.Second // 超过该时长没有任何消息/pong 则重连

	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// ErrClosed 连接已被 Close
var ErrClosed = errors.New("stream closed")

// session 具体流的协议部分
type session interface {
	// endpoint 拨号地址
	endpoint() string
	// onConnected 新连接建立后调用（订阅/登录），返回错误时连接被丢弃并重连
	onConnected(ctx context.Context, c *Conn) error
	// handleMessage 处理一条文本消息
	handleMessage(ctx context.Context, data []byte)
}

// Conn 带信号驱动重连的 WebSocket 连接。
// 读循环或 ping 失败时发出重连信号，reconnector 按指数退避重新拨号并重新订阅。
type Conn struct {
	name     string
	proxyURL string
	s        session

	mu         sync.Mutex
	conn       *websocket.Conn
	connCancel context.CancelFunc
	writeMu    sync.Mutex

	reconnectC *sigchan.Chan
	closeC     chan struct{}
	closeOnce  sync.Once

	sg     *syncgroup.SyncGroup // reconnector
	connSg *syncgroup.SyncGroup // 当前连接的 read/ping

	backoff       time.Duration
	lastMessageAt atomic.Int64 // unix ms
	reconnects    atomic.Int64
}

func newConn(name, proxyURL string, s session) *Conn {
	return &Conn{
		name:       name,
		proxyURL:   proxyURL,
		s:          s,
		reconnectC: sigchan.New(1),
		closeC:     make(chan struct{}),
		sg:         syncgroup.NewSyncGroup(),
		connSg:     syncgroup.NewSyncGroup(),
		backoff:    minBackoff,
	}
}

// Start 首次连接并启动重连器。首次连接失败直接返回错误。
func (c *Conn) Start(ctx context.Context) error {
	if err := c.dialAndConnect(ctx); err != nil {
		return err
	}
	c.sg.Add(func() { c.reconnector(ctx) })
	c.sg.Run()
	return nil
}

// Reconnects 累计重连次数
func (c *Conn) Reconnects() int64 { return c.reconnects.Load() }

// LastMessageAt 最近一次收到消息的时间
func (c *Conn) LastMessageAt() time.Time {
	ms := c.lastMessageAt.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// WriteJSON 串行写入一条 JSON 消息
func (c *Conn) WriteJSON(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%s: 连接未建立", c.name)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

// Reconnect 触发重连（非阻塞，多次信号合并）
func (c *Conn) Reconnect() {
	c.reconnectC.Emit()
}

// Close 关闭连接并等待 goroutine 退出
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closeC) })

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if c.connCancel != nil {
		c.connCancel()
	}
	c.mu.Unlock()

	var err error
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = conn.Close()
	}
	if !c.connSg.WaitTimeout(3*time.Second) || !c.sg.WaitTimeout(3*time.Second) {
		log.Warnf("[%s] 关闭超时，部分 goroutine 未退出", c.name)
	}
	log.Infof("[%s] 已关闭", c.name)
	return err
}

func (c *Conn) closed() bool {
	select {
	case <-c.closeC:
		return true
	default:
		return false
	}
}

func (c *Conn) dialAndConnect(ctx context.Context) error {
	if c.closed() {
		return ErrClosed
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	connCtx, connCancel := c.setConn(ctx, conn)
	if !c.connSg.WaitTimeout(2 * time.Second) {
		log.Debugf("[%s] 等待旧连接 goroutine 退出超时，继续", c.name)
	}
	c.lastMessageAt.Store(time.Now().UnixMilli())
	c.connSg.Add(func() { c.read(connCtx, conn, connCancel) })
	c.connSg.Add(func() { c.ping(connCtx, conn, connCancel) })
	c.connSg.Run()

	if err := c.s.onConnected(connCtx, c); err != nil {
		connCancel()
		_ = conn.Close()
		return fmt.Errorf("%s: 连接后初始化失败: %w", c.name, err)
	}
	c.backoff = minBackoff
	log.Infof("🔌 [%s] 已连接: %s", c.name, c.s.endpoint())
	return nil
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	if c.proxyURL != "" {
		proxyURL, err := url.Parse(c.proxyURL)
		if err != nil {
			return nil, fmt.Errorf("无效的代理 URL: %w", err)
		}
		dialer.Proxy = http.ProxyURL(proxyURL)
	}
	conn, _, err := dialer.DialContext(ctx, c.s.endpoint(), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: 拨号失败: %w", c.name, err)
	}
	return conn, nil
}

// setConn 原子替换连接，旧连接的 goroutine 通过 ctx 取消退出
func (c *Conn) setConn(ctx context.Context, conn *websocket.Conn) (context.Context, context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connCancel != nil {
		c.connCancel()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	connCtx, connCancel := context.WithCancel(ctx)
	c.conn = conn
	c.connCancel = connCancel
	return connCtx, connCancel
}

func (c *Conn) reconnector(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeC:
			return
		case <-c.reconnectC.C():
		}

		delay := c.backoff
		c.backoff = min(c.backoff*2, maxBackoff)
		log.Warnf("⚠️ [%s] 收到重连信号，%s 后重连", c.name, delay)

		select {
		case <-ctx.Done():
			return
		case <-c.closeC:
			return
		case <-time.After(delay):
		}

		c.reconnects.Add(1)
		if err := c.dialAndConnect(ctx); err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			log.Warnf("[%s] 重连失败: %v，将再次尝试", c.name, err)
			c.Reconnect()
		}
	}
}

func (c *Conn) read(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	// 读出错后 gorilla 连接不可再用，ctx 结束时直接关闭连接让 ReadMessage 返回
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(staleAfter))
	})

	for {
		if err := conn.SetReadDeadline(time.Now().Add(staleAfter)); err != nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || c.closed() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("[%s] 服务端关闭连接: %v，触发重连", c.name, err)
			} else {
				log.Warnf("[%s] 读取错误: %v，触发重连", c.name, err)
			}
			c.Reconnect()
			return
		}

		c.lastMessageAt.Store(time.Now().UnixMilli())
		c.s.handleMessage(ctx, data)
	}
}

func (c *Conn) ping(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warnf("[%s] 发送 PING 失败: %v，触发重连", c.name, err)
				c.Reconnect()
				return
			}
		}
	}
}
