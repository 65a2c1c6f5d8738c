package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/betbot/spotmm/internal/domain"
)

// AuthMode 用户数据流的鉴权方式
type AuthMode string

const (
	// AuthSessionLogon session.logon（Ed25519）后 userDataStream.subscribe
	AuthSessionLogon AuthMode = "logon"
	// AuthSignature 直接 userDataStream.subscribe.signature（HMAC 亦可）
	AuthSignature AuthMode = "signature"
)

const (
	methodLogon              = "session.logon"
	methodSubscribe          = "userDataStream.subscribe"
	methodSubscribeSignature = "userDataStream.subscribe.signature"
)

// Signer 参数串签名
type Signer interface {
	Sign(payload string) (string, error)
}

// UserConfig 用户数据流配置
type UserConfig struct {
	URL      string // WebSocket API 地址
	APIKey   string
	Auth     AuthMode
	ProxyURL string
}

// UserStream 通过 WebSocket API 订阅执行回报与余额事件。
// 用户事件不能丢，下游阻塞时这里也阻塞。
type UserStream struct {
	*Conn
	cfg    UserConfig
	signer Signer
	out    chan<- domain.UserEvent
	now    func() time.Time

	pendingMu sync.Mutex
	pending   map[string]string // request id -> method

	readyOnce sync.Once
	ready     chan struct{}
}

// NewUserStream 创建用户数据流，事件写入 out
func NewUserStream(cfg UserConfig, signer Signer, out chan<- domain.UserEvent) *UserStream {
	if cfg.Auth == "" {
		cfg.Auth = AuthSignature
	}
	u := &UserStream{
		cfg:     cfg,
		signer:  signer,
		out:     out,
		now:     time.Now,
		pending: make(map[string]string),
		ready:   make(chan struct{}),
	}
	u.Conn = newConn("user", cfg.ProxyURL, u)
	return u
}

// Ready 首次订阅成功后关闭
func (u *UserStream) Ready() <-chan struct{} { return u.ready }

func (u *UserStream) endpoint() string { return u.cfg.URL }

type wsRequest struct {
	ID     string         `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

type wsResponse struct {
	ID     string          `json:"id"`
	Status int             `json:"status"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error"`
}

func (u *UserStream) onConnected(ctx context.Context, c *Conn) error {
	switch u.cfg.Auth {
	case AuthSessionLogon:
		params, err := u.signedParams()
		if err != nil {
			return err
		}
		log.Info("[user] 发送 session.logon")
		return u.send(methodLogon, params)
	case AuthSignature:
		params, err := u.signedParams()
		if err != nil {
			return err
		}
		log.Info("[user] 发送 userDataStream.subscribe.signature")
		return u.send(methodSubscribeSignature, params)
	default:
		return fmt.Errorf("未知的鉴权方式: %q", u.cfg.Auth)
	}
}

// signedParams apiKey + timestamp，按参数名排序后签名
func (u *UserStream) signedParams() (map[string]any, error) {
	ts := u.now().UnixMilli()
	v := url.Values{}
	v.Set("apiKey", u.cfg.APIKey)
	v.Set("timestamp", strconv.FormatInt(ts, 10))
	sig, err := u.signer.Sign(v.Encode())
	if err != nil {
		return nil, fmt.Errorf("签名失败: %w", err)
	}
	return map[string]any{"apiKey": u.cfg.APIKey, "timestamp": ts, "signature": sig}, nil
}

func (u *UserStream) send(method string, params map[string]any) error {
	id := uuid.NewString()
	u.pendingMu.Lock()
	u.pending[id] = method
	u.pendingMu.Unlock()
	return u.WriteJSON(wsRequest{ID: id, Method: method, Params: params})
}

func (u *UserStream) handleMessage(ctx context.Context, data []byte) {
	var probe struct {
		ID    *string         `json:"id"`
		Event json.RawMessage `json:"event"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		log.Warnf("[user] 无法解析消息: %v", err)
		return
	}
	if probe.ID != nil {
		u.handleResponse(data)
		return
	}

	payload := data
	if len(probe.Event) > 0 {
		payload = probe.Event
	}
	ev, err := ParseUserEvent(payload)
	if err != nil {
		log.Warnf("[user] %v", err)
		return
	}
	if ev == nil {
		return
	}
	select {
	case u.out <- ev:
	case <-ctx.Done():
	}
}

func (u *UserStream) handleResponse(data []byte) {
	var resp wsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		log.Warnf("[user] 响应解析失败: %v", err)
		return
	}
	u.pendingMu.Lock()
	method := u.pending[resp.ID]
	delete(u.pending, resp.ID)
	u.pendingMu.Unlock()

	if resp.Status != 200 {
		msg := ""
		if resp.Error != nil {
			msg = fmt.Sprintf("code=%d msg=%s", resp.Error.Code, resp.Error.Msg)
		}
		log.Errorf("❌ [user] 请求失败 method=%s status=%d %s", method, resp.Status, msg)
		u.Reconnect()
		return
	}

	switch method {
	case methodLogon:
		log.Info("✅ [user] 会话登录成功，订阅用户数据流")
		if err := u.send(methodSubscribe, nil); err != nil {
			log.Errorf("[user] 订阅请求发送失败: %v", err)
			u.Reconnect()
		}
	case methodSubscribe, methodSubscribeSignature:
		log.Info("✅ [user] 用户数据流订阅成功")
		u.readyOnce.Do(func() { close(u.ready) })
	default:
		log.Debugf("[user] 未匹配的响应 id=%s", resp.ID)
	}
}
