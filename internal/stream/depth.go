package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/betbot/spotmm/internal/common"
	"github.com/betbot/spotmm/internal/domain"
)

// 同类告警日志最短间隔
const warnInterval = 10 * time.Second

// DepthConfig 深度流配置
type DepthConfig struct {
	BaseURL  string // 例如 wss://stream.binance.com:9443/ws
	Symbol   string
	Levels   int // 5 / 10 / 20
	ProxyURL string
}

// DepthStream 订阅 <symbol>@depth<levels>@100ms 部分深度流。
// 每条消息都是完整的 top-N 快照，下游处理不过来时丢弃队列里最旧的快照。
type DepthStream struct {
	*Conn
	cfg     DepthConfig
	out     chan domain.MarketEvent
	dropped atomic.Int64

	dropWarn  *common.Debouncer
	parseWarn *common.Debouncer
}

// NewDepthStream 创建深度流，事件写入 out
func NewDepthStream(cfg DepthConfig, out chan domain.MarketEvent) *DepthStream {
	d := &DepthStream{
		cfg:       cfg,
		out:       out,
		dropWarn:  common.NewDebouncer(warnInterval),
		parseWarn: common.NewDebouncer(warnInterval),
	}
	d.Conn = newConn("depth", cfg.ProxyURL, d)
	return d
}

// Dropped 因下游通道满而丢弃的快照数
func (d *DepthStream) Dropped() int64 { return d.dropped.Load() }

func (d *DepthStream) endpoint() string {
	return fmt.Sprintf("%s/%s@depth%d@100ms",
		strings.TrimSuffix(d.cfg.BaseURL, "/"), strings.ToLower(d.cfg.Symbol), d.cfg.Levels)
}

// 原始流地址即订阅，无需额外请求
func (d *DepthStream) onConnected(context.Context, *Conn) error { return nil }

func (d *DepthStream) handleMessage(ctx context.Context, data []byte) {
	snap, err := ParseDepth(data, d.cfg.Symbol)
	if err != nil {
		if d.parseWarn.Allow(time.Now()) {
			log.Warnf("[depth] 解析失败: %v", err)
		}
		return
	}
	d.publish(ctx, snap)
}

// publish 非阻塞写入；通道满时先丢最旧的一条再写，仍写不进则丢当前这条
func (d *DepthStream) publish(ctx context.Context, snap *domain.DepthSnapshot) {
	select {
	case d.out <- snap:
		return
	case <-ctx.Done():
		return
	default:
	}
	select {
	case <-d.out:
		d.countDrop()
	default:
	}
	select {
	case d.out <- snap:
	case <-ctx.Done():
	default:
		d.countDrop()
	}
}

func (d *DepthStream) countDrop() {
	n := d.dropped.Add(1)
	if d.dropWarn.Allow(time.Now()) {
		log.Warnf("[depth] 下游处理不过来，累计丢弃 %d 个快照", n)
	}
}

// ParseDepth 解析部分深度消息 {"lastUpdateId":..,"bids":[[p,q]..],"asks":[[p,q]..]}
func ParseDepth(data []byte, symbol string) (*domain.DepthSnapshot, error) {
	var snap domain.DepthSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("depth json: %w", err)
	}
	if snap.LastUpdateID == 0 && snap.Bids == nil && snap.Asks == nil {
		return nil, fmt.Errorf("不是深度消息: %.120s", data)
	}
	snap.Symbol = strings.ToUpper(symbol)
	snap.ReceivedAt = time.Now()
	return &snap, nil
}
