package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/spotmm/internal/domain"
)

// executionReport 原始字段。encoding/json 键名大小写不敏感，
// 所以大小写成对出现的键（s/S、c/C、l/L …）两边都要声明，避免互相覆盖。
type executionReportMsg struct {
	EventType         string `json:"e"`
	EventTime         int64  `json:"E"`
	Symbol            string `json:"s"`
	Side              string `json:"S"`
	ClientOrderID     string `json:"c"`
	OrigClientOrderID string `json:"C"`
	OrderType         string `json:"o"`
	OrderCreationTime int64  `json:"O"`
	TimeInForce       string `json:"f"`
	IcebergQty        string `json:"F"`
	Qty               string `json:"q"`
	QuoteOrderQty     string `json:"Q"`
	Price             string `json:"p"`
	StopPrice         string `json:"P"`
	ExecutionType     string `json:"x"`
	Status            string `json:"X"`
	OrderID           int64  `json:"i"`
	ExecutionID       int64  `json:"I"`
	LastExecutedQty   string `json:"l"`
	LastExecutedPrice string `json:"L"`
	CumulativeQty     string `json:"z"`
	CumulativeQuote   string `json:"Z"`
	TradeID           int64  `json:"t"`
	TransactTime      int64  `json:"T"`
	Commission        string `json:"n"`
	CommissionAsset   string `json:"N"`
	IsOnBook          bool   `json:"w"`
	WorkingTime       int64  `json:"W"`
	IsMaker           bool   `json:"m"`
	Ignore            bool   `json:"M"`
	PreventedMatchID  int64  `json:"v"`
	STPMode           string `json:"V"`
	LastQuoteQty      string `json:"Y"`
}

type accountPositionMsg struct {
	EventType      string `json:"e"`
	EventTime      int64  `json:"E"`
	LastUpdateTime int64  `json:"u"`
	Balances       []struct {
		Asset  string `json:"a"`
		Free   string `json:"f"`
		Locked string `json:"l"`
	} `json:"B"`
}

type balanceUpdateMsg struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Asset     string `json:"a"`
	Delta     string `json:"d"`
	ClearTime int64  `json:"T"`
}

// ParseUserEvent 把用户数据流事件转换成领域事件。不关心的事件类型返回 (nil, nil)。
func ParseUserEvent(payload []byte) (domain.UserEvent, error) {
	var head struct {
		EventType string `json:"e"`
		EventTime int64  `json:"E"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return nil, fmt.Errorf("用户事件解析失败: %w", err)
	}

	switch head.EventType {
	case "executionReport":
		var m executionReportMsg
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("executionReport: %w", err)
		}
		return m.toDomain()
	case "outboundAccountPosition":
		var m accountPositionMsg
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("outboundAccountPosition: %w", err)
		}
		return m.toDomain()
	case "balanceUpdate":
		var m balanceUpdateMsg
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("balanceUpdate: %w", err)
		}
		delta, err := parseDecimal(m.Delta)
		if err != nil {
			return nil, fmt.Errorf("balanceUpdate delta: %w", err)
		}
		return &domain.BalanceDelta{Asset: m.Asset, Delta: delta, EventTime: time.UnixMilli(m.EventTime)}, nil
	case "":
		return nil, fmt.Errorf("缺少事件类型: %.120s", payload)
	default:
		log.Debugf("[user] 忽略事件: %s", head.EventType)
		return nil, nil
	}
}

func (m *executionReportMsg) toDomain() (*domain.ExecutionReport, error) {
	lastQty, err := parseDecimal(m.LastExecutedQty)
	if err != nil {
		return nil, fmt.Errorf("executionReport l: %w", err)
	}
	lastPrice, err := parseDecimal(m.LastExecutedPrice)
	if err != nil {
		return nil, fmt.Errorf("executionReport L: %w", err)
	}
	lastQuote, err := parseDecimal(m.LastQuoteQty)
	if err != nil {
		return nil, fmt.Errorf("executionReport Y: %w", err)
	}
	cumQty, err := parseDecimal(m.CumulativeQty)
	if err != nil {
		return nil, fmt.Errorf("executionReport z: %w", err)
	}
	return &domain.ExecutionReport{
		Symbol:            m.Symbol,
		ClientOrderID:     m.ClientOrderID,
		Side:              domain.Side(m.Side),
		ExecutionType:     domain.ExecutionType(m.ExecutionType),
		Status:            domain.OrderStatus(m.Status),
		OrderID:           m.OrderID,
		Price:             m.Price,
		Qty:               m.Qty,
		LastExecutedQty:   lastQty,
		LastExecutedPrice: lastPrice,
		LastQuoteQty:      lastQuote,
		CumulativeQty:     cumQty,
		EventTime:         time.UnixMilli(m.EventTime),
		TransactTime:      time.UnixMilli(m.TransactTime),
	}, nil
}

func (m *accountPositionMsg) toDomain() (*domain.AccountSnapshot, error) {
	snap := &domain.AccountSnapshot{
		Balances:  make([]domain.AssetBalance, 0, len(m.Balances)),
		EventTime: time.UnixMilli(m.EventTime),
	}
	for _, b := range m.Balances {
		free, err := parseDecimal(b.Free)
		if err != nil {
			return nil, fmt.Errorf("outboundAccountPosition %s free: %w", b.Asset, err)
		}
		locked, err := parseDecimal(b.Locked)
		if err != nil {
			return nil, fmt.Errorf("outboundAccountPosition %s locked: %w", b.Asset, err)
		}
		snap.Balances = append(snap.Balances, domain.AssetBalance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return snap, nil
}

// parseDecimal 空串视为 0
func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
