// Package journal 成交与下单动作的 SQLite 流水（只写，供事后审计）。
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/betbot/spotmm/internal/domain"
	"github.com/betbot/spotmm/internal/execution"
)

var log = logrus.WithField("component", "journal")

const (
	defaultBuffer = 1024
	batchSize     = 64
	flushInterval = 500 * time.Millisecond
)

// entry 待写入的一条记录（fill 与 action 二选一）
type entry struct {
	fill   *domain.ExecutionReport
	action *execution.ActionEvent
}

// Journal 实现 core.Recorder（只记录成交）和 execution.Observer。
// 回调只入队，后台 goroutine 批量写库；队列满时丢弃并计数。
type Journal struct {
	db      *sql.DB
	symbol  string
	ch      chan entry
	done    chan struct{} // 关闭后不再接收
	exited  chan struct{} // writer 退出
	once    sync.Once
	dropped atomic.Int64
}

// Open 打开（或创建）流水库并启动写入 goroutine
func Open(path, symbol string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal: path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	j := &Journal{
		db:     db,
		symbol: symbol,
		ch:     make(chan entry, defaultBuffer),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go j.writer()
	log.Infof("📒 流水库已打开: %s", path)
	return j, nil
}

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS fills (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  symbol TEXT NOT NULL,
  order_id INTEGER NOT NULL,
  client_order_id TEXT,
  side TEXT NOT NULL,
  status TEXT NOT NULL,
  price TEXT NOT NULL,
  qty TEXT NOT NULL,
  quote_qty TEXT NOT NULL,
  order_price TEXT,
  event_time TEXT NOT NULL,
  recorded_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_fills_order ON fills(order_id);`,
		`
CREATE TABLE IF NOT EXISTS order_actions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  symbol TEXT NOT NULL,
  action TEXT NOT NULL,
  side TEXT,
  order_id INTEGER,
  prev_order_id INTEGER,
  price TEXT,
  qty TEXT,
  result TEXT NOT NULL,
  error TEXT,
  latency_ms INTEGER NOT NULL,
  occurred_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_actions_occurred ON order_actions(occurred_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate journal: %w", err)
		}
	}
	return nil
}

// ObserveDepth 不记录
func (j *Journal) ObserveDepth() {}

// ObserveReject 不记录
func (j *Journal) ObserveReject(string) {}

// ObserveFill 记录一次成交
func (j *Journal) ObserveFill(r *domain.ExecutionReport) {
	cp := *r
	j.enqueue(entry{fill: &cp})
}

// ObserveAction 记录一次执行器动作
func (j *Journal) ObserveAction(ev execution.ActionEvent) {
	j.enqueue(entry{action: &ev})
}

// Dropped 因队列满丢弃的记录数
func (j *Journal) Dropped() int64 { return j.dropped.Load() }

func (j *Journal) enqueue(e entry) {
	select {
	case <-j.done:
		return
	default:
	}
	select {
	case j.ch <- e:
	default:
		if n := j.dropped.Add(1); n%100 == 1 {
			log.Warnf("⚠️ 流水队列已满，已丢弃 %d 条", n)
		}
	}
}

// Close 停止接收并写完队列中的记录
func (j *Journal) Close() error {
	j.once.Do(func() { close(j.done) })
	<-j.exited
	return j.db.Close()
}

func (j *Journal) writer() {
	defer close(j.exited)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]entry, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := j.write(batch); err != nil {
			log.Errorf("❌ 写入流水失败（%d 条）: %v", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-j.ch:
			batch = append(batch, e)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-j.done:
			for {
				select {
				case e := <-j.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (j *Journal) write(batch []entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, e := range batch {
		switch {
		case e.fill != nil:
			f := e.fill
			_, err = tx.ExecContext(ctx, `INSERT INTO fills
  (symbol, order_id, client_order_id, side, status, price, qty, quote_qty, order_price, event_time, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				f.Symbol, f.OrderID, f.ClientOrderID, string(f.Side), string(f.Status),
				f.LastExecutedPrice.String(), f.LastExecutedQty.String(), f.FillQuoteValue().String(),
				f.Price, f.EventTime.UTC().Format(time.RFC3339Nano), now)
		case e.action != nil:
			a := e.action
			var errText sql.NullString
			if a.Err != nil {
				errText = sql.NullString{String: a.Err.Error(), Valid: true}
			}
			_, err = tx.ExecContext(ctx, `INSERT INTO order_actions
  (symbol, action, side, order_id, prev_order_id, price, qty, result, error, latency_ms, occurred_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				j.symbol, string(a.Action), string(a.Side), a.OrderID, a.PrevID, a.Price, a.Qty,
				a.Result, errText, a.Latency.Milliseconds(), a.OccurredAt.UTC().Format(time.RFC3339Nano))
		}
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// FillRow fills 表的一行
type FillRow struct {
	OrderID  int64
	Side     string
	Price    string
	Qty      string
	QuoteQty string
}

// RecentFills 最近的成交（按写入倒序）
func (j *Journal) RecentFills(ctx context.Context, limit int) ([]FillRow, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT order_id, side, price, qty, quote_qty FROM fills ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FillRow
	for rows.Next() {
		var r FillRow
		if err := rows.Scan(&r.OrderID, &r.Side, &r.Price, &r.Qty, &r.QuoteQty); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ActionCounts 按 action/result 汇总
func (j *Journal) ActionCounts(ctx context.Context) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT action || ':' || result, COUNT(*) FROM order_actions GROUP BY action, result`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, rows.Err()
}
