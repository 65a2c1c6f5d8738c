// Package bootstrap 启动阶段的一次性对账。
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/betbot/spotmm/internal/ledger"
	"github.com/betbot/spotmm/internal/ports"
)

var log = logrus.WithField("component", "bootstrap")

// SyncQuoteBalance 拉取账户快照并用计价资产的 free 余额初始化 QuoteAssetManager。
// 失败时调用方应退出进程：没有初始余额时无法安全下单。
// 账户里没有该资产时余额视为 0。
func SyncQuoteBalance(ctx context.Context, fetcher ports.AccountFetcher, quote *ledger.QuoteAssetManager) error {
	snapshot, err := fetcher.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("获取账户快照失败: %w", err)
	}
	if snapshot == nil {
		return errors.New("获取账户快照失败: 空响应")
	}

	bal, ok := snapshot.Find(quote.Asset())
	if !ok {
		quote.SyncFrom(bal.Free)
		log.Warnf("⚠️ [BOOTSTRAP] 账户中没有 %s 余额，按 0 处理", quote.Asset())
		return nil
	}
	quote.SyncFrom(bal.Free)
	log.Infof("💰 [BOOTSTRAP] 初始 %s 余额: free=%s locked=%s", quote.Asset(), bal.Free, bal.Locked)
	return nil
}
