// spotmm-tui 终端看板：轮询做市进程的 /status，可选读取本地成交流水。
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/betbot/spotmm/internal/journal"
	"github.com/betbot/spotmm/pkg/logger"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:9108", "做市进程状态服务地址")
	interval := flag.Duration("interval", time.Second, "轮询间隔")
	journalPath := flag.String("journal", "", "成交流水 sqlite 路径（可选）")
	symbol := flag.String("symbol", "", "成交流水交易对（与 -journal 一起使用）")
	flag.Parse()

	// 日志只写文件，避免干扰终端界面
	logCfg := logger.DefaultConfig()
	logCfg.OutputFile = "logs/spotmm-tui.log"
	logCfg.NoConsole = true
	if err := logger.Init(logCfg); err != nil {
		fmt.Fprintln(os.Stderr, "初始化日志失败:", err)
		os.Exit(1)
	}
	defer logger.Close()

	var jrn *journal.Journal
	if *journalPath != "" {
		var err error
		jrn, err = journal.Open(*journalPath, *symbol)
		if err != nil {
			fmt.Fprintln(os.Stderr, "打开成交流水失败:", err)
			os.Exit(1)
		}
		defer jrn.Close()
	}

	m := newModel(newStatusPoller(*addr), jrn, *interval)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
