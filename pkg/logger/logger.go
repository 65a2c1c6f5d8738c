package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger 全局日志实例
	Logger *logrus.Logger

	logMu       sync.Mutex
	currentFile *lumberjack.Logger
)

// Config 日志配置
type Config struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Format     string `yaml:"format"`      // text（默认）或 json
	OutputFile string `yaml:"output_file"` // 为空则只输出到控制台
	MaxSize    int    `yaml:"max_size"`    // 单个文件最大 MB
	MaxBackups int    `yaml:"max_backups"` // 保留旧文件数量
	MaxAge     int    `yaml:"max_age"`     // 保留天数
	Compress   bool   `yaml:"compress"`
	NoConsole  bool   `yaml:"no_console"` // 不输出到 stdout（TUI 运行时使用）
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "text",
		OutputFile: "logs/spotmm.log",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     7,
		Compress:   true,
	}
}

func formatter(format string) logrus.Formatter {
	if format == "json" {
		return &logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05", // 格式: yy-mm-dd HH:MM:ss
	}
}

// Init 初始化日志系统。
// 同时设置 logrus 全局实例，各包通过 logrus.WithField("component", ...) 打的日志也会写入文件。
func Init(config Config) error {
	logMu.Lock()
	defer logMu.Unlock()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}

	var writers []io.Writer
	if !config.NoConsole {
		writers = append(writers, os.Stdout)
	}

	if config.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.OutputFile), 0o755); err != nil {
			return err
		}
		if currentFile != nil {
			_ = currentFile.Close()
		}
		currentFile = &lumberjack.Logger{
			Filename:   config.OutputFile,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		}
		writers = append(writers, currentFile)
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}
	out := io.MultiWriter(writers...)

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(formatter(config.Format))
	logger.SetOutput(out)

	logrus.SetOutput(out)
	logrus.SetLevel(level)
	logrus.SetFormatter(formatter(config.Format))

	Logger = logger
	return nil
}

// Rotate 立即切换到新文件（例如收到 SIGHUP 时）。
func Rotate() error {
	logMu.Lock()
	defer logMu.Unlock()
	if currentFile == nil {
		return nil
	}
	return currentFile.Rotate()
}

// Close 关闭日志文件
func Close() error {
	logMu.Lock()
	defer logMu.Unlock()
	if currentFile == nil {
		return nil
	}
	err := currentFile.Close()
	currentFile = nil
	return err
}

// InitDefault 使用默认配置初始化日志系统
func InitDefault() error {
	return Init(DefaultConfig())
}

// WithField 添加字段到日志上下文
func WithField(key string, value interface{}) *logrus.Entry {
	if Logger != nil {
		return Logger.WithField(key, value)
	}
	return logrus.WithField(key, value)
}

// WithFields 添加多个字段到日志上下文
func WithFields(fields logrus.Fields) *logrus.Entry {
	if Logger != nil {
		return Logger.WithFields(fields)
	}
	return logrus.WithFields(fields)
}
