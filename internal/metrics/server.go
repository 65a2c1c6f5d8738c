package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/betbot/spotmm/internal/core"
)

var log = logrus.WithField("component", "metrics")

// StatusSource 提供引擎状态快照
type StatusSource interface {
	Snapshot() core.Status
}

// HealthFunc 健康检查，返回 nil 表示健康
type HealthFunc func() error

// Server 指标/状态 HTTP 服务：
// - /metrics       Prometheus
// - /status        引擎快照 JSON
// - /healthz       健康检查
// - /debug/pprof/  pprof
// 建议仅监听 localhost 或内网。
type Server struct {
	m      *Metrics
	src    StatusSource
	health HealthFunc
}

// NewServer 创建服务；health 可为 nil
func NewServer(m *Metrics, src StatusSource, health HealthFunc) *Server {
	return &Server{m: m, src: src, health: health}
}

// Router gin 路由
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)
	r.GET("/status", s.handleStatus)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.m.Registry(), promhttp.HandlerOpts{})))

	r.GET("/debug/pprof/*name", handlePprof)
	return r
}

func handlePprof(c *gin.Context) {
	switch name := strings.TrimPrefix(c.Param("name"), "/"); name {
	case "":
		pprof.Index(c.Writer, c.Request)
	case "cmdline":
		pprof.Cmdline(c.Writer, c.Request)
	case "profile":
		pprof.Profile(c.Writer, c.Request)
	case "symbol":
		pprof.Symbol(c.Writer, c.Request)
	case "trace":
		pprof.Trace(c.Writer, c.Request)
	default:
		pprof.Handler(name).ServeHTTP(c.Writer, c.Request)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health != nil {
		if err := s.health(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	st := s.src.Snapshot()
	s.m.TrackStatus(st)
	c.JSON(http.StatusOK, st)
}

// StartAsync 非阻塞启动服务，ctx.Done() 时优雅关闭
func (s *Server) StartAsync(ctx context.Context, listenAddr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("❌ 指标服务异常退出: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("📊 指标服务已启动: http://%s/metrics", ln.Addr())
	return srv, nil
}

// RunSampler 定期把引擎快照写入 gauge，阻塞到 ctx 结束
func (s *Server) RunSampler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.m.TrackStatus(s.src.Snapshot())
		}
	}
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
