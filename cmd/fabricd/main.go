// Package main 提供 fabricd 守护进程入口
package main

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	fabric "github.com/dep2p/go-fabric"
	"github.com/dep2p/go-fabric/config"
	"github.com/dep2p/go-fabric/pkg/lib/log"
)

var logger = log.Logger("fabric/cmd")

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
//
// 配置边界：
//
//	命令行参数：运行时覆盖 / 快速测试（「这次运行」想怎么跑）
//	JSON 配置文件：持久化配置 / 长期运行（「这个节点」的固定配置）
var (
	// ─────────────────────────────────────────────────────────────────────
	// 运行时参数
	// ─────────────────────────────────────────────────────────────────────
	configFile = flag.String("config", "", "配置文件路径（JSON）")
	listenAddr = flag.String("listen", "", "QUIC 监听地址（host:port）")

	// ─────────────────────────────────────────────────────────────────────
	// 凭据参数（三个要么全给、要么全省略用内存身份）
	// ─────────────────────────────────────────────────────────────────────
	certFile = flag.String("cert", "", "节点证书路径（PEM）")
	keyFile  = flag.String("key", "", "节点私钥路径（PEM）")
	rootFile = flag.String("root", "", "信任根证书路径（PEM）")

	// ─────────────────────────────────────────────────────────────────────
	// 观测参数
	// ─────────────────────────────────────────────────────────────────────
	metricsAddr = flag.String("metrics-addr", "", "Prometheus 指标监听地址（空 = 不暴露）")
	logLevel    = flag.String("log-level", "", "日志级别 (debug/info/warn/error)")
	implTag     = flag.String("implementation", "", "诊断快照里上报的实现标识")

	// ─────────────────────────────────────────────────────────────────────
	// 信息显示
	// ─────────────────────────────────────────────────────────────────────
	showVersion = flag.Bool("version", false, "显示版本信息")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	if *showVersion {
		fmt.Println(fabric.VersionInfo())
		return nil
	}

	cfg, err := buildConfig()
	if err != nil {
		return fmt.Errorf("配置错误: %w", err)
	}

	opts := []fabric.Option{fabric.WithConfig(cfg)}

	var promReg *prometheus.Registry
	if cfg.Metrics.Enabled {
		promReg = prometheus.NewRegistry()
		opts = append(opts, fabric.WithMetricsRegistry(promReg))
	}

	fmt.Printf("📦 %s\n", fabric.VersionInfo())
	logger.Info("启动 fabric 节点",
		"version", fabric.Version, "commit", fabric.GitCommit, "buildDate", fabric.BuildDate)

	router, err := fabric.New(opts...)
	if err != nil {
		return fmt.Errorf("启动失败: %w", err)
	}
	defer func() { _ = router.Close() }()

	if promReg != nil {
		srv := serveMetrics(cfg.Metrics.ListenAddr, promReg)
		defer func() { _ = srv.Close() }()
	}

	printNodeInfo(router, cfg)

	fmt.Println("节点已启动，按 Ctrl+C 退出")
	waitForSignal()

	fmt.Println("\n正在关闭节点...")
	return nil
}

// buildConfig 组装最终配置
//
// 优先级（从高到低）：
//  1. 命令行参数（运行时覆盖）
//  2. 环境变量（FABRIC_* 前缀）
//  3. 配置文件（持久化配置）
//  4. 默认值
func buildConfig() (*config.Config, error) {
	cfg := config.NewConfig()
	if *configFile != "" {
		loaded, err := config.LoadFile(*configFile)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败: %w", err)
		}
		cfg = loaded
	}

	applyEnvOverrides(cfg)

	if isFlagSet("listen") {
		cfg.Transport.ListenAddr = *listenAddr
	}
	if isFlagSet("cert") || isFlagSet("key") || isFlagSet("root") {
		cfg.Security.CertFile = *certFile
		cfg.Security.KeyFile = *keyFile
		cfg.Security.RootFile = *rootFile
	}
	if isFlagSet("metrics-addr") {
		cfg.Metrics.Enabled = *metricsAddr != ""
		cfg.Metrics.ListenAddr = *metricsAddr
	}
	if isFlagSet("log-level") {
		cfg.Node.LogLevel = *logLevel
	}
	if isFlagSet("implementation") {
		cfg.Node.Implementation = *implTag
	}
	return cfg, nil
}

// applyEnvOverrides 应用环境变量覆盖
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv("FABRIC_LISTEN_ADDR"); v != "" {
		cfg.Transport.ListenAddr = v
	}
	if v := os.Getenv("FABRIC_LOG_LEVEL"); v != "" {
		cfg.Node.LogLevel = v
	}
	if v := os.Getenv("FABRIC_METRICS_ADDR"); v != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddr = v
	}
	if v := os.Getenv("FABRIC_CERT_FILE"); v != "" {
		cfg.Security.CertFile = v
	}
	if v := os.Getenv("FABRIC_KEY_FILE"); v != "" {
		cfg.Security.KeyFile = v
	}
	if v := os.Getenv("FABRIC_ROOT_FILE"); v != "" {
		cfg.Security.RootFile = v
	}
}

// isFlagSet 检查命令行参数是否被显式设置
func isFlagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// serveMetrics 在独立端口暴露 Prometheus 指标
func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("指标服务退出", "err", err)
		}
	}()
	logger.Info("指标服务已启动", "addr", addr)
	return srv
}

// printNodeInfo 显示节点信息
func printNodeInfo(r *fabric.Router, cfg *config.Config) {
	fmt.Println("────────────────────────────────────────────────────────────")
	fmt.Printf("  节点标识: %s\n", r.NodeID())
	fmt.Printf("  实现标识: %s\n", r.Implementation())
	fmt.Printf("  传输类别: %s\n", cfg.Transport.Kind)
	if cfg.Transport.ListenAddr != "" {
		fmt.Printf("  监听地址: %s\n", cfg.Transport.ListenAddr)
	}
	if cfg.Metrics.Enabled {
		fmt.Printf("  指标地址: http://%s/metrics\n", cfg.Metrics.ListenAddr)
	}
	fmt.Println("────────────────────────────────────────────────────────────")
}

// waitForSignal 等待退出信号
func waitForSignal() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
}
