// Package metrics 提供核心组件的 Prometheus 指标
//
// 所有收集器集中在一个 Metrics 结构上，由各引擎包按需打点。
// 传入 nil Registerer 时收集器照常工作但不注册，供单元测试使用。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// namespace 指标命名空间
const namespace = "fabric"

// ============================================================================
//                              Metrics - 指标集
// ============================================================================

// Metrics 核心指标集
type Metrics struct {
	// ---- 对等体 ----

	// PeersActive 当前活跃 Peer 数（按角色）
	PeersActive *prometheus.GaugeVec
	// PeersCreated 累计创建的 Peer 数（按角色）
	PeersCreated *prometheus.CounterVec
	// PeerRevivals 客户端 Peer 复活次数
	PeerRevivals prometheus.Counter

	// ---- 句柄代理 ----

	// ProxyEntries 代理表当前条目数
	ProxyEntries prometheus.Gauge
	// ProxyTasksStarted 累计启动的代理泵任务数
	ProxyTasksStarted prometheus.Counter
	// ProxyCollapses 配对折叠次数
	ProxyCollapses prometheus.Counter
	// ProxyFuses 同节点熔合次数
	ProxyFuses prometheus.Counter

	// ---- 句柄传递 ----

	// TransferRecords 传递表当前记录数
	TransferRecords prometheus.Gauge
	// TransferPosts 累计投递次数
	TransferPosts prometheus.Counter
	// TransferFinds 累计取回次数
	TransferFinds prometheus.Counter

	// ---- 链路与转发 ----

	// ConnectingLinks 建立中的链路数
	ConnectingLinks prometheus.Gauge
	// LinksActive 当前已发布链路数
	LinksActive prometheus.Gauge
	// FramesForwarded 代他节点转发的帧数
	FramesForwarded prometheus.Counter
	// FramesDropped 丢弃的帧数（按原因）
	FramesDropped *prometheus.CounterVec

	// ---- 召唤 ----

	// SummonPasses 完成的召唤轮数
	SummonPasses prometheus.Counter
	// SummonFailures 中止的召唤轮数
	SummonFailures prometheus.Counter
}

// New 创建指标集并注册到 reg
//
// reg 为 nil 时只创建不注册。
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PeersActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "peers",
			Name:      "active",
			Help:      "当前活跃 Peer 数",
		}, []string{"role"}),
		PeersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "peers",
			Name:      "created_total",
			Help:      "累计创建的 Peer 数",
		}, []string{"role"}),
		PeerRevivals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "peers",
			Name:      "revivals_total",
			Help:      "客户端 Peer 复活次数",
		}),
		ProxyEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "entries",
			Help:      "代理表当前条目数",
		}),
		ProxyTasksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "tasks_started_total",
			Help:      "累计启动的代理泵任务数",
		}),
		ProxyCollapses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "collapses_total",
			Help:      "配对折叠次数",
		}),
		ProxyFuses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "fuses_total",
			Help:      "同节点熔合次数",
		}),
		TransferRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "records",
			Help:      "传递表当前记录数",
		}),
		TransferPosts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "posts_total",
			Help:      "累计投递次数",
		}),
		TransferFinds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "finds_total",
			Help:      "累计取回次数",
		}),
		ConnectingLinks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "links",
			Name:      "connecting",
			Help:      "建立中的链路数",
		}),
		LinksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "links",
			Name:      "active",
			Help:      "当前已发布链路数",
		}),
		FramesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "plane",
			Name:      "frames_forwarded_total",
			Help:      "代他节点转发的帧数",
		}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "plane",
			Name:      "frames_dropped_total",
			Help:      "丢弃的帧数",
		}, []string{"reason"}),
		SummonPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routes",
			Name:      "summon_passes_total",
			Help:      "完成的召唤轮数",
		}),
		SummonFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routes",
			Name:      "summon_failures_total",
			Help:      "中止的召唤轮数",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.PeersActive, m.PeersCreated, m.PeerRevivals,
			m.ProxyEntries, m.ProxyTasksStarted, m.ProxyCollapses, m.ProxyFuses,
			m.TransferRecords, m.TransferPosts, m.TransferFinds,
			m.ConnectingLinks, m.LinksActive,
			m.FramesForwarded, m.FramesDropped,
			m.SummonPasses, m.SummonFailures,
		)
	}
	return m
}

// Nop 创建不注册的指标集（测试用）
func Nop() *Metrics {
	return New(nil)
}

// 丢帧原因标签值
const (
	// DropTTL 跳数耗尽
	DropTTL = "ttl"
	// DropNoRoute 无路由
	DropNoRoute = "no_route"
	// DropPolicy 路由策略拒绝
	DropPolicy = "policy"
	// DropBadFrame 帧解码失败
	DropBadFrame = "bad_frame"
)
