package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

// ============================================================================
// Fx 模块测试
// ============================================================================

// TestModule_Load 测试模块加载
func TestModule_Load(t *testing.T) {
	app := fxtest.New(t,
		Module(),
		fx.Invoke(func(m *Metrics) {
			if m == nil {
				t.Error("Metrics is nil")
			}
		}),
	)
	defer app.RequireStart().RequireStop()
}

// TestModule_Provides 测试模块提供的类型
func TestModule_Provides(t *testing.T) {
	var m *Metrics

	app := fxtest.New(t,
		Module(),
		fx.Populate(&m),
	)
	defer app.RequireStart().RequireStop()

	if m == nil {
		t.Fatal("Metrics not populated")
	}

	// 无注册表时收集器照常可用
	m.TransferPosts.Inc()
	m.TransferPosts.Inc()
	if got := testutil.ToFloat64(m.TransferPosts); got != 2 {
		t.Errorf("TransferPosts = %v, want 2", got)
	}
}

// TestModule_Registry 测试收集器注册进外部注册表
func TestModule_Registry(t *testing.T) {
	reg := prometheus.NewRegistry()
	var m *Metrics

	app := fxtest.New(t,
		fx.Supply(reg),
		Module(),
		fx.Populate(&m),
	)
	defer app.RequireStart().RequireStop()

	m.FramesDropped.WithLabelValues(DropTTL).Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "fabric_plane_frames_dropped_total" {
			found = true
		}
	}
	if !found {
		t.Error("fabric_plane_frames_dropped_total 未注册")
	}
}
