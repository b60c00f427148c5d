package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 默认配置应当开箱即用
func TestDefaultsValid(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, TransportQUIC, cfg.Transport.Kind)
	assert.True(t, cfg.Node.ClientRouting)
	assert.True(t, cfg.Security.Ephemeral())
	assert.False(t, cfg.Metrics.Enabled)
}

func TestValidateRejections(t *testing.T) {
	cases := map[string]func(*Config){
		"未知传输类别": func(c *Config) { c.Transport.Kind = "tcp" },
		"监听地址畸形": func(c *Config) { c.Transport.ListenAddr = "no-port" },
		"拨号超时为零": func(c *Config) { c.Transport.DialTimeout = 0 },
		"流上限为零":  func(c *Config) { c.Transport.QUIC.MaxStreams = 0 },
		"凭据缺私钥":  func(c *Config) { c.Security.CertFile = "/tmp/a.crt"; c.Security.RootFile = "/tmp/ca.crt" },
		"日志级别未知": func(c *Config) { c.Node.LogLevel = "verbose" },
		"实现标识为空": func(c *Config) { c.Node.Implementation = "" },
		"指标地址为空": func(c *Config) { c.Metrics.Enabled = true; c.Metrics.ListenAddr = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := NewConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// mem 传输不检查 QUIC 参数
func TestMemKindSkipsQUICChecks(t *testing.T) {
	cfg := NewConfig()
	cfg.Transport.Kind = TransportMem
	cfg.Transport.QUIC.MaxStreams = 0
	require.NoError(t, cfg.Validate())
}

func TestJSONRoundTrip(t *testing.T) {
	cfg := NewConfig()
	cfg.Transport.ListenAddr = "0.0.0.0:4433"
	cfg.Transport.DialTimeout = Duration(3 * time.Second)
	cfg.Security.CertFile = "/etc/fabric/node.crt"
	cfg.Security.KeyFile = "/etc/fabric/node.key"
	cfg.Security.RootFile = "/etc/fabric/root.crt"

	data, err := cfg.ToJSON()
	require.NoError(t, err)

	back, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

// 缺省字段落回默认值
func TestFromJSONPartial(t *testing.T) {
	cfg, err := FromJSON([]byte(`{"transport":{"listen_addr":"127.0.0.1:4433"}}`))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4433", cfg.Transport.ListenAddr)
	assert.Equal(t, TransportQUIC, cfg.Transport.Kind)
	assert.Equal(t, DefaultImplementation, cfg.Node.Implementation)
}

func TestDurationFormats(t *testing.T) {
	cfg, err := FromJSON([]byte(`{"transport":{"dial_timeout":"1m30s","hello_timeout":5000000000}}`))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Transport.DialTimeout.Std())
	assert.Equal(t, 5*time.Second, cfg.Transport.HelloTimeout.Std())

	_, err = FromJSON([]byte(`{"transport":{"dial_timeout":"ten seconds"}}`))
	assert.Error(t, err)
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fabric.json")

	cfg := NewConfig()
	cfg.Node.LogLevel = "debug"
	require.NoError(t, cfg.SaveFile(path))

	back, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", back.Node.LogLevel)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
