package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration 支持 JSON 字符串解析的 time.Duration 包装
//
// 支持两种格式：
//   - 字符串："30s"、"5m"、"1h30m"、"100ms"
//   - 数字：纳秒数（向后兼容）
type Duration time.Duration

// Std 返回标准库时长
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String 返回人类可读形式
func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalJSON 实现 json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration string %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*d = Duration(n)
		return nil
	}

	return fmt.Errorf("duration must be a string (e.g. \"30s\") or nanoseconds")
}

// MarshalJSON 实现 json.Marshaler，输出可读字符串
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}
