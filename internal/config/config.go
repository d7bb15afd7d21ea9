// Package config loads the TOML configuration shared by the urlcat and
// cached commands. The library itself takes everything through its
// constructor and never reads a config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Duration 兼容纯秒数与 Go Duration 字符串（"30s"、"5m"）两种配置写法。
type Duration time.Duration

// UnmarshalText lets viper accept either spelling.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// Config 描述两个命令共享的运行时参数。
type Config struct {
	CacheDir        string   `mapstructure:"CacheDir"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	ListenPort      int      `mapstructure:"ListenPort"`
}

// Validate 在加载后做基础校验，尽早暴露配置错误。
func (c *Config) Validate() error {
	if strings.TrimSpace(c.CacheDir) == "" {
		return fmt.Errorf("CacheDir must not be empty")
	}
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		return fmt.Errorf("invalid ListenPort: %d", c.ListenPort)
	}
	return nil
}

// Default 返回不依赖配置文件的缺省配置，urlcat 在未指定 -config 时使用。
func Default() *Config {
	return &Config{
		CacheDir:        filepath.Join(os.TempDir(), "static-cache"),
		LogLevel:        "info",
		LogMaxSize:      100,
		LogMaxBackups:   10,
		LogCompress:     true,
		UpstreamTimeout: Duration(30 * time.Second),
		ListenPort:      5000,
	}
}
