// Package config 负责加载 CLI 的 JSON 配置文件并套用默认值。环境变量
// 可以覆盖个别字段，优先级为 环境变量 > 配置文件 > 默认值。
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config 描述了 CLI 在启动阶段需要加载的核心配置。
type Config struct {
	Session SessionConfig `json:"session"`
	Storage StorageConfig `json:"storage"`
	Logging LoggingConfig `json:"logging"`
	CLI     CLIConfig     `json:"cli"`
	Runtime RuntimeConfig `json:"runtime"`
}

// SessionConfig 汇集会话授权相关的远端地址。
type SessionConfig struct {
	// StoragePath 是密钥与会话文件的根目录。
	StoragePath string `json:"storage_path"`
	RPCURL      string `json:"rpc_url"`
	KeychainURL string `json:"keychain_url"`
	APIURL      string `json:"api_url"`
	// PresetBaseURL 是预设策略仓库的根地址，留空使用内置地址。
	PresetBaseURL string `json:"preset_base_url"`
}

// StorageConfig 描述会话凭据的持久化后端。
type StorageConfig struct {
	SessionStore SessionStoreConfig `json:"session_store"`
}

// SessionStoreConfig 默认使用本地文件实现，driver 为 mysql 时共享数据库。
type SessionStoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// LoggingConfig 控制日志与审计输出。
type LoggingConfig struct {
	Level   string   `json:"level"`
	Format  string   `json:"format"`
	Outputs []string `json:"outputs"`
	Audit   AuditLog `json:"audit"`
}

// AuditLog 控制审计日志的落盘与轮转。
type AuditLog struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// CLIConfig 放置交互层的通用参数。
type CLIConfig struct {
	JSONOutput bool `json:"json_output"`
	// CallbackTimeoutSeconds 是等待浏览器授权的总预算。
	CallbackTimeoutSeconds int `json:"callback_timeout_seconds"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	// ChainsFile 指向补充链定义的 YAML 文件，留空仅用内置链表。
	ChainsFile string `json:"chains_file"`
}

// DefaultPath 返回未显式指定时的配置文件位置。
func DefaultPath() string {
	return filepath.Join("configs", "starksession.json")
}

// Load 解析指定路径的 JSON 配置文件。文件不存在时返回纯默认配置，
// CLI 在未初始化的机器上也能直接运行。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	var cfg Config
	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// 没有配置文件是合法状态
	case err != nil:
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	default:
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	}

	cfg.applyDefaults()
	cfg.mergeFromEnv()
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults() {
	if c.Session.StoragePath == "" {
		if home, err := os.UserConfigDir(); err == nil {
			c.Session.StoragePath = filepath.Join(home, "starksession")
		} else {
			c.Session.StoragePath = ".starksession"
		}
	}
	if c.Session.RPCURL == "" {
		c.Session.RPCURL = "https://api.cartridge.gg/x/starknet/sepolia"
	}
	if c.Session.KeychainURL == "" {
		c.Session.KeychainURL = "https://x.cartridge.gg"
	}
	if c.Session.APIURL == "" {
		c.Session.APIURL = "https://api.cartridge.gg"
	}

	if c.Storage.SessionStore.Driver == "" {
		c.Storage.SessionStore.Driver = "file"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if len(c.Logging.Outputs) == 0 {
		// stdout 留给结构化结果输出
		c.Logging.Outputs = []string{"stderr"}
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Session.StoragePath, "audit.log")
	}

	if c.CLI.CallbackTimeoutSeconds <= 0 {
		c.CLI.CallbackTimeoutSeconds = 360
	}
}

// mergeFromEnv 套用环境变量覆盖。
func (c *Config) mergeFromEnv() {
	if path := os.Getenv("STARKSESSION_STORAGE_PATH"); path != "" {
		c.Session.StoragePath = path
	}
	if rpcURL := os.Getenv("STARKSESSION_RPC_URL"); rpcURL != "" {
		c.Session.RPCURL = rpcURL
	}
	if keychainURL := os.Getenv("STARKSESSION_KEYCHAIN_URL"); keychainURL != "" {
		c.Session.KeychainURL = keychainURL
	}
	if apiURL := os.Getenv("STARKSESSION_API_URL"); apiURL != "" {
		c.Session.APIURL = apiURL
	}
	if jsonOutput := os.Getenv("STARKSESSION_JSON_OUTPUT"); jsonOutput != "" {
		if parsed, err := strconv.ParseBool(jsonOutput); err == nil {
			c.CLI.JSONOutput = parsed
		}
	}
}
