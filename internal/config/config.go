package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main seance configuration
type Config struct {
	// Server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Model backend
	Model ModelConfig `json:"model" mapstructure:"model"`

	// Tool service
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Chat loop
	Chat ChatConfig `json:"chat" mapstructure:"chat"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Telemetry
	Telemetry TelemetryConfig `json:"telemetry" mapstructure:"telemetry"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds the HTTP/websocket listener configuration
type ServerConfig struct {
	Host            string `json:"host" mapstructure:"host"`
	Port            int    `json:"port" mapstructure:"port"`
	WriteTimeout    int    `json:"write_timeout" mapstructure:"write_timeout"`       // seconds, 0 disables
	ShutdownTimeout int    `json:"shutdown_timeout" mapstructure:"shutdown_timeout"` // seconds
}

// ModelConfig holds model backend configuration
type ModelConfig struct {
	Provider       string  `json:"provider" mapstructure:"provider"` // ollama, openai, anthropic
	BaseURL        string  `json:"base_url" mapstructure:"base_url"`
	APIKey         string  `json:"api_key" mapstructure:"api_key"`
	Default        string  `json:"default" mapstructure:"default"`
	Temperature    float64 `json:"temperature" mapstructure:"temperature"`
	NumCtx         int     `json:"num_ctx" mapstructure:"num_ctx"`
	NumPredict     int     `json:"num_predict" mapstructure:"num_predict"`
	KeepAlive      string  `json:"keep_alive" mapstructure:"keep_alive"`
	ListTimeout    int     `json:"list_timeout" mapstructure:"list_timeout"`       // seconds
	PreloadTimeout int     `json:"preload_timeout" mapstructure:"preload_timeout"` // seconds
}

// ToolsConfig holds the external tool service configuration
type ToolsConfig struct {
	Endpoint         string `json:"endpoint" mapstructure:"endpoint"`
	Token            string `json:"token" mapstructure:"token"`
	Transport        string `json:"transport" mapstructure:"transport"`       // sse, streamable
	CallTimeout      int    `json:"call_timeout" mapstructure:"call_timeout"` // seconds, 0 disables
	CacheTTL         int    `json:"cache_ttl" mapstructure:"cache_ttl"`       // seconds
	WarmSchedule     string `json:"warm_schedule" mapstructure:"warm_schedule"`
	DefaultQueryTool string `json:"default_query_tool" mapstructure:"default_query_tool"`
	QueryArgument    string `json:"query_argument" mapstructure:"query_argument"`
	ContextQuery     string `json:"context_query" mapstructure:"context_query"`
	AuditLog         string `json:"audit_log" mapstructure:"audit_log"`
}

// ChatConfig holds round controller configuration
type ChatConfig struct {
	MaxRounds           int    `json:"max_rounds" mapstructure:"max_rounds"`
	HistoryWindow       int    `json:"history_window" mapstructure:"history_window"`
	ResultLimit         int    `json:"result_limit" mapstructure:"result_limit"` // characters, negative disables
	FirstRoundDirective bool   `json:"first_round_directive" mapstructure:"first_round_directive"`
	SystemPromptFile    string `json:"system_prompt_file" mapstructure:"system_prompt_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`

	RedactPatterns []string `json:"redact_patterns,omitempty" mapstructure:"redact_patterns"`
}

// TelemetryConfig holds tracing configuration
type TelemetryConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultContextQuery summarises detections by level and rule name.
const DefaultContextQuery = "search index=main sourcetype=chainsaw | stats count by level, name | sort - count | head 20"

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			WriteTimeout:    30,
			ShutdownTimeout: 30,
		},
		Model: ModelConfig{
			Provider:       "ollama",
			BaseURL:        "http://localhost:11434",
			Temperature:    0,
			NumCtx:         4096,
			NumPredict:     1024,
			KeepAlive:      "5m",
			ListTimeout:    5,
			PreloadTimeout: 300,
		},
		Tools: ToolsConfig{
			Endpoint:         "http://localhost:8050/sse",
			Transport:        "sse",
			CallTimeout:      120,
			CacheTTL:         300,
			WarmSchedule:     "@every 4m",
			DefaultQueryTool: "search_splunk",
			QueryArgument:    "search_query",
			ContextQuery:     DefaultContextQuery,
		},
		Chat: ChatConfig{
			MaxRounds:           5,
			HistoryWindow:       10,
			ResultLimit:         8000,
			FirstRoundDirective: true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "seance",
			SampleRatio: 1,
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	if masked.Model.APIKey != "" {
		masked.Model.APIKey = "***"
	}
	if masked.Tools.Token != "" {
		masked.Tools.Token = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Model.Provider {
	case "ollama", "openai", "anthropic":
	default:
		return fmt.Errorf("invalid model provider %s (must be: ollama, openai, anthropic)", c.Model.Provider)
	}
	if c.Model.Provider == "anthropic" && c.Model.APIKey == "" {
		return fmt.Errorf("model api_key is required for provider anthropic")
	}
	if c.Model.KeepAlive != "" {
		if _, err := time.ParseDuration(c.Model.KeepAlive); err != nil {
			return fmt.Errorf("invalid model keep_alive %q: %w", c.Model.KeepAlive, err)
		}
	}

	if c.Tools.Endpoint == "" {
		return fmt.Errorf("tools endpoint is required")
	}
	if c.Tools.Transport != "" && c.Tools.Transport != "sse" && c.Tools.Transport != "streamable" {
		return fmt.Errorf("invalid tools transport: %s", c.Tools.Transport)
	}
	if c.Tools.DefaultQueryTool == "" || c.Tools.QueryArgument == "" {
		return fmt.Errorf("tools default_query_tool and query_argument are required")
	}

	if c.Chat.MaxRounds <= 0 {
		return fmt.Errorf("chat max_rounds must be positive, got %d", c.Chat.MaxRounds)
	}
	if c.Chat.HistoryWindow <= 0 {
		return fmt.Errorf("chat history_window must be positive, got %d", c.Chat.HistoryWindow)
	}

	return nil
}

// WriteTimeoutDuration returns the websocket write deadline
func (c ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(c.WriteTimeout) * time.Second
}

// ShutdownTimeoutDuration returns the graceful shutdown budget
func (c ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return time.Duration(c.ShutdownTimeout) * time.Second
}

// KeepAliveDuration parses keep_alive, falling back to five minutes.
func (c ModelConfig) KeepAliveDuration() time.Duration {
	d, err := time.ParseDuration(c.KeepAlive)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// ListTimeoutDuration bounds model listing
func (c ModelConfig) ListTimeoutDuration() time.Duration {
	return time.Duration(c.ListTimeout) * time.Second
}

// PreloadTimeoutDuration bounds model preload
func (c ModelConfig) PreloadTimeoutDuration() time.Duration {
	return time.Duration(c.PreloadTimeout) * time.Second
}

// CallTimeoutDuration bounds each MCP HTTP request
func (c ToolsConfig) CallTimeoutDuration() time.Duration {
	return time.Duration(c.CallTimeout) * time.Second
}

// CacheTTLDuration is the tool catalog freshness window
func (c ToolsConfig) CacheTTLDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}
