package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as a Go duration string ("15s") in YAML.
type Duration time.Duration

// UnmarshalYAML parses a duration string such as "1m30s".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration back as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// StreamConfig holds the settings of the NATS event stream.
type StreamConfig struct {
	NATSURL        string   `yaml:"nats_url"`
	SubjectPrefix  string   `yaml:"subject_prefix"`
	Encoding       string   `yaml:"encoding"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// WindowConfig holds the capacities of the rolling buffers.
type WindowConfig struct {
	PacketCapacity         int `yaml:"packet_capacity"`
	HistoryCapacity        int `yaml:"history_capacity"`
	AlertCapacity          int `yaml:"alert_capacity"`
	HeuristicAlertCapacity int `yaml:"heuristic_alert_capacity"`
}

// StatsConfig controls how cumulative statistics are derived.
type StatsConfig struct {
	// Source is either "deltas" or "packets".
	Source          string   `yaml:"source"`
	TopN            int      `yaml:"top_n"`
	RefreshInterval Duration `yaml:"refresh_interval"`
	TrendPoints     int      `yaml:"trend_points"`
}

// DetectorConfig holds the heuristic engine settings.
type DetectorConfig struct {
	MaxWindow       int `yaml:"max_window"`
	HistoryCapacity int `yaml:"history_capacity"`
}

// InsightConfig holds the throttler and insight client settings.
type InsightConfig struct {
	BaseURL          string   `yaml:"base_url"`
	MinInterval      Duration `yaml:"min_interval"`
	Backoff          Duration `yaml:"backoff"`
	RequestTimeout   Duration `yaml:"request_timeout"`
	MaxPromptPackets int      `yaml:"max_prompt_packets"`
	AnalysisInterval Duration `yaml:"analysis_interval"`
	DisplayRetention Duration `yaml:"display_retention"`
}

// APIConfig holds the read API settings.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// AIConfig holds the settings of the insight server and its model backend.
type AIConfig struct {
	ListenAddr        string   `yaml:"listen_addr"`
	GRPCListenAddr    string   `yaml:"grpc_listen_addr"`
	BaseURL           string   `yaml:"base_url"`
	Model             string   `yaml:"model"`
	APIKeys           []string `yaml:"api_keys"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Burst             int      `yaml:"burst"`
	Timeout           Duration `yaml:"timeout"`
}

// ProbeConfig holds the event source settings.
type ProbeConfig struct {
	Interval   Duration `yaml:"interval"`
	AlertRatio float64  `yaml:"alert_ratio"`
}

// LogConfig holds the logger settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Stream   StreamConfig   `yaml:"stream"`
	Window   WindowConfig   `yaml:"window"`
	Stats    StatsConfig    `yaml:"stats"`
	Detector DetectorConfig `yaml:"detector"`
	Insight  InsightConfig  `yaml:"insight"`
	API      APIConfig      `yaml:"api"`
	AI       AIConfig       `yaml:"ai"`
	Probe    ProbeConfig    `yaml:"probe"`
	Log      LogConfig      `yaml:"log"`
}

// APIKeysEnv names the environment variable consulted when no API keys are configured.
const APIKeysEnv = "KSPECTRA_AI_API_KEYS"

// Default returns the configuration used when a field is not set in the file.
func Default() *Config {
	return &Config{
		Stream: StreamConfig{
			NATSURL:        "nats://127.0.0.1:4222",
			SubjectPrefix:  "kspectra",
			Encoding:       "json",
			ConnectTimeout: Duration(5 * time.Second),
		},
		Window: WindowConfig{
			PacketCapacity:         50,
			HistoryCapacity:        100,
			AlertCapacity:          20,
			HeuristicAlertCapacity: 10,
		},
		Stats: StatsConfig{
			Source:          "deltas",
			TopN:            10,
			RefreshInterval: Duration(5 * time.Second),
			TrendPoints:     20,
		},
		Detector: DetectorConfig{
			MaxWindow:       10,
			HistoryCapacity: 100,
		},
		Insight: InsightConfig{
			BaseURL:          "http://127.0.0.1:5000",
			MinInterval:      Duration(15 * time.Second),
			Backoff:          Duration(60 * time.Second),
			RequestTimeout:   Duration(30 * time.Second),
			MaxPromptPackets: 20,
			AnalysisInterval: Duration(10 * time.Second),
			DisplayRetention: Duration(30 * time.Second),
		},
		API: APIConfig{
			ListenAddr: ":8080",
		},
		AI: AIConfig{
			ListenAddr:        ":5000",
			GRPCListenAddr:    ":50052",
			Model:             "gpt-4o-mini",
			RequestsPerSecond: 1,
			Burst:             2,
			Timeout:           Duration(10 * time.Second),
		},
		Probe: ProbeConfig{
			Interval:   Duration(time.Second),
			AlertRatio: 0.2,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads the configuration from a YAML file on top of Default and validates it.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	if len(cfg.AI.APIKeys) == 0 {
		cfg.AI.APIKeys = keysFromEnv(os.Getenv(APIKeysEnv))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that capacities and intervals are usable.
func (c *Config) Validate() error {
	positive := map[string]int{
		"window.packet_capacity":          c.Window.PacketCapacity,
		"window.history_capacity":         c.Window.HistoryCapacity,
		"window.alert_capacity":           c.Window.AlertCapacity,
		"window.heuristic_alert_capacity": c.Window.HeuristicAlertCapacity,
		"stats.top_n":                     c.Stats.TopN,
		"stats.trend_points":              c.Stats.TrendPoints,
		"detector.max_window":             c.Detector.MaxWindow,
		"detector.history_capacity":       c.Detector.HistoryCapacity,
		"insight.max_prompt_packets":      c.Insight.MaxPromptPackets,
	}
	for name, v := range positive {
		if v <= 0 {
			return fmt.Errorf("invalid config: %s must be positive, got %d", name, v)
		}
	}

	durations := map[string]Duration{
		"stats.refresh_interval":    c.Stats.RefreshInterval,
		"insight.analysis_interval": c.Insight.AnalysisInterval,
		"insight.request_timeout":   c.Insight.RequestTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("invalid config: %s must be a positive duration", name)
		}
	}
	if c.Insight.MinInterval < 0 || c.Insight.Backoff < 0 || c.Insight.DisplayRetention < 0 {
		return fmt.Errorf("invalid config: insight intervals must not be negative")
	}

	switch c.Stats.Source {
	case "deltas", "packets":
	default:
		return fmt.Errorf("invalid config: stats.source must be 'deltas' or 'packets', got '%s'", c.Stats.Source)
	}
	switch c.Stream.Encoding {
	case "json", "proto":
	default:
		return fmt.Errorf("invalid config: stream.encoding must be 'json' or 'proto', got '%s'", c.Stream.Encoding)
	}
	if c.Probe.AlertRatio < 0 || c.Probe.AlertRatio > 1 {
		return fmt.Errorf("invalid config: probe.alert_ratio must be within [0,1]")
	}
	return nil
}

func keysFromEnv(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
