package config

import (
	"flag"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"

	"jsonrpc-client/internal/filesystem"
)

// Transports.
const (
	TransportHTTP      = "http"
	TransportStdio     = "stdio"
	TransportWebSocket = "ws"
)

// Prefix strategies. Any other value of PrefixStrategy is not accepted;
// a fixed prefix is set with Prefix.
const (
	PrefixSequential = "sequential"
	PrefixFile       = "file"
	PrefixRandom     = "random"
	PrefixNone       = "none"
	PrefixFixed      = "fixed"
)

// Config holds all configurable values for the client and the loopback
// server.
type Config struct {
	ConfigFile string `yaml:"-" json:"-"`

	Transport string   `yaml:"transport" json:"transport"`
	URL       string   `yaml:"url" json:"url"`
	Command   string   `yaml:"command" json:"command"`
	Args      []string `yaml:"args" json:"args"`

	Prefix         string `yaml:"prefix" json:"prefix"`
	PrefixStrategy string `yaml:"prefix_strategy" json:"prefix_strategy"`
	CounterFile    string `yaml:"counter_file" json:"counter_file"`

	TimeoutSec        int               `yaml:"timeout_sec" json:"timeout_sec"`
	ConnectTimeoutSec int               `yaml:"connect_timeout_sec" json:"connect_timeout_sec"`
	HTTPVersion       string            `yaml:"http_version" json:"http_version"`
	Redirects         string            `yaml:"redirects" json:"redirects"`
	Cookies           bool              `yaml:"cookies" json:"cookies"`
	Headers           map[string]string `yaml:"headers" json:"headers"`
	MaxResponseSizeMB int               `yaml:"max_response_size_mb" json:"max_response_size_mb"`

	Journal   string `yaml:"journal" json:"journal"`
	Query     string `yaml:"query" json:"query"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`
	Listen    string `yaml:"listen" json:"listen"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Transport:         TransportHTTP,
		URL:               "http://127.0.0.1:8080/rpc",
		PrefixStrategy:    PrefixSequential,
		TimeoutSec:        60,
		ConnectTimeoutSec: 60,
		Redirects:         "never",
		MaxResponseSizeMB: 50,
		LogLevel:          "info",
		LogFormat:         "console",
		Listen:            "127.0.0.1:8080",
	}
}

// headerFlag collects repeated -header name=value flags.
type headerFlag struct{ headers *map[string]string }

func (h headerFlag) String() string {
	if h.headers == nil {
		return ""
	}
	parts := make([]string, 0, len(*h.headers))
	for k, v := range *h.headers {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (h headerFlag) Set(value string) error {
	name, val, ok := strings.Cut(value, "=")
	if !ok || strings.TrimSpace(name) == "" {
		return fmt.Errorf("header must be name=value, got %q", value)
	}
	if *h.headers == nil {
		*h.headers = make(map[string]string)
	}
	(*h.headers)[strings.TrimSpace(name)] = val
	return nil
}

func newFlagSet(cfg *Config, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("jsonrpc-client", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "Path to a YAML or JSON5 config file")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "Transport (http, stdio or ws)")
	fs.StringVar(&cfg.URL, "url", cfg.URL, "Endpoint URL for http and ws transports")
	fs.StringVar(&cfg.Command, "command", cfg.Command, "Peer command for the stdio transport")
	fs.StringVar(&cfg.Prefix, "prefix", cfg.Prefix, "Fixed id prefix (implies -prefix-strategy fixed)")
	fs.StringVar(&cfg.PrefixStrategy, "prefix-strategy", cfg.PrefixStrategy, "Id prefix strategy (sequential, file, random, none or fixed)")
	fs.StringVar(&cfg.CounterFile, "counter-file", cfg.CounterFile, "Counter file for the file prefix strategy")
	fs.IntVar(&cfg.TimeoutSec, "timeout", cfg.TimeoutSec, "Request timeout in seconds")
	fs.IntVar(&cfg.ConnectTimeoutSec, "connect-timeout", cfg.ConnectTimeoutSec, "Connect timeout in seconds")
	fs.StringVar(&cfg.HTTPVersion, "http-version", cfg.HTTPVersion, "HTTP version (1.1 or 2, empty to negotiate)")
	fs.StringVar(&cfg.Redirects, "redirects", cfg.Redirects, "Redirect policy (follow or never)")
	fs.BoolVar(&cfg.Cookies, "cookies", cfg.Cookies, "Keep cookies across requests")
	fs.Var(headerFlag{&cfg.Headers}, "header", "Extra HTTP header name=value (repeatable)")
	fs.IntVar(&cfg.MaxResponseSizeMB, "max-response-size", cfg.MaxResponseSizeMB, "Maximum response size in MB")
	fs.StringVar(&cfg.Journal, "journal", cfg.Journal, "SQLite file recording every exchange")
	fs.StringVar(&cfg.Query, "query", cfg.Query, "jq expression applied to call results")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (trace, debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (console or json)")
	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "Listen address for serve")
	return fs
}

// ParseFlags parses args on top of the defaults and returns the
// configuration with the remaining positional arguments. When -config is
// given the file is applied first and the flags override it.
func ParseFlags(args []string, fsys filesystem.FileSystemAdapter, output io.Writer) (*Config, []string, error) {
	cfg := Default()
	fs := newFlagSet(cfg, output)
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if cfg.ConfigFile == "" {
		cfg.applyImplied()
		return cfg, fs.Args(), nil
	}

	fileCfg := Default()
	if err := LoadFile(cfg.ConfigFile, fsys, fileCfg); err != nil {
		return nil, nil, err
	}
	fileCfg.ConfigFile = cfg.ConfigFile
	// Same arguments again, now on top of the file's values.
	fs = newFlagSet(fileCfg, io.Discard)
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	fileCfg.applyImplied()
	return fileCfg, fs.Args(), nil
}

// applyImplied makes a fixed prefix select the fixed strategy.
func (c *Config) applyImplied() {
	if c.Prefix != "" && (c.PrefixStrategy == "" || c.PrefixStrategy == PrefixSequential) {
		c.PrefixStrategy = PrefixFixed
	}
}

// LoadFile reads path into cfg. ".yaml" and ".yml" files are YAML; every
// other extension is read as JSON5, which includes plain JSON.
func LoadFile(path string, fsys filesystem.FileSystemAdapter, cfg *Config) error {
	data, err := fsys.ReadFileBytes(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("yaml parse %s: %w", path, err)
		}
	default:
		if err := json5.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("json5 parse %s: %w", path, err)
		}
	}
	return nil
}

// Validate checks if the configuration values are valid for a client.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportHTTP, TransportWebSocket:
		u, err := url.Parse(c.URL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("url is required and must be absolute for the %s transport", c.Transport)
		}
		if c.Transport == TransportHTTP && u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("url scheme must be http or https for the http transport")
		}
		if c.Transport == TransportWebSocket && u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("url scheme must be ws or wss for the ws transport")
		}
	case TransportStdio:
		if strings.TrimSpace(c.Command) == "" {
			return fmt.Errorf("command is required for the stdio transport")
		}
	default:
		return fmt.Errorf("transport must be 'http', 'stdio' or 'ws'")
	}

	switch c.PrefixStrategy {
	case PrefixSequential, PrefixRandom, PrefixNone:
	case PrefixFile:
		if c.CounterFile == "" {
			return fmt.Errorf("counter file is required for the file prefix strategy")
		}
	case PrefixFixed:
		if c.Prefix == "" {
			return fmt.Errorf("prefix is required for the fixed prefix strategy")
		}
	default:
		return fmt.Errorf("prefix strategy must be one of sequential, file, random, none or fixed")
	}

	if c.TimeoutSec < 1 || c.TimeoutSec > 300 {
		return fmt.Errorf("request timeout must be between 1 and 300 seconds")
	}
	if c.ConnectTimeoutSec < 1 || c.ConnectTimeoutSec > 300 {
		return fmt.Errorf("connect timeout must be between 1 and 300 seconds")
	}
	if c.HTTPVersion != "" && c.HTTPVersion != "1.1" && c.HTTPVersion != "2" {
		return fmt.Errorf("http version must be '1.1' or '2'")
	}
	if c.Redirects != "follow" && c.Redirects != "never" {
		return fmt.Errorf("redirects must be 'follow' or 'never'")
	}
	if c.MaxResponseSizeMB < 1 || c.MaxResponseSizeMB > 1024 {
		return fmt.Errorf("max response size must be between 1 and 1024 MB")
	}
	return c.validateLogging()
}

// ValidateServer checks the subset of values used by the loopback server.
func (c *Config) ValidateServer() error {
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("listen address is required")
	}
	return c.validateLogging()
}

func (c *Config) validateLogging() error {
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be one of trace, debug, info, warn or error")
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("log format must be 'console' or 'json'")
	}
	return nil
}
