package config

import (
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"jsonrpc-client/internal/filesystem"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{"defaults", func(*Config) {}, ""},
		{"stdio without command", func(c *Config) { c.Transport = TransportStdio }, "command is required for the stdio transport"},
		{"stdio with command", func(c *Config) { c.Transport = TransportStdio; c.Command = "peer" }, ""},
		{"ws with http url", func(c *Config) { c.Transport = TransportWebSocket }, "url scheme must be ws or wss for the ws transport"},
		{"ws url", func(c *Config) { c.Transport = TransportWebSocket; c.URL = "ws://localhost/rpc/ws" }, ""},
		{"relative url", func(c *Config) { c.URL = "/rpc" }, "url is required and must be absolute for the http transport"},
		{"unknown transport", func(c *Config) { c.Transport = "tcp" }, "transport must be 'http', 'stdio' or 'ws'"},
		{"file strategy without counter", func(c *Config) { c.PrefixStrategy = PrefixFile }, "counter file is required for the file prefix strategy"},
		{"fixed strategy without prefix", func(c *Config) { c.PrefixStrategy = PrefixFixed }, "prefix is required for the fixed prefix strategy"},
		{"unknown strategy", func(c *Config) { c.PrefixStrategy = "uuid" }, "prefix strategy must be one of sequential, file, random, none or fixed"},
		{"timeout zero", func(c *Config) { c.TimeoutSec = 0 }, "request timeout must be between 1 and 300 seconds"},
		{"timeout above upper bound", func(c *Config) { c.TimeoutSec = 301 }, "request timeout must be between 1 and 300 seconds"},
		{"timeout upper bound", func(c *Config) { c.TimeoutSec = 300 }, ""},
		{"connect timeout", func(c *Config) { c.ConnectTimeoutSec = -1 }, "connect timeout must be between 1 and 300 seconds"},
		{"http version", func(c *Config) { c.HTTPVersion = "3" }, "http version must be '1.1' or '2'"},
		{"redirects", func(c *Config) { c.Redirects = "sometimes" }, "redirects must be 'follow' or 'never'"},
		{"log level", func(c *Config) { c.LogLevel = "verbose" }, "log level must be one of trace, debug, info, warn or error"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "log format must be 'console' or 'json'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.errorMsg {
				t.Errorf("expected error %q, got %v", tt.errorMsg, err)
			}
		})
	}
}

func TestParseFlags_Overrides(t *testing.T) {
	fs := filesystem.NewDefaultFileSystemAdapter()
	cfg, rest, err := ParseFlags([]string{
		"-url", "https://rpc.example.com/v1",
		"-prefix", "job7",
		"-header", "Authorization=Bearer x",
		"-header", "X-Trace=1",
		"-timeout", "5",
		"call", "ping",
	}, fs, io.Discard)
	if err != nil {
		t.Fatalf("ParseFlags failed: %v", err)
	}
	if diff := cmp.Diff([]string{"call", "ping"}, rest); diff != "" {
		t.Errorf("positional args mismatch (-want +got):\n%s", diff)
	}
	if cfg.URL != "https://rpc.example.com/v1" || cfg.TimeoutSec != 5 {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if cfg.PrefixStrategy != PrefixFixed {
		t.Errorf("a prefix must select the fixed strategy, got %q", cfg.PrefixStrategy)
	}
	want := map[string]string{"Authorization": "Bearer x", "X-Trace": "1"}
	if diff := cmp.Diff(want, cfg.Headers); diff != "" {
		t.Errorf("headers mismatch (-want +got):\n%s", diff)
	}
}

func TestParseFlags_BadHeader(t *testing.T) {
	_, _, err := ParseFlags([]string{"-header", "novalue"}, filesystem.NewDefaultFileSystemAdapter(), io.Discard)
	if err == nil {
		t.Error("expected error for header without '='")
	}
}

func TestParseFlags_Help(t *testing.T) {
	_, _, err := ParseFlags([]string{"-h"}, filesystem.NewDefaultFileSystemAdapter(), io.Discard)
	if !errors.Is(err, flag.ErrHelp) {
		t.Errorf("expected flag.ErrHelp, got %v", err)
	}
}

func TestParseFlags_ConfigFiles(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "client.yaml")
	yamlContent := `
transport: ws
url: ws://localhost:9000/rpc/ws
prefix_strategy: random
timeout_sec: 20
headers:
  X-Env: staging
`
	json5Path := filepath.Join(dir, "client.json5")
	json5Content := `{
  // comments and trailing commas are fine
  transport: "stdio",
  command: "./peer",
  args: ["--quiet"],
  timeout_sec: 7,
}`
	for path, content := range map[string]string{yamlPath: yamlContent, json5Path: json5Content} {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	fs := filesystem.NewDefaultFileSystemAdapter()

	t.Run("yaml with flag override", func(t *testing.T) {
		cfg, _, err := ParseFlags([]string{"-config", yamlPath, "-timeout", "9"}, fs, io.Discard)
		if err != nil {
			t.Fatalf("ParseFlags failed: %v", err)
		}
		if cfg.Transport != TransportWebSocket || cfg.PrefixStrategy != PrefixRandom {
			t.Errorf("file values not applied: %+v", cfg)
		}
		if cfg.TimeoutSec != 9 {
			t.Errorf("flag must override the file, got timeout %d", cfg.TimeoutSec)
		}
		if cfg.Headers["X-Env"] != "staging" {
			t.Errorf("expected header from file, got %v", cfg.Headers)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("defaults must survive for unset keys, got log level %q", cfg.LogLevel)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected valid config, got %v", err)
		}
	})

	t.Run("json5", func(t *testing.T) {
		cfg, _, err := ParseFlags([]string{"-config", json5Path}, fs, io.Discard)
		if err != nil {
			t.Fatalf("ParseFlags failed: %v", err)
		}
		if cfg.Transport != TransportStdio || cfg.Command != "./peer" || cfg.TimeoutSec != 7 {
			t.Errorf("file values not applied: %+v", cfg)
		}
		if diff := cmp.Diff([]string{"--quiet"}, cfg.Args); diff != "" {
			t.Errorf("args mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := ParseFlags([]string{"-config", filepath.Join(dir, "nope.yaml")}, fs, io.Discard)
		if err == nil {
			t.Error("expected error for missing config file")
		}
	})
}
