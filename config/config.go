// Package config loads the app runner configuration: the app URI, the
// transports to bring up, the graphs to run, and the metrics endpoint.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/c360/graphmesh/errors"
)

// Transport kinds the runner knows how to build.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
	TransportNATS      = "nats"
)

// TransportConfig describes one ingress.
type TransportConfig struct {
	// Kind selects the transport: tcp, websocket or nats.
	Kind string `yaml:"kind"`

	// Protocol names the registered codec. Empty means jsonframe.
	Protocol string `yaml:"protocol,omitempty"`

	// Addr is the listen address for tcp and websocket.
	Addr string `yaml:"addr,omitempty"`

	// Path is the websocket upgrade endpoint. Empty means /ws.
	Path string `yaml:"path,omitempty"`

	// URL and Subject configure the nats transport.
	URL     string `yaml:"url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
}

// GraphConfig names one graph the runner starts.
type GraphConfig struct {
	// Name doubles as the graph ID.
	Name string `yaml:"name"`

	// File is the path of the graph descriptor JSON, relative to the
	// config file.
	File string `yaml:"file"`

	// AutoStart starts the graph with the app. Defaults to true.
	AutoStart *bool `yaml:"auto_start,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// AppConfig is the root of the runner configuration file.
type AppConfig struct {
	URI        string            `yaml:"uri"`
	Transports []TransportConfig `yaml:"transports,omitempty"`
	Graphs     []GraphConfig     `yaml:"graphs,omitempty"`
	Metrics    MetricsConfig     `yaml:"metrics,omitempty"`

	// baseDir resolves relative graph files; set by LoadFile.
	baseDir string
}

// LoadFile reads and validates a YAML config file.
func LoadFile(path string) (*AppConfig, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "AppConfig", "LoadFile", err.Error())
	}
	cfg, err := Parse(text)
	if err != nil {
		return nil, err
	}
	cfg.baseDir = filepath.Dir(path)
	return cfg, nil
}

// Parse decodes and validates YAML config text.
func Parse(text []byte) (*AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal(text, &cfg); err != nil {
		return nil, errors.WrapInvalid(errors.ErrParseError, "AppConfig", "Parse", err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the loaded configuration.
func (c *AppConfig) Validate() error {
	if c.URI == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "AppConfig", "Validate", "uri is required")
	}
	for i, t := range c.Transports {
		switch t.Kind {
		case TransportTCP:
			if t.Addr == "" {
				return errors.WrapInvalid(errors.ErrMissingConfig, "AppConfig", "Validate",
					fmt.Sprintf("transports[%d]: tcp requires addr", i))
			}
		case TransportWebSocket:
			if t.Addr == "" {
				return errors.WrapInvalid(errors.ErrMissingConfig, "AppConfig", "Validate",
					fmt.Sprintf("transports[%d]: websocket requires addr", i))
			}
		case TransportNATS:
			if t.URL == "" || t.Subject == "" {
				return errors.WrapInvalid(errors.ErrMissingConfig, "AppConfig", "Validate",
					fmt.Sprintf("transports[%d]: nats requires url and subject", i))
			}
		default:
			return errors.WrapInvalid(errors.ErrInvalidConfig, "AppConfig", "Validate",
				fmt.Sprintf("transports[%d]: unknown kind %q", i, t.Kind))
		}
	}
	seen := make(map[string]bool, len(c.Graphs))
	for i, g := range c.Graphs {
		if g.Name == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "AppConfig", "Validate",
				fmt.Sprintf("graphs[%d]: name is required", i))
		}
		if g.File == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "AppConfig", "Validate",
				fmt.Sprintf("graphs[%d]: file is required", i))
		}
		if seen[g.Name] {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "AppConfig", "Validate",
				fmt.Sprintf("graphs[%d]: duplicate name %q", i, g.Name))
		}
		seen[g.Name] = true
	}
	if c.Metrics.Enabled && c.Metrics.Port == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "AppConfig", "Validate",
			"metrics.port is required when metrics are enabled")
	}
	return nil
}

// ShouldAutoStart reports whether the graph starts with the app.
func (g GraphConfig) ShouldAutoStart() bool {
	return g.AutoStart == nil || *g.AutoStart
}

// ReadDescriptor loads a graph's descriptor JSON, resolving the path
// against the config file's directory.
func (c *AppConfig) ReadDescriptor(g GraphConfig) ([]byte, error) {
	p := g.File
	if !filepath.IsAbs(p) && c.baseDir != "" {
		p = filepath.Join(c.baseDir, p)
	}
	text, err := os.ReadFile(p)
	if err != nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "AppConfig", "ReadDescriptor",
			fmt.Sprintf("graph %q: %v", g.Name, err))
	}
	return text, nil
}
