// Package config holds playmirror's runtime settings.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"playmirror/internal/display"
	"playmirror/internal/input"
)

// Config is the full runtime configuration.
type Config struct {
	Display DisplayConfig `yaml:"display"`
	Input   InputConfig   `yaml:"input"`
	HTTP    HTTPConfig    `yaml:"http"`
}

// DisplayConfig describes the control socket and the mirrored display.
type DisplayConfig struct {
	SocketPath  string `yaml:"socket_path"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	RefreshRate int    `yaml:"refresh_rate"`
	Windowed    bool   `yaml:"windowed"`
}

// InputConfig describes the injection pipes and scroll behaviour.
type InputConfig struct {
	TouchPipe     string `yaml:"touch_pipe"`
	KeyboardPipe  string `yaml:"keyboard_pipe"`
	PointerPipe   string `yaml:"pointer_pipe"`
	PipeUID       int    `yaml:"pipe_uid"`
	PipeGID       int    `yaml:"pipe_gid"`
	ReverseScroll bool   `yaml:"reverse_scroll"`
	DiscreteWheel bool   `yaml:"discrete_wheel"`
}

// HTTPConfig describes the remote control surface. An empty Addr disables
// it.
type HTTPConfig struct {
	Addr     string   `yaml:"addr"`
	Token    string   `yaml:"token"`
	TLS      bool     `yaml:"tls"`
	TLSHosts []string `yaml:"tls_hosts"`
	STUNURL  string   `yaml:"stun_url"`
	EnableWS bool     `yaml:"enable_ws"`
	DebugPNG bool     `yaml:"debug_png"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Display: DisplayConfig{
			SocketPath:  display.DefaultSocketPath,
			Width:       1920,
			Height:      1080,
			RefreshRate: 60,
		},
		Input: InputConfig{
			TouchPipe:    input.DefaultTouchPath,
			KeyboardPipe: input.DefaultKeyboardPath,
			PointerPipe:  input.DefaultPointerPath,
			PipeUID:      1000,
			PipeGID:      1000,
		},
		HTTP: HTTPConfig{
			Addr:     "127.0.0.1:8080",
			STUNURL:  "stun:stun.l.google.com:19302",
			EnableWS: true,
			DebugPNG: true,
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail much later.
func (c *Config) Validate() error {
	if c.Display.SocketPath == "" {
		return errors.New("display.socket_path is empty")
	}
	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		return fmt.Errorf("invalid display size %dx%d", c.Display.Width, c.Display.Height)
	}
	if c.Display.RefreshRate <= 0 {
		return fmt.Errorf("invalid refresh rate %d", c.Display.RefreshRate)
	}
	return nil
}

// Save writes c as YAML.
func Save(c *Config, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// RouterConfig maps the input section onto an input router configuration.
func (c *Config) RouterConfig() input.Config {
	return input.Config{
		TouchPath:     c.Input.TouchPipe,
		KeyboardPath:  c.Input.KeyboardPipe,
		PointerPath:   c.Input.PointerPipe,
		ReverseScroll: c.Input.ReverseScroll,
		DiscreteWheel: c.Input.DiscreteWheel,
	}
}
