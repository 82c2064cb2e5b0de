// Package config resolves the workspace directory and loads the optional
// config.yaml inside it. Protocol constants never come from here; the file
// only carries deployment tunables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// FileName is the optional configuration file inside the workspace.
const FileName = "config.yaml"

// ErrNoWorkspace means neither the argument nor any probe candidate named a
// usable workspace directory.
var ErrNoWorkspace = errors.New("no workspace directory found")

// workspaceCandidates are probed in order when no workspace argument is
// given. The first is where the Xposed companion unpacks the service.
var workspaceCandidates = []string{
	"/sdcard/Android/data/net.ankio.auto.xposed/shell",
	"/data/local/tmp/autoserver",
	"./workspace",
}

// Config carries the deployment tunables.
type Config struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Debug          bool   `yaml:"debug"`
	MaxConnections int    `yaml:"maxConnections"`
	LogMaxBytes    int64  `yaml:"logMaxBytes"`
}

// Default returns the settings used when config.yaml is absent.
func Default() Config {
	return Config{
		Host:           "127.0.0.1",
		Port:           52045,
		MaxConnections: 64,
		LogMaxBytes:    10 << 20,
	}
}

// Load reads config.yaml from workspace. A missing file is not an error;
// keys absent from the file keep their defaults.
func Load(workspace string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(filepath.Join(workspace, FileName))
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.sanitize()
	return cfg, nil
}

// sanitize rewinds unusable values to their defaults.
func (c *Config) sanitize() {
	def := Default()
	if c.Host == "" {
		c.Host = def.Host
	}
	if c.Port <= 0 || c.Port > 65535 {
		c.Port = def.Port
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = def.MaxConnections
	}
	if c.LogMaxBytes <= 0 {
		c.LogMaxBytes = def.LogMaxBytes
	}
}

// Addr returns the listen address in host:port form.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ResolveWorkspace picks the workspace directory: the argument when given,
// otherwise the first probe candidate that exists on this device.
func ResolveWorkspace(arg string) (string, error) {
	if arg != "" {
		if isDir(arg) {
			return arg, nil
		}
		return "", fmt.Errorf("%w: %s", ErrNoWorkspace, arg)
	}
	for _, dir := range workspaceCandidates {
		if isDir(dir) {
			return dir, nil
		}
	}
	return "", ErrNoWorkspace
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
