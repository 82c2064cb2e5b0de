// Package token manages per-app credentials: generation, persistence in the
// auth table, publication into each companion app's shared directory, and
// verification at login.
package token

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/GoCodeAlone/modular"
	"github.com/ezbook/autoserver/storage"
)

const (
	// AppsFileName lists the companion app identifiers, one per line.
	AppsFileName = "apps.txt"

	// DefaultApp seeds apps.txt on a fresh workspace.
	DefaultApp = "net.ankio.auto.helper"

	// DefaultPublishRoot is where companion apps pick their token up.
	DefaultPublishRoot = "/sdcard/Android/data"

	tokenFileName = "token.txt"
	tokenLength   = 32
	alphabet      = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

// Manager owns the credential lifecycle. Safe for concurrent use; all state
// lives in the auth table and on disk.
type Manager struct {
	workspace   string
	publishRoot string
	store       *storage.Engine
	logger      modular.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithPublishRoot overrides the token publication root.
func WithPublishRoot(root string) Option {
	return func(m *Manager) { m.publishRoot = root }
}

// NewManager creates a Manager reading apps.txt from workspace.
func NewManager(workspace string, store *storage.Engine, logger modular.Logger, opts ...Option) *Manager {
	m := &Manager{
		workspace:   workspace,
		publishRoot: DefaultPublishRoot,
		store:       store,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Bootstrap ensures every app listed in apps.txt has an auth row and a
// published token file. A missing apps.txt is seeded with DefaultApp so a
// fresh install can pair without manual setup.
func (m *Manager) Bootstrap() error {
	apps, err := m.readApps()
	if err != nil {
		return err
	}
	for _, app := range apps {
		tok, err := m.ensure(app)
		if err != nil {
			return fmt.Errorf("ensure token for %s: %w", app, err)
		}
		m.publish(app, tok)
	}
	return nil
}

// Verify reports whether tok matches the stored credential for app. On a
// mismatch the stored token is published again, so a companion that lost its
// copy heals itself on the next attempt.
func (m *Manager) Verify(app, tok string) bool {
	rows, err := m.store.SelectConditional("auth", "app = ?", app)
	if err != nil || len(rows) == 0 {
		return false
	}
	stored, _ := rows[0]["token"].(string)
	if stored != "" && stored == tok {
		return true
	}
	m.publish(app, stored)
	return false
}

func (m *Manager) readApps() ([]string, error) {
	path := filepath.Join(m.workspace, AppsFileName)
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		b = []byte(DefaultApp + "\n")
		if werr := os.WriteFile(path, b, 0o644); werr != nil {
			return nil, fmt.Errorf("seed %s: %w", AppsFileName, werr)
		}
		m.logger.Info("apps.txt seeded", "app", DefaultApp)
	} else if err != nil {
		return nil, fmt.Errorf("read %s: %w", AppsFileName, err)
	}

	var apps []string
	for _, line := range strings.Split(string(b), "\n") {
		app := strings.TrimSpace(line)
		if app == "" {
			continue
		}
		apps = append(apps, app)
	}
	return apps, nil
}

// ensure returns the stored token for app, creating one when absent.
func (m *Manager) ensure(app string) (string, error) {
	rows, err := m.store.SelectConditional("auth", "app = ?", app)
	if err != nil {
		return "", err
	}
	if len(rows) > 0 {
		tok, _ := rows[0]["token"].(string)
		return tok, nil
	}

	tok, err := generate()
	if err != nil {
		return "", err
	}
	if _, err := m.store.Insert("auth", map[string]any{"app": app, "token": tok}); err != nil {
		return "", err
	}
	m.logger.Info("token created", "app", app)
	return tok, nil
}

// publish writes the token into the app's shared directory. Apps whose
// directory does not exist are not installed yet and are skipped; a write
// failure is logged but never fatal.
func (m *Manager) publish(app, tok string) {
	dir := filepath.Join(m.publishRoot, app)
	if _, err := os.Stat(dir); err != nil {
		return
	}
	path := filepath.Join(dir, tokenFileName)
	if err := os.WriteFile(path, []byte(tok), 0o644); err != nil {
		m.logger.Error("publish token failed", "app", app, "error", err)
		return
	}
	// The companion reads the file as a different uid.
	_ = os.Chmod(path, 0o777)
}

func generate() (string, error) {
	raw := make([]byte, tokenLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("random token: %w", err)
	}
	out := make([]byte, tokenLength)
	for i, v := range raw {
		out[i] = alphabet[int(v)%len(alphabet)]
	}
	return string(out), nil
}
