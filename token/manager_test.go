package token

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezbook/autoserver/storage"
)

type testLogger struct{}

func (l *testLogger) Debug(msg string, args ...any) {}
func (l *testLogger) Info(msg string, args ...any)  {}
func (l *testLogger) Warn(msg string, args ...any)  {}
func (l *testLogger) Error(msg string, args ...any) {}
func (l *testLogger) Fatal(msg string, args ...any) {}

func newTestManager(t *testing.T) (*Manager, *storage.Engine, string, string) {
	t.Helper()
	ws := t.TempDir()
	root := t.TempDir()

	e, err := storage.Open(filepath.Join(ws, "auto_v2.db"))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	m := NewManager(ws, e, &testLogger{}, WithPublishRoot(root))
	return m, e, ws, root
}

func writeApps(t *testing.T, ws string, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(ws, AppsFileName), []byte(content), 0o644))
}

var tokenShape = regexp.MustCompile(`^[0-9A-Za-z]{32}$`)

func TestBootstrapCreatesAndPublishes(t *testing.T) {
	m, e, ws, root := newTestManager(t)
	writeApps(t, ws, "com.app.one\n\n  com.app.two  \n")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "com.app.one"), 0o755))

	require.NoError(t, m.Bootstrap())

	rows, err := e.SelectConditional("auth", "")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Regexp(t, tokenShape, row["token"])
	}

	// Installed app got its token file.
	one, err := e.SelectConditional("auth", "app = ?", "com.app.one")
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(root, "com.app.one", "token.txt"))
	require.NoError(t, err)
	assert.Equal(t, one[0]["token"], string(b))

	// Uninstalled app is skipped without error.
	_, err = os.Stat(filepath.Join(root, "com.app.two", "token.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestBootstrapKeepsExistingTokens(t *testing.T) {
	m, e, ws, _ := newTestManager(t)
	writeApps(t, ws, "com.app.one\n")

	require.NoError(t, m.Bootstrap())
	first, _ := e.SelectConditional("auth", "app = ?", "com.app.one")

	require.NoError(t, m.Bootstrap())
	second, _ := e.SelectConditional("auth", "app = ?", "com.app.one")

	require.Len(t, second, 1)
	assert.Equal(t, first[0]["token"], second[0]["token"])
}

func TestBootstrapSeedsAppsFile(t *testing.T) {
	m, e, ws, root := newTestManager(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, DefaultApp), 0o755))

	require.NoError(t, m.Bootstrap())

	b, err := os.ReadFile(filepath.Join(ws, AppsFileName))
	require.NoError(t, err)
	assert.Equal(t, DefaultApp+"\n", string(b))

	rows, err := e.SelectConditional("auth", "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, DefaultApp, rows[0]["app"])
	assert.Regexp(t, tokenShape, rows[0]["token"])

	published, err := os.ReadFile(filepath.Join(root, DefaultApp, "token.txt"))
	require.NoError(t, err)
	assert.Equal(t, rows[0]["token"], string(published))
}

func TestVerify(t *testing.T) {
	m, e, ws, root := newTestManager(t)
	writeApps(t, ws, "com.app.one\n")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "com.app.one"), 0o755))
	require.NoError(t, m.Bootstrap())

	rows, _ := e.SelectConditional("auth", "app = ?", "com.app.one")
	stored := rows[0]["token"].(string)

	assert.True(t, m.Verify("com.app.one", stored))
	assert.False(t, m.Verify("com.app.one", "wrong"))
	assert.False(t, m.Verify("com.app.unknown", stored))
}

func TestVerifyMismatchRepublishes(t *testing.T) {
	m, e, ws, root := newTestManager(t)
	writeApps(t, ws, "com.app.one\n")
	appDir := filepath.Join(root, "com.app.one")
	require.NoError(t, os.MkdirAll(appDir, 0o755))
	require.NoError(t, m.Bootstrap())

	// Companion holds a corrupted copy.
	tokenPath := filepath.Join(appDir, "token.txt")
	require.NoError(t, os.WriteFile(tokenPath, []byte("garbage"), 0o644))

	assert.False(t, m.Verify("com.app.one", "garbage"))

	rows, _ := e.SelectConditional("auth", "app = ?", "com.app.one")
	b, err := os.ReadFile(tokenPath)
	require.NoError(t, err)
	assert.Equal(t, rows[0]["token"], string(b), "stored token re-published on mismatch")
}

func TestWatcherRefreshesTokens(t *testing.T) {
	m, e, ws, _ := newTestManager(t)
	writeApps(t, ws, "com.app.one\n")
	require.NoError(t, m.Bootstrap())

	w := NewWatcher(m, WithDebounce(20*time.Millisecond))
	require.NoError(t, w.Start())
	t.Cleanup(func() { w.Stop() })

	writeApps(t, ws, "com.app.one\ncom.app.new\n")

	require.Eventually(t, func() bool {
		rows, err := e.SelectConditional("auth", "app = ?", "com.app.new")
		return err == nil && len(rows) == 1
	}, 3*time.Second, 25*time.Millisecond, "new app never got a token")
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	m, e, ws, _ := newTestManager(t)
	writeApps(t, ws, "com.app.one\n")
	require.NoError(t, m.Bootstrap())

	w := NewWatcher(m, WithDebounce(20*time.Millisecond))
	require.NoError(t, w.Start())
	t.Cleanup(func() { w.Stop() })

	require.NoError(t, os.WriteFile(filepath.Join(ws, "other.txt"), []byte("x"), 0o644))
	time.Sleep(100 * time.Millisecond)

	rows, err := e.SelectConditional("auth", "")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
