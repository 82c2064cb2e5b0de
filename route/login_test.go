package route

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezbook/autoserver/version"
)

func TestLoginAccepted(t *testing.T) {
	f := newFixture(t)
	reply := f.handle(t, "login", "login", map[string]any{
		"app":   testApp,
		"token": f.storedToken(t),
	})
	assert.Equal(t, map[string]any{"status": LoginOK, "msg": "success"}, reply)
}

func TestLoginWrongTokenRepublishes(t *testing.T) {
	f := newFixture(t)
	stored := f.storedToken(t)

	// Scribble over the companion's copy so the republish is observable.
	path := filepath.Join(f.publishRoot, testApp, "token.txt")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))

	reply := f.handle(t, "login", "login", map[string]any{
		"app":   testApp,
		"token": "wrong-token",
	})
	assert.Equal(t, map[string]any{"status": LoginTokenMismatch, "msg": "token mismatch"}, reply)
	assert.Equal(t, stored, f.publishedToken(t))
}

func TestLoginUnknownApp(t *testing.T) {
	f := newFixture(t)
	reply := f.handle(t, "login", "login", map[string]any{
		"app":   "com.nobody.knows",
		"token": "whatever",
	})
	assert.Equal(t, map[string]any{"status": LoginTokenMismatch, "msg": "token mismatch"}, reply)
}

func TestLoginVersionChanged(t *testing.T) {
	f := newFixture(t)
	tok := f.storedToken(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.workspace, version.FileName), []byte("9.9.9"), 0o644))

	reply := f.handle(t, "login", "login", map[string]any{
		"app":   testApp,
		"token": tok,
	})
	assert.Equal(t, map[string]any{"status": LoginVersionChanged, "msg": "version changed"}, reply)
}

func TestLoginTokenCheckedBeforeVersion(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.workspace, version.FileName), []byte("9.9.9"), 0o644))

	reply := f.handle(t, "login", "login", map[string]any{
		"app":   testApp,
		"token": "wrong-token",
	})
	assert.Equal(t, map[string]any{"status": LoginTokenMismatch, "msg": "token mismatch"}, reply)
}
