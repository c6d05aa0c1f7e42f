package application

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netsergen.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
patterns:
  - ./game/...
allow:
  - example.com/game
output:
  file: events_gen.go
  package: game
  pkgpath: example.com/game
logging:
  scan:
    level: debug
`)
	app := New(WithConfigPath(path), WithOverride("output.package", "arena"))
	require.NoError(t, app.Load())

	s := app.Settings()
	assert.Equal(t, []string{"./game/..."}, s.Patterns)
	assert.Equal(t, "events_gen.go", s.Output.File)
	assert.Equal(t, "arena", s.Output.Package)
	assert.Equal(t, "example.com/game", s.Output.PkgPath)
	assert.Equal(t, 4, s.Concurrency)
	assert.Equal(t, "info", s.Log.Level)

	allow := s.AllowFunc()
	require.NotNil(t, allow)
	assert.True(t, allow("example.com/game/units"))
	assert.False(t, allow("example.com/other"))

	assert.NotNil(t, app.Logger("scan"))
	assert.NotSame(t, app.Logger("scan"), app.Logger("unknown"))
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	app := New()
	require.NoError(t, app.Load())

	s := app.Settings()
	assert.Equal(t, []string{"./..."}, s.Patterns)
	assert.Equal(t, "netser_events_gen.go", s.Output.File)
	assert.Nil(t, s.AllowFunc())
}

func TestLoadFromEnv(t *testing.T) {
	path := writeConfig(t, "output:\n  package: fromfile\n")
	t.Setenv(ConfigPathEnv, path)
	t.Setenv("NETSERGEN_OUTPUT_FILE", "env_gen.go")

	app := New()
	require.NoError(t, app.Load())
	assert.Equal(t, "fromfile", app.Settings().Output.Package)
	assert.Equal(t, "env_gen.go", app.Settings().Output.File)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	app := New(WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Error(t, app.Load())
}
