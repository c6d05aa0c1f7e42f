package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-garden-netser/internal/json"
	"github.com/lk2023060901/danmu-garden-netser/pkg/netser/scan"
	"github.com/lk2023060901/danmu-garden-netser/pkg/util/merr"
)

const testdataDir = "../../pkg/netser/scan/testdata"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir, err := filepath.Abs(testdataDir)
	require.NoError(t, err)
	t.Chdir(t.TempDir())

	full := append([]string{args[0], "--dir", dir}, args[1:]...)
	return runArgs(full...)
}

func runArgs(args ...string) (string, error) {
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	err := app.Run(append([]string{"netsergen"}, args...))
	return out.String(), err
}

func TestScanJSON(t *testing.T) {
	out, err := run(t, "scan", "--json", "./handlers")
	require.NoError(t, err)

	var res scan.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Targets, 3)
	assert.Equal(t, "onHeal", res.Targets[0].Name)
}

func TestScanTable(t *testing.T) {
	out, err := run(t, "scan", "./handlers", "./broken")
	require.NoError(t, err)
	assert.Contains(t, out, "ARG")
	assert.Contains(t, out, "scan/testdata/handlers.OnHitQuiet")
	assert.Contains(t, out, "skipped")
}

func TestGenStdout(t *testing.T) {
	out, err := run(t, "gen", "--package", "gen", "--pkgpath", "example.com/gen", "--out", "-", "./handlers")
	require.NoError(t, err)
	assert.Contains(t, out, "package gen")
	assert.Contains(t, out, "func RegisterEvents(reg *netser.Registry) error {")
}

func TestGenFile(t *testing.T) {
	_, err := run(t, "gen", "--package", "gen", "--pkgpath", "example.com/gen", "--out", "events_gen.go", "./handlers")
	require.NoError(t, err)
	src, err := os.ReadFile("events_gen.go")
	require.NoError(t, err)
	assert.Contains(t, string(src), "handlers.OnHit")
}

func TestGenNeedsPackage(t *testing.T) {
	_, err := run(t, "gen", "./handlers")
	assert.Error(t, err)
}

func TestScanRecordReplay(t *testing.T) {
	snap := filepath.Join(t.TempDir(), "handlers.snap")
	_, err := run(t, "scan", "--record", snap, "./handlers")
	require.NoError(t, err)

	out, err := runArgs("replay", snap)
	require.NoError(t, err)
	assert.Contains(t, out, "tool: netsergen")
	assert.Contains(t, out, "targets: 3")
	assert.Contains(t, out, "# frame 0")
	assert.Contains(t, out, "scan/testdata/handlers.OnHitQuiet")

	out, err = runArgs("replay", "--json", snap)
	require.NoError(t, err)
	var res scan.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Targets, 3)
	assert.Equal(t, "onHeal", res.Targets[0].Name)
}

func TestReplayEncrypted(t *testing.T) {
	snap := filepath.Join(t.TempDir(), "handlers.snap")
	_, err := run(t, "scan", "--record", snap, "--key", "s3cret", "./handlers")
	require.NoError(t, err)

	out, err := runArgs("replay", "--json", "--key", "s3cret", snap)
	require.NoError(t, err)
	var res scan.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Len(t, res.Targets, 3)

	_, err = runArgs("replay", snap)
	assert.ErrorIs(t, err, merr.ErrInvalidArgument)

	_, err = runArgs("replay", "--key", "wrong", snap)
	assert.ErrorIs(t, err, merr.ErrStreamCorrupt)
}

func TestReplayNeedsFile(t *testing.T) {
	_, err := runArgs("replay")
	assert.ErrorIs(t, err, merr.ErrInvalidArgument)
}
