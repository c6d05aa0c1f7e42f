package scan

import (
	"bytes"
	"context"
	"go/parser"
	"go/token"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-garden-netser/pkg/util/merr"
)

const handlersPath = "github.com/lk2023060901/danmu-garden-netser/pkg/netser/scan/testdata/handlers"

func scanHandlers(t *testing.T, patterns ...string) *Result {
	t.Helper()
	res, err := Targets(context.Background(), Config{Dir: "testdata", Patterns: patterns, Concurrency: 2})
	require.NoError(t, err)
	return res
}

func TestTargets(t *testing.T) {
	res := scanHandlers(t, "./handlers")
	require.Len(t, res.Targets, 3)

	heal := res.Targets[0]
	assert.Equal(t, handlersPath+".onHeal", heal.QualifiedName())
	assert.Equal(t, handlersPath+".Heal", heal.ArgType)
	assert.False(t, heal.HasState)

	assert.Equal(t, "OnHit", res.Targets[1].Name)
	assert.True(t, res.Targets[1].HasState)
	assert.Equal(t, "OnHitQuiet", res.Targets[2].Name)
	assert.False(t, res.Targets[2].HasState)
	assert.Equal(t, "handlers", res.Targets[2].PkgName)

	for _, c := range res.Targets {
		assert.NotEqual(t, "Called", c.Name)
		assert.NotEqual(t, "notHandler", c.Name)
	}
	assert.Empty(t, res.Skipped)
}

func TestTargetsSkipsBrokenPackages(t *testing.T) {
	res := scanHandlers(t, "./handlers", "./broken")
	assert.Len(t, res.Targets, 3)
	assert.Equal(t, []string{"github.com/lk2023060901/danmu-garden-netser/pkg/netser/scan/testdata/broken"}, res.Skipped)
}

func TestTargetsAllow(t *testing.T) {
	res, err := Targets(context.Background(), Config{
		Dir:      "testdata",
		Patterns: []string{"./handlers"},
		Allow:    func(string) bool { return false },
	})
	require.NoError(t, err)
	assert.Empty(t, res.Targets)
}

func TestTargetsNoPatterns(t *testing.T) {
	_, err := Targets(context.Background(), Config{})
	assert.ErrorIs(t, err, merr.ErrInvalidArgument)
}

func TestWriteRegistrationSamePackage(t *testing.T) {
	res := scanHandlers(t, "./handlers")

	var buf bytes.Buffer
	require.NoError(t, res.WriteRegistration(&buf, "handlers", handlersPath))
	src := buf.String()

	_, err := parser.ParseFile(token.NewFileSet(), "events.go", src, 0)
	require.NoError(t, err)
	assert.Contains(t, src, "// Code generated by netsergen. DO NOT EDIT.")
	assert.Contains(t, src, `"github.com/lk2023060901/danmu-garden-netser/pkg/netser"`)
	assert.Contains(t, src, "func RegisterEvents(reg *netser.Registry) error {")
	assert.Contains(t, src, `netser.Target[Heal]{Name: "`+handlersPath+`.onHeal", Fn: onHeal, HasState: false}`)
	assert.Contains(t, src, `netser.Target[Hit]{Name: "`+handlersPath+`.OnHit", Fn: OnHit, HasState: true}`)
	assert.NotContains(t, src, "skipped:")
}

func TestWriteRegistrationOtherPackage(t *testing.T) {
	res := scanHandlers(t, "./handlers")

	var buf bytes.Buffer
	require.NoError(t, res.WriteRegistration(&buf, "gen", "example.com/gen"))
	src := buf.String()

	_, err := parser.ParseFile(token.NewFileSet(), "events.go", src, 0)
	require.NoError(t, err)
	assert.Contains(t, src, `"`+handlersPath+`"`)
	assert.Contains(t, src, `netser.Target[handlers.Hit]{Name: "`+handlersPath+`.OnHitQuiet", Fn: handlers.OnHitQuiet, HasState: false}`)
	assert.Contains(t, src, "// skipped: "+handlersPath+".onHeal is not exported")
	assert.NotContains(t, src, "Target[handlers.Heal]")

	var again bytes.Buffer
	require.NoError(t, res.WriteRegistration(&again, "gen", "example.com/gen"))
	assert.Equal(t, src, again.String())
}

func TestWriteRegistrationBadPackage(t *testing.T) {
	res := &Result{}
	assert.ErrorIs(t, res.WriteRegistration(&bytes.Buffer{}, "not a name", "x"), merr.ErrInvalidArgument)
}
