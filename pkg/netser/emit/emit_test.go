package emit

import (
	"bytes"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-garden-netser/pkg/netser"
	"github.com/lk2023060901/danmu-garden-netser/pkg/util/merr"
)

type Base struct {
	ID int32
}

type Unit struct {
	Base
	Boss  bool
	Alive bool
	Name  string
	Next  *Unit
	Tags  []string
	Extra *secretive
}

type secretive struct {
	level int32
}

func newRegistry(t *testing.T) *netser.Registry {
	reg := netser.NewRegistry()
	require.NoError(t, reg.Root((*Unit)(nil)))
	require.NoError(t, reg.Generate())
	return reg
}

func TestProcedures(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Procedures(newRegistry(t), &buf, "gen"))
	src := buf.String()

	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "netser_gen.go", src, parser.ParseComments)
	require.NoError(t, err)
	assert.Equal(t, "gen", f.Name.Name)

	funcs := make(map[string]*ast.FuncDecl)
	for _, decl := range f.Decls {
		if fn, ok := decl.(*ast.FuncDecl); ok {
			funcs[fn.Name.Name] = fn
		}
	}
	for _, name := range []string{"encodeEmitUnit", "decodeEmitUnit", "encodeEmitBase", "decodeEmitBase", "Register", "packBit"} {
		assert.Contains(t, funcs, name)
	}
	assert.NotContains(t, funcs, "encodeEmitSecretive")

	imports := make(map[string]string)
	for _, spec := range f.Imports {
		path, err := strconv.Unquote(spec.Path.Value)
		require.NoError(t, err)
		alias := ""
		if spec.Name != nil {
			alias = spec.Name.Name
		}
		imports[path] = alias
	}
	assert.Contains(t, imports, netserPath)
	assert.Contains(t, imports, wirePath)
	assert.Equal(t, "emit", imports["github.com/lk2023060901/danmu-garden-netser/pkg/netser/emit"])

	// 内嵌结构体最先输出，布尔字段按名字排序打包。
	assert.Contains(t, src, "netser.Encode(ctx, w, &v.Base)")
	assert.Contains(t, src, "packBit(bool(v.Alive), 0) | packBit(bool(v.Boss), 1)")
	assert.Contains(t, src, "v.Boss = bits&(1<<1) != 0")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("&v.Extra")), bytes.Index(buf.Bytes(), []byte("&v.Name")))
	assert.Contains(t, src, "// skipped: emit.secretive")
	assert.Contains(t, src, "netser.RegisterCodec(reg, encodeEmitUnit, decodeEmitUnit)")
}

func TestProceduresDeterministic(t *testing.T) {
	var a, b bytes.Buffer
	require.NoError(t, Procedures(newRegistry(t), &a, "gen"))
	require.NoError(t, Procedures(newRegistry(t), &b, "gen"))
	assert.Equal(t, a.String(), b.String())
}

func TestProceduresBadPackage(t *testing.T) {
	var buf bytes.Buffer
	err := Procedures(newRegistry(t), &buf, "not a name")
	assert.ErrorIs(t, err, merr.ErrInvalidArgument)
	assert.Zero(t, buf.Len())
}

func TestAliasCollision(t *testing.T) {
	f, err := collect(newRegistry(t), "emit")
	require.NoError(t, err)
	require.Len(t, f.Imports, 1)
	assert.Equal(t, "emit2", f.Imports[0].Alias)
	for _, u := range f.Types {
		assert.Contains(t, u.Qualified, "emit2.")
	}
}
