// Package emit 把注册表生成的结构体过程输出为独立的 Go 源文件，
// 便于离线审阅、比对或在不使用反射编译的环境中复用。
package emit

import (
	"bytes"
	"fmt"
	"go/format"
	"go/token"
	"io"
	"reflect"
	"strings"
	"text/template"

	"github.com/samber/lo"

	"github.com/lk2023060901/danmu-garden-netser/pkg/netser"
	"github.com/lk2023060901/danmu-garden-netser/pkg/netser/meta"
	"github.com/lk2023060901/danmu-garden-netser/pkg/util/merr"
)

const (
	netserPath = "github.com/lk2023060901/danmu-garden-netser/pkg/netser"
	wirePath   = "github.com/lk2023060901/danmu-garden-netser/pkg/netser/wire"
)

type importSpec struct {
	Alias string
	Path  string
}

type typeUnit struct {
	Func       string
	Qualified  string
	Bases      []string
	BoolGroups [][]string
	Others     []string
}

type file struct {
	Package    string
	NetserPath string
	WirePath   string
	Imports    []importSpec
	Types      []typeUnit
	Skipped    []string
}

// Procedures 为 reg 中全部由生成器编译的结构体输出等价的编码/解码函数，
// 以及一个把它们注册为自定义编解码器的 Register 函数。
// 无法在包外引用的类型（未导出的类型或字段、泛型实例）只在文件头注释中列出。
func Procedures(reg *netser.Registry, w io.Writer, pkgName string) error {
	if !token.IsIdentifier(pkgName) {
		return merr.WrapErrInvalidArgument(fmt.Sprintf("bad package name %q", pkgName))
	}
	if err := reg.Finish(); err != nil {
		return err
	}
	f, err := collect(reg, pkgName)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := sourceTemplate.Execute(&buf, f); err != nil {
		return err
	}
	src, err := format.Source(buf.Bytes())
	if err != nil {
		return merr.WrapErrInvalidArgument("generated source does not parse", err.Error())
	}
	_, err = w.Write(src)
	return err
}

func collect(reg *netser.Registry, pkgName string) (*file, error) {
	f := &file{Package: pkgName, NetserPath: netserPath, WirePath: wirePath}
	aliases := make(map[string]string)
	taken := map[string]struct{}{"netser": {}, "wire": {}, pkgName: {}}

	aliasFor := func(t reflect.Type) string {
		if a, ok := aliases[t.PkgPath()]; ok {
			return a
		}
		base, _, _ := strings.Cut(t.String(), ".")
		alias := base
		for i := 2; ; i++ {
			if _, ok := taken[alias]; !ok {
				break
			}
			alias = fmt.Sprintf("%s%d", base, i)
		}
		taken[alias] = struct{}{}
		aliases[t.PkgPath()] = alias
		f.Imports = append(f.Imports, importSpec{Alias: alias, Path: t.PkgPath()})
		return alias
	}

	for _, t := range reg.Types() {
		p, ok := reg.Procedures(t)
		if !ok || p.Origin != netser.OriginGenerated {
			continue
		}
		desc := reg.Descriptor(t)
		if desc == nil {
			desc = meta.Describe(t, nil)
		}
		if !emittable(t, desc) {
			f.Skipped = append(f.Skipped, t.String())
			continue
		}
		alias := aliasFor(t)
		names := func(fields []meta.Field) []string {
			return lo.Map(fields, func(fd meta.Field, _ int) string { return fd.Name })
		}
		f.Types = append(f.Types, typeUnit{
			Func:       exportName(alias) + t.Name(),
			Qualified:  alias + "." + t.Name(),
			Bases:      names(desc.Base),
			BoolGroups: lo.Chunk(names(desc.Bools), 8),
			Others:     names(desc.Others),
		})
	}
	return f, nil
}

// emittable 判断 t 能否在其它包中以 pkg.Name 形式引用并访问全部字段。
func emittable(t reflect.Type, desc *meta.Descriptor) bool {
	if t.Name() == "" || t.PkgPath() == "" || !token.IsExported(t.Name()) || strings.Contains(t.Name(), "[") {
		return false
	}
	for _, group := range [][]meta.Field{desc.Base, desc.Bools, desc.Others} {
		for _, fd := range group {
			if !token.IsExported(fd.Name) {
				return false
			}
		}
	}
	return true
}

func exportName(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

var sourceTemplate = template.Must(template.New("netser").Parse(`// Code generated by netsergen. DO NOT EDIT.

package {{.Package}}
{{range .Skipped}}
// skipped: {{.}}{{end}}

import (
	"{{.NetserPath}}"
	"{{.WirePath}}"
{{range .Imports}}
	{{.Alias}} "{{.Path}}"{{end}}
)

var _ = (*wire.Writer)(nil)

func packBit(b bool, i uint) uint8 {
	if b {
		return 1 << i
	}
	return 0
}
{{range .Types}}
func encode{{.Func}}(ctx *netser.SerializeContext, w *wire.Writer, v *{{.Qualified}}) error {
{{- range .Bases}}
	if err := netser.Encode(ctx, w, &v.{{.}}); err != nil {
		return err
	}
{{- end}}
{{- range .BoolGroups}}
	w.WriteUint8({{range $i, $f := .}}{{if $i}} | {{end}}packBit(bool(v.{{$f}}), {{$i}}){{end}})
{{- end}}
{{- range .Others}}
	if err := netser.Encode(ctx, w, &v.{{.}}); err != nil {
		return err
	}
{{- end}}
	return nil
}

func decode{{.Func}}(ctx *netser.DeserializeContext, r *wire.Reader, v *{{.Qualified}}) error {
{{- range .Bases}}
	if err := netser.Decode(ctx, r, &v.{{.}}); err != nil {
		return err
	}
{{- end}}
{{- range .BoolGroups}}
	{
		bits, err := r.ReadUint8()
		if err != nil {
			return err
		}
{{- range $i, $f := .}}
		v.{{$f}} = bits&(1<<{{$i}}) != 0
{{- end}}
	}
{{- end}}
{{- range .Others}}
	if err := netser.Decode(ctx, r, &v.{{.}}); err != nil {
		return err
	}
{{- end}}
	return nil
}
{{end}}
// Register 把本文件中的过程注册为自定义编解码器，必须在生成之前调用。
func Register(reg *netser.Registry) error {
{{- range .Types}}
	if err := netser.RegisterCodec(reg, encode{{.Func}}, decode{{.Func}}); err != nil {
		return err
	}
{{- end}}
	return nil
}
`))
