package scan

import (
	"bytes"
	"fmt"
	"go/format"
	"go/token"
	"go/types"
	"io"
	"path"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/lk2023060901/danmu-garden-netser/pkg/util/merr"
)

const netserPath = "github.com/lk2023060901/danmu-garden-netser/pkg/netser"

type importSet struct {
	self    string
	byPath  map[string]string
	byAlias map[string]string
}

func newImportSet(self string, reserved ...string) *importSet {
	s := &importSet{self: self, byPath: make(map[string]string), byAlias: make(map[string]string)}
	for _, name := range reserved {
		s.byAlias[name] = ""
	}
	return s
}

// qualifier 为 types.TypeString 分配不冲突的包别名。
func (s *importSet) qualifier(pkg *types.Package) string {
	if pkg.Path() == s.self {
		return ""
	}
	return s.alias(pkg.Path(), pkg.Name())
}

func (s *importSet) alias(pkgPath, name string) string {
	if a, ok := s.byPath[pkgPath]; ok {
		return a
	}
	a := name
	for i := 2; ; i++ {
		if _, taken := s.byAlias[a]; !taken {
			break
		}
		a = fmt.Sprintf("%s%d", name, i)
	}
	s.byPath[pkgPath] = a
	s.byAlias[a] = pkgPath
	return a
}

func (s *importSet) lines() []string {
	paths := make([]string, 0, len(s.byPath))
	for p := range s.byPath {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	out := make([]string, len(paths))
	for i, p := range paths {
		if a := s.byPath[p]; a == path.Base(p) {
			out[i] = fmt.Sprintf("%q", p)
		} else {
			out[i] = fmt.Sprintf("%s %q", a, p)
		}
	}
	return out
}

// WriteRegistration 生成 RegisterEvents 函数，为每种参数类型调用一次 netser.RegisterEvent。
// pkgPath 是生成文件所在包的 import path；其他包中未导出的函数无法引用，以注释形式跳过。
func (res *Result) WriteRegistration(w io.Writer, pkgName, pkgPath string) error {
	if !token.IsIdentifier(pkgName) {
		return merr.WrapErrInvalidArgument(fmt.Sprintf("bad package name %q", pkgName))
	}
	imports := newImportSet(pkgPath, pkgName, "reg")
	imports.alias(netserPath, "netser")

	var (
		body    bytes.Buffer
		skipped []string
		group   []Candidate
	)
	flush := func() {
		if len(group) == 0 {
			return
		}
		arg := types.TypeString(group[0].arg, imports.qualifier)
		fmt.Fprintf(&body, "\tif err := netser.RegisterEvent(reg,\n")
		for _, c := range group {
			fn := c.Name
			if c.Package != pkgPath {
				fn = imports.alias(c.Package, c.PkgName) + "." + c.Name
			}
			fmt.Fprintf(&body, "\t\tnetser.Target[%s]{Name: %q, Fn: %s, HasState: %t},\n",
				arg, c.QualifiedName(), fn, c.HasState)
		}
		fmt.Fprintf(&body, "\t); err != nil {\n\t\treturn err\n\t}\n")
		group = group[:0]
	}
	for _, c := range res.Targets {
		if c.arg == nil {
			return merr.WrapErrInvalidArgument(fmt.Sprintf("target %s has no type information", c.QualifiedName()))
		}
		if c.Package != pkgPath && !token.IsExported(c.Name) {
			skipped = append(skipped, c.QualifiedName())
			continue
		}
		if len(group) > 0 && group[0].ArgType != c.ArgType {
			flush()
		}
		group = append(group, c)
	}
	flush()

	var src bytes.Buffer
	src.WriteString("// Code generated by netsergen. DO NOT EDIT.\n\n")
	fmt.Fprintf(&src, "package %s\n\n", pkgName)
	fmt.Fprintf(&src, "import (\n\t%s\n)\n\n", strings.Join(imports.lines(), "\n\t"))
	for _, name := range skipped {
		fmt.Fprintf(&src, "// skipped: %s is not exported\n", name)
	}
	src.WriteString("\n// RegisterEvents 注册扫描得到的全部回调目标。\n")
	src.WriteString("func RegisterEvents(reg *netser.Registry) error {\n")
	src.Write(body.Bytes())
	src.WriteString("\treturn nil\n}\n")

	out, err := format.Source(src.Bytes())
	if err != nil {
		return merr.WrapErrInvalidArgument(fmt.Sprintf("format registration: %v", err))
	}
	_, err = w.Write(out)
	return err
}
