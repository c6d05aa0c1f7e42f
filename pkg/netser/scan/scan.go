// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package scan 静态扫描 Go 源码，找出可能被订阅到 netser.Event 的回调目标：
// 以值的形式（而不是调用）出现、签名为 func(any, A) 的顶层函数。
package scan

import (
	"context"
	"go/ast"
	"go/token"
	"go/types"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
	"golang.org/x/tools/go/packages"

	"github.com/lk2023060901/danmu-garden-netser/pkg/log"
	"github.com/lk2023060901/danmu-garden-netser/pkg/util/merr"
)

const loadMode = packages.NeedName | packages.NeedSyntax | packages.NeedImports |
	packages.NeedTypes | packages.NeedTypesInfo

// Config 控制扫描范围。
type Config struct {
	// Dir 是执行 go list 的目录，为空时使用当前目录。
	Dir      string
	Patterns []string
	// Tags 是额外的构建标签。
	Tags []string
	// Allow 过滤需要扫描函数体的包，为 nil 时扫描全部包。
	Allow func(pkgPath string) bool
	// Concurrency 限制同时加载的模式数，0 表示不限制。
	Concurrency int
	Logger      *log.MLogger
}

// Candidate 是一个回调目标。
type Candidate struct {
	Package  string `json:"package"`
	PkgName  string `json:"pkg_name"`
	Name     string `json:"name"`
	ArgType  string `json:"arg_type"`
	HasState bool   `json:"has_state"`

	arg types.Type `netser:"-"`
}

// QualifiedName 返回 import path 加函数名，用作目标名。
func (c Candidate) QualifiedName() string {
	return c.Package + "." + c.Name
}

// Result 是一次扫描的结果，Targets 按参数类型与限定名排序。
type Result struct {
	Targets []Candidate `json:"targets"`
	// Skipped 为加载失败而被跳过的包或模式。
	Skipped []string `json:"skipped,omitempty"`
}

// Targets 加载 cfg.Patterns 指定的包并收集回调目标。
// 无法加载的包只记录告警并跳过。
func Targets(ctx context.Context, cfg Config) (*Result, error) {
	if len(cfg.Patterns) == 0 {
		return nil, merr.WrapErrInvalidArgument("no package patterns")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Ctx(ctx).With(log.FieldModule("netser"), log.FieldComponent("scan"))
	}

	pkgs, skipped, err := load(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	states := make(map[string]bool)
	for _, pkg := range pkgs {
		collectStates(pkg, states)
	}

	seen := make(map[string]struct{})
	res := &Result{Skipped: skipped}
	for _, pkg := range pkgs {
		if cfg.Allow != nil && !cfg.Allow(pkg.PkgPath) {
			continue
		}
		for _, c := range references(pkg) {
			key := c.QualifiedName()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			hasState, ok := states[key]
			// 找不到声明时按有状态处理，状态为 nil 时只多写一个空令牌。
			c.HasState = hasState || !ok
			res.Targets = append(res.Targets, c)
		}
	}
	slices.SortFunc(res.Targets, func(a, b Candidate) int {
		if c := strings.Compare(a.ArgType, b.ArgType); c != 0 {
			return c
		}
		return strings.Compare(a.QualifiedName(), b.QualifiedName())
	})
	slices.Sort(res.Skipped)
	logger.Info("callback target scan finished",
		zap.Strings("patterns", cfg.Patterns),
		zap.Int("packages", len(pkgs)),
		zap.Int("targets", len(res.Targets)),
		zap.Int("skipped", len(res.Skipped)))
	return res, nil
}

// load 按模式并发加载，返回去重后的包。
func load(ctx context.Context, cfg Config, logger *log.MLogger) ([]*packages.Package, []string, error) {
	var (
		mu      sync.Mutex
		byPath  = make(map[string]*packages.Package)
		skipped []string
	)
	skip := func(what string, fields ...zap.Field) {
		mu.Lock()
		skipped = append(skipped, what)
		mu.Unlock()
		logger.RatedWarn(1, "skip package that failed to load", append(fields, zap.String("package", what))...)
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Concurrency > 0 {
		g.SetLimit(cfg.Concurrency)
	}
	for _, pattern := range cfg.Patterns {
		pattern := pattern
		g.Go(func() error {
			pcfg := &packages.Config{
				Context: gctx,
				Mode:    loadMode,
				Dir:     cfg.Dir,
				Fset:    token.NewFileSet(),
			}
			if len(cfg.Tags) > 0 {
				pcfg.BuildFlags = []string{"-tags=" + strings.Join(cfg.Tags, ",")}
			}
			list, err := packages.Load(pcfg, pattern)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				skip(pattern, zap.Error(err))
				return nil
			}
			for _, pkg := range list {
				if len(pkg.Errors) > 0 {
					skip(pkg.PkgPath, zap.String("error", pkg.Errors[0].Error()), zap.Int("errors", len(pkg.Errors)))
					continue
				}
				mu.Lock()
				if _, ok := byPath[pkg.PkgPath]; !ok {
					byPath[pkg.PkgPath] = pkg
				}
				mu.Unlock()
			}
			logger.Debug("patterns loaded", zap.String("pattern", pattern), zap.Int("packages", len(list)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	paths := make([]string, 0, len(byPath))
	for path := range byPath {
		paths = append(paths, path)
	}
	slices.Sort(paths)
	out := make([]*packages.Package, len(paths))
	for i, path := range paths {
		out[i] = byPath[path]
	}
	return out, skipped, nil
}

// handlerArg 判断 fn 是否为 func(any, A) 形状的顶层函数，返回 A。
func handlerArg(fn *types.Func) (types.Type, bool) {
	sig, ok := fn.Type().(*types.Signature)
	if !ok || sig.Recv() != nil || sig.TypeParams().Len() > 0 || sig.Variadic() {
		return nil, false
	}
	if sig.Params().Len() != 2 || sig.Results().Len() != 0 {
		return nil, false
	}
	iface, ok := sig.Params().At(0).Type().Underlying().(*types.Interface)
	if !ok || !iface.Empty() {
		return nil, false
	}
	return sig.Params().At(1).Type(), true
}

// collectStates 记录包内每个处理函数是否使用了 state 参数。
func collectStates(pkg *packages.Package, states map[string]bool) {
	for _, file := range pkg.Syntax {
		for _, decl := range file.Decls {
			fd, ok := decl.(*ast.FuncDecl)
			if !ok || fd.Recv != nil || fd.Body == nil {
				continue
			}
			fn, ok := pkg.TypesInfo.Defs[fd.Name].(*types.Func)
			if !ok {
				continue
			}
			if _, ok := handlerArg(fn); !ok {
				continue
			}
			states[pkg.PkgPath+"."+fn.Name()] = usesState(pkg.TypesInfo, fd)
		}
	}
}

func usesState(info *types.Info, fd *ast.FuncDecl) bool {
	first := fd.Type.Params.List[0]
	if len(first.Names) == 0 || first.Names[0].Name == "_" {
		return false
	}
	obj := info.Defs[first.Names[0]]
	used := false
	ast.Inspect(fd.Body, func(n ast.Node) bool {
		if used {
			return false
		}
		if id, ok := n.(*ast.Ident); ok && info.Uses[id] == obj {
			used = true
		}
		return true
	})
	return used
}

// references 找出包内以值形式引用的处理函数。
func references(pkg *packages.Package) []Candidate {
	called := make(map[*ast.Ident]struct{})
	var out []Candidate
	for _, file := range pkg.Syntax {
		ast.Inspect(file, func(n ast.Node) bool {
			if call, ok := n.(*ast.CallExpr); ok {
				switch fun := ast.Unparen(call.Fun).(type) {
				case *ast.Ident:
					called[fun] = struct{}{}
				case *ast.SelectorExpr:
					called[fun.Sel] = struct{}{}
				}
			}
			return true
		})
		ast.Inspect(file, func(n ast.Node) bool {
			id, ok := n.(*ast.Ident)
			if !ok {
				return true
			}
			if _, ok := called[id]; ok {
				return true
			}
			fn, ok := pkg.TypesInfo.Uses[id].(*types.Func)
			if !ok || fn.Pkg() == nil {
				return true
			}
			arg, ok := handlerArg(fn)
			if !ok {
				return true
			}
			out = append(out, Candidate{
				Package: fn.Pkg().Path(),
				PkgName: fn.Pkg().Name(),
				Name:    fn.Name(),
				ArgType: types.TypeString(arg, nil),
				arg:     arg,
			})
			return true
		})
	}
	return out
}
