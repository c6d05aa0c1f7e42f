package netser

import (
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/exp/slices"

	"github.com/lk2023060901/danmu-garden-netser/internal/json"
)

const rootNodeID = "root"

func nodeID(index uint32, def bool) string {
	if def {
		return "d" + strconv.FormatUint(uint64(index), 10)
	}
	return "o" + strconv.FormatUint(uint64(index), 10)
}

// SizeEntry 是单个首次访问对象的字节统计，Bytes 包含子对象，SelfBytes 不包含。
type SizeEntry struct {
	Index     uint32 `json:"index"`
	Type      string `json:"type"`
	Bytes     int    `json:"bytes"`
	SelfBytes int    `json:"self_bytes"`
}

// TypeSize 是按类型聚合的统计。
type TypeSize struct {
	Type      string `json:"type"`
	Count     int    `json:"count"`
	SelfBytes int    `json:"self_bytes"`
}

// SizeReport 描述一次序列化操作中各对象占用的字节数。
type SizeReport struct {
	Root    string      `json:"root"`
	Total   int         `json:"total"`
	Objects []SizeEntry `json:"objects"`
	ByType  []TypeSize  `json:"by_type"`
}

func (s *SizeReport) JSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

type GraphNode struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Definition bool   `json:"definition,omitempty"`
}

type GraphEdge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Count int    `json:"count,omitempty"`
}

type TypeNode struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// GraphExport 是一次序列化操作遍历到的对象图，同时给出按实例和按类型两种视图。
type GraphExport struct {
	Nodes     []GraphNode `json:"nodes"`
	Edges     []GraphEdge `json:"edges"`
	Types     []TypeNode  `json:"types"`
	TypeEdges []GraphEdge `json:"type_edges"`
}

func (g *GraphExport) JSON() ([]byte, error) {
	return json.MarshalIndent(g, "", "  ")
}

// WriteDOT 以 GraphViz DOT 格式写出按实例的对象图。
func (g *GraphExport) WriteDOT(w io.Writer) error {
	var sb strings.Builder
	sb.WriteString("digraph netser {\n")
	for _, n := range g.Nodes {
		shape := "box"
		if n.Definition {
			shape = "ellipse"
		}
		fmt.Fprintf(&sb, "  %q [label=%q shape=%s];\n", n.ID, n.ID+": "+n.Type, shape)
	}
	for _, e := range g.Edges {
		fmt.Fprintf(&sb, "  %q -> %q;\n", e.From, e.To)
	}
	sb.WriteString("}\n")
	_, err := io.WriteString(w, sb.String())
	return err
}

type reportBuilder struct {
	root  reflect.Type
	total int

	types   map[string]reflect.Type
	sizes   map[uint32]SizeEntry
	defined map[uint32]reflect.Type
	edges   []GraphEdge
}

func newReportBuilder() *reportBuilder {
	return &reportBuilder{
		types:   make(map[string]reflect.Type),
		sizes:   make(map[uint32]SizeEntry),
		defined: make(map[uint32]reflect.Type),
	}
}

func (b *reportBuilder) node(index uint32, t reflect.Type) {
	b.types[nodeID(index, false)] = t
}

func (b *reportBuilder) definition(index uint32, t reflect.Type) {
	b.defined[index] = t
	b.types[nodeID(index, true)] = t
}

func (b *reportBuilder) edge(from, to string) {
	b.edges = append(b.edges, GraphEdge{From: from, To: to})
}

func (b *reportBuilder) add(index uint32, t reflect.Type, size, self int) {
	b.sizes[index] = SizeEntry{Index: index, Type: t.String(), Bytes: size, SelfBytes: self}
}

func (b *reportBuilder) finish(root reflect.Type, total int) {
	b.root = root
	b.total = total
	b.types[rootNodeID] = root
}

func (b *reportBuilder) typeName(id string) string {
	if t, ok := b.types[id]; ok && t != nil {
		return t.String()
	}
	return "<nil>"
}

func (b *reportBuilder) sizeReport() *SizeReport {
	objects := lo.Values(b.sizes)
	slices.SortFunc(objects, func(x, y SizeEntry) int {
		return int(x.Index) - int(y.Index)
	})
	byType := make(map[string]*TypeSize)
	for _, o := range objects {
		ts, ok := byType[o.Type]
		if !ok {
			ts = &TypeSize{Type: o.Type}
			byType[o.Type] = ts
		}
		ts.Count++
		ts.SelfBytes += o.SelfBytes
	}
	aggregated := lo.Map(lo.Values(byType), func(ts *TypeSize, _ int) TypeSize { return *ts })
	slices.SortFunc(aggregated, func(x, y TypeSize) int {
		return strings.Compare(x.Type, y.Type)
	})
	root := ""
	if b.root != nil {
		root = b.root.String()
	}
	return &SizeReport{Root: root, Total: b.total, Objects: objects, ByType: aggregated}
}

func (b *reportBuilder) graph() *GraphExport {
	ids := lo.Keys(b.types)
	slices.SortFunc(ids, compareNodeIDs)
	nodes := lo.Map(ids, func(id string, _ int) GraphNode {
		return GraphNode{ID: id, Type: b.typeName(id), Definition: strings.HasPrefix(id, "d")}
	})

	typeCount := lo.CountValuesBy(ids, b.typeName)
	types := lo.MapToSlice(typeCount, func(t string, n int) TypeNode {
		return TypeNode{Type: t, Count: n}
	})
	slices.SortFunc(types, func(x, y TypeNode) int {
		return strings.Compare(x.Type, y.Type)
	})

	edgeCount := make(map[[2]string]int)
	for _, e := range b.edges {
		edgeCount[[2]string{b.typeName(e.From), b.typeName(e.To)}]++
	}
	typeEdges := lo.MapToSlice(edgeCount, func(k [2]string, n int) GraphEdge {
		return GraphEdge{From: k[0], To: k[1], Count: n}
	})
	slices.SortFunc(typeEdges, func(x, y GraphEdge) int {
		if c := strings.Compare(x.From, y.From); c != 0 {
			return c
		}
		return strings.Compare(x.To, y.To)
	})

	return &GraphExport{
		Nodes:     nodes,
		Edges:     slices.Clone(b.edges),
		Types:     types,
		TypeEdges: typeEdges,
	}
}

// compareNodeIDs 按 root、定义、对象下标的顺序排列节点。
func compareNodeIDs(x, y string) int {
	rank := func(id string) (int, uint64) {
		if id == rootNodeID {
			return 0, 0
		}
		n, _ := strconv.ParseUint(id[1:], 10, 32)
		if id[0] == 'd' {
			return 1, n
		}
		return 2, n
	}
	rx, nx := rank(x)
	ry, ny := rank(y)
	if rx != ry {
		return rx - ry
	}
	switch {
	case nx < ny:
		return -1
	case nx > ny:
		return 1
	}
	return 0
}

// Report 返回最近一次操作的大小报告，未调用 EnableReport 时返回 nil。
func (c *SerializeContext) Report() *SizeReport {
	if c.report == nil {
		return nil
	}
	return c.report.sizeReport()
}

// Graph 返回最近一次操作的对象图，未调用 EnableReport 时返回 nil。
func (c *SerializeContext) Graph() *GraphExport {
	if c.report == nil {
		return nil
	}
	return c.report.graph()
}
