package netser

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-garden-netser/internal/json"
	"github.com/lk2023060901/danmu-garden-netser/pkg/netser/wire"
)

func TestSizeReport(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Root((*node)(nil)))
	require.NoError(t, reg.Generate())

	a := &node{Name: "a"}
	b := &node{Name: "b", Next: a}
	a.Next = b

	ctx := reg.NewSerializeContext(nil)
	assert.Nil(t, ctx.Report())
	ctx.EnableReport()

	w := wire.NewWriter(nil)
	require.NoError(t, ctx.Serialize(w, a))

	report := ctx.Report()
	require.NotNil(t, report)
	assert.Equal(t, "*netser.node", report.Root)
	assert.Equal(t, w.Len(), report.Total)
	require.Len(t, report.Objects, 4)
	assert.Equal(t, uint32(0), report.Objects[0].Index)
	assert.Equal(t, "*netser.node", report.Objects[0].Type)
	// 根对象包含除版本号外的全部数据。
	assert.Equal(t, w.Len()-4, report.Objects[0].Bytes)
	assert.Equal(t, "string", report.Objects[1].Type)
	// 首访令牌、长度前缀与一个字节。
	assert.Equal(t, 9, report.Objects[1].Bytes)
	assert.Equal(t, 9, report.Objects[1].SelfBytes)

	require.Len(t, report.ByType, 2)
	assert.Equal(t, TypeSize{Type: "*netser.node", Count: 2, SelfBytes: report.Objects[0].SelfBytes + report.Objects[2].SelfBytes}, report.ByType[0])
	assert.Equal(t, "string", report.ByType[1].Type)
	assert.Equal(t, 2, report.ByType[1].Count)

	js, err := report.JSON()
	require.NoError(t, err)
	var decoded SizeReport
	require.NoError(t, json.Unmarshal(js, &decoded))
	assert.Equal(t, *report, decoded)
}

func TestGraphExport(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Root((*inventory)(nil)))
	require.NoError(t, reg.Generate())

	sword := &item{Name: "sword"}
	defs, err := reg.BuildDefinitions(sword)
	require.NoError(t, err)

	ctx := reg.NewSerializeContext(defs)
	ctx.EnableReport()
	w := wire.NewWriter(nil)
	require.NoError(t, ctx.Serialize(w, &inventory{Best: sword, Items: []*item{sword}}))

	g := ctx.Graph()
	require.NotNil(t, g)
	ids := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		ids = append(ids, n.ID)
	}
	// o0 为 inventory，o1 为 Items 切片。
	assert.Equal(t, []string{"root", "d0", "o0", "o1"}, ids)
	assert.True(t, g.Nodes[1].Definition)
	assert.Equal(t, "*netser.item", g.Nodes[1].Type)
	assert.Equal(t, []GraphEdge{
		{From: "root", To: "o0"},
		{From: "o0", To: "d0"},
		{From: "o0", To: "o1"},
		{From: "o1", To: "d0"},
	}, g.Edges)
	assert.Contains(t, g.TypeEdges, GraphEdge{From: "*netser.inventory", To: "*netser.item", Count: 1})
	assert.Contains(t, g.TypeEdges, GraphEdge{From: "[]*netser.item", To: "*netser.item", Count: 1})
	assert.Contains(t, g.Types, TypeNode{Type: "*netser.item", Count: 1})

	var dot bytes.Buffer
	require.NoError(t, g.WriteDOT(&dot))
	assert.Contains(t, dot.String(), "digraph netser {")
	assert.Contains(t, dot.String(), `"o0" -> "d0";`)

	js, err := g.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(js), `"type_edges"`)

	// 关闭报告的上下文不收集数据。
	plain := reg.NewSerializeContext(defs)
	require.NoError(t, plain.Serialize(wire.NewWriter(nil), &inventory{}))
	assert.Nil(t, plain.Graph())
}
