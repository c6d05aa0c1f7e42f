package netser

import (
	"bytes"
	"encoding/binary"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/danmu-garden-netser/pkg/metrics"
	"github.com/lk2023060901/danmu-garden-netser/pkg/netser/wire"
	"github.com/lk2023060901/danmu-garden-netser/pkg/util/conc"
	"github.com/lk2023060901/danmu-garden-netser/pkg/util/merr"
)

type node struct {
	Name string
	Next *node
	Peer *node
}

type item struct {
	Name  string
	Power int32
}

type inventory struct {
	Items []*item
	Best  *item
}

// 字段声明顺序与网络序不同。
type flags struct {
	I, C, A, H, G, F, E, D, B bool
	N                         int32
}

type eightFlags struct {
	H, G, F, E, D, C, B, A bool
}

type creature struct {
	Alive bool
	HP    int32
}

// 内嵌结构体声明在最后，编码时仍最先输出。
type hero struct {
	Name  string
	Brave bool
	creature
}

type versioned struct {
	Score int32
}

type leaky struct {
	P *node
}

func newNodeRegistry(s *suite.Suite, opts ...Option) *Registry {
	reg := NewRegistry(opts...)
	s.Require().NoError(reg.Root((*node)(nil)))
	s.Require().NoError(reg.Generate())
	return reg
}

type IdentitySuite struct {
	suite.Suite
}

func (s *IdentitySuite) TestCycle() {
	reg := newNodeRegistry(&s.Suite)

	a := &node{Name: "a"}
	b := &node{Name: "b", Next: a}
	a.Next = b

	data, err := reg.Marshal(a, nil)
	s.Require().NoError(err)

	var out *node
	s.Require().NoError(reg.Unmarshal(data, &out, nil))
	s.Require().NotNil(out)
	s.Equal("a", out.Name)
	s.Require().NotNil(out.Next)
	s.Equal("b", out.Next.Name)
	s.Same(out, out.Next.Next)
	s.Nil(out.Peer)
	s.Nil(out.Next.Peer)

	dctx := reg.NewDeserializeContext(nil)
	s.Require().NoError(dctx.Deserialize(wire.NewReader(data), &out))
	// 两个节点加两个字符串。
	s.Equal(4, dctx.Objects())
}

func (s *IdentitySuite) TestSharedReferences() {
	reg := newNodeRegistry(&s.Suite)

	shared := &node{Name: "shared"}
	root := &node{Name: "root", Next: shared, Peer: shared}
	data, err := reg.Marshal(root, nil)
	s.Require().NoError(err)

	var out *node
	s.Require().NoError(reg.Unmarshal(data, &out, nil))
	s.Same(out.Next, out.Peer)
	s.Equal("shared", out.Next.Name)
	s.Equal(1, bytes.Count(data, []byte("shared")))
}

func (s *IdentitySuite) TestSelfReference() {
	reg := newNodeRegistry(&s.Suite)

	n := &node{Name: "loop"}
	n.Next, n.Peer = n, n
	data, err := reg.Marshal(n, nil)
	s.Require().NoError(err)

	var out *node
	s.Require().NoError(reg.Unmarshal(data, &out, nil))
	s.Same(out, out.Next)
	s.Same(out, out.Peer)
}

func (s *IdentitySuite) TestNilRoot() {
	reg := newNodeRegistry(&s.Suite)

	data, err := reg.Marshal((*node)(nil), nil)
	s.Require().NoError(err)
	s.Equal([]byte{0, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF}, data)

	out := &node{Name: "stale"}
	s.Require().NoError(reg.Unmarshal(data, &out, nil))
	s.Nil(out)
}

func (s *IdentitySuite) TestDeterministicAcrossRegistries() {
	a := &node{Name: "a", Peer: &node{Name: "p"}}
	a.Next = a.Peer

	first, err := newNodeRegistry(&s.Suite).Marshal(a, nil)
	s.Require().NoError(err)
	second, err := newNodeRegistry(&s.Suite).Marshal(a, nil)
	s.Require().NoError(err)
	s.Equal(first, second)
}

func (s *IdentitySuite) TestDoubleVisitRejected() {
	reg := newNodeRegistry(&s.Suite)
	ctx := reg.NewSerializeContext(nil)

	n := &node{}
	s.Equal(NotYetVisited, ctx.State(n))
	idx, err := ctx.Announce(n)
	s.Require().NoError(err)
	s.Equal(uint32(0), idx)
	s.Equal(FirstVisitInProgress, ctx.State(n))

	_, err = ctx.Announce(n)
	s.ErrorIs(err, merr.ErrIdentityDoubleVisit)
	s.True(merr.IsIdentityErr(err))

	s.NoError(ctx.Leave(n))
	s.Equal(Visited, ctx.State(n))
	s.Equal(NullVisited, ctx.State((*node)(nil)))
	s.Equal(1, ctx.Visited())

	_, err = ctx.Announce(n)
	s.ErrorIs(err, merr.ErrIdentityDoubleVisit)
}

func (s *IdentitySuite) TestLeaveImbalance() {
	reg := newNodeRegistry(&s.Suite)
	ctx := reg.NewSerializeContext(nil)

	a, b := &node{}, &node{}
	s.ErrorIs(ctx.Leave(a), merr.ErrIdentityImbalance)

	_, err := ctx.Announce(a)
	s.Require().NoError(err)
	s.ErrorIs(ctx.Leave(b), merr.ErrIdentityImbalance)
	s.NoError(ctx.Leave(a))
}

func (s *IdentitySuite) TestImbalanceAtEndOfCall() {
	build := func(opts ...Option) *Registry {
		reg := NewRegistry(opts...)
		s.Require().NoError(RegisterCodec[leaky](reg,
			func(ctx *SerializeContext, w *wire.Writer, v *leaky) error {
				_, err := ctx.Announce(v.P)
				return err
			},
			func(ctx *DeserializeContext, r *wire.Reader, v *leaky) error {
				return nil
			}))
		s.Require().NoError(reg.Root(leaky{}))
		s.Require().NoError(reg.Generate())
		return reg
	}

	_, err := build().Marshal(leaky{P: &node{}}, nil)
	s.ErrorIs(err, merr.ErrIdentityImbalance)

	_, err = build(WithChecked(false)).Marshal(leaky{P: &node{}}, nil)
	s.NoError(err)
}

func (s *IdentitySuite) TestMaxDepth() {
	head := &node{Name: "0"}
	cur := head
	for i := 0; i < 10; i++ {
		cur.Next = &node{}
		cur = cur.Next
	}

	_, err := newNodeRegistry(&s.Suite, WithMaxDepth(5)).Marshal(head, nil)
	s.ErrorIs(err, merr.ErrMaxDepthExceeded)

	data, err := newNodeRegistry(&s.Suite).Marshal(head, nil)
	s.Require().NoError(err)
	var out *node
	err = newNodeRegistry(&s.Suite, WithMaxDepth(5)).Unmarshal(data, &out, nil)
	s.ErrorIs(err, merr.ErrMaxDepthExceeded)
}

func (s *IdentitySuite) TestTruncatedStream() {
	reg := newNodeRegistry(&s.Suite)
	a := &node{Name: "a", Peer: &node{Name: "peer"}}
	a.Next = a
	data, err := reg.Marshal(a, nil)
	s.Require().NoError(err)

	for n := 0; n < len(data); n++ {
		var out *node
		err := reg.Unmarshal(data[:n], &out, nil)
		s.Error(err, "prefix %d", n)
		s.True(merr.IsCorruptStream(err), "prefix %d: %v", n, err)
	}

	var out *node
	err = reg.Unmarshal(append(bytes.Clone(data), 0), &out, nil)
	s.ErrorIs(err, merr.ErrStreamCorrupt)
	lenient := newNodeRegistry(&s.Suite, WithChecked(false))
	s.NoError(lenient.Unmarshal(append(bytes.Clone(data), 0), &out, nil))
}

func (s *IdentitySuite) TestBadBackReference() {
	reg := newNodeRegistry(&s.Suite)

	w := wire.NewWriter(nil)
	w.WriteInt32(0)
	w.WriteUint32(7)
	var out *node
	err := reg.Unmarshal(w.Bytes(), &out, nil)
	s.ErrorIs(err, merr.ErrBackReferenceNotSet)
}

func TestIdentity(t *testing.T) {
	suite.Run(t, new(IdentitySuite))
}

type DefinitionSuite struct {
	suite.Suite
	reg *Registry
}

func (s *DefinitionSuite) SetupTest() {
	s.reg = NewRegistry()
	s.Require().NoError(s.reg.Root((*inventory)(nil)))
	s.Require().NoError(s.reg.Generate())
}

func (s *DefinitionSuite) TestSubstitution() {
	sword := &item{Name: "sword", Power: 10}
	defs, err := s.reg.BuildDefinitions(sword)
	s.Require().NoError(err)
	// *item 与它的名字各占一个下标。
	s.Equal(2, defs.Len())
	idx, ok := defs.Index(sword)
	s.True(ok)
	s.Equal(uint32(0), idx)
	got, ok := defs.At(0)
	s.True(ok)
	s.Same(sword, got)

	shield := &item{Name: "shield", Power: 3}
	inv := &inventory{Items: []*item{sword, shield}, Best: sword}

	w := wire.NewWriter(nil)
	ctx := s.reg.NewSerializeContext(defs)
	s.Require().NoError(ctx.Serialize(w, inv))
	s.Equal(2, ctx.DefinitionRefs())
	s.Equal(DefinitionVisited, ctx.State(sword))
	s.Equal(Visited, ctx.State(shield))

	data := w.Bytes()
	s.False(bytes.Contains(data, []byte("sword")))
	s.True(bytes.Contains(data, []byte("shield")))

	dctx := s.reg.NewDeserializeContext(defs)
	var out *inventory
	s.Require().NoError(dctx.Deserialize(wire.NewReader(data), &out))
	s.Require().Len(out.Items, 2)
	s.Same(sword, out.Items[0])
	s.Same(sword, out.Best)
	s.NotSame(shield, out.Items[1])
	s.Equal(*shield, *out.Items[1])
}

func (s *DefinitionSuite) TestDefinitionTokenLayout() {
	sword := &item{Name: "sword"}
	defs, err := s.reg.BuildDefinitions(sword)
	s.Require().NoError(err)

	data, err := s.reg.Marshal(&inventory{Best: sword}, defs)
	s.Require().NoError(err)
	// version, inventory 首访, Best, Items（nil）。Best 在 Items 之前。
	s.Require().Len(data, 16)
	s.Equal(tokenFirstVisit, binary.LittleEndian.Uint32(data[4:]))
	s.Equal(definitionFlag|0, binary.LittleEndian.Uint32(data[8:]))
	s.Equal(tokenNull, binary.LittleEndian.Uint32(data[12:]))
}

func (s *DefinitionSuite) TestMissingTable() {
	sword := &item{Name: "sword"}
	defs, err := s.reg.BuildDefinitions(sword)
	s.Require().NoError(err)
	data, err := s.reg.Marshal(&inventory{Best: sword}, defs)
	s.Require().NoError(err)

	var out *inventory
	err = s.reg.Unmarshal(data, &out, nil)
	s.ErrorIs(err, merr.ErrDefinitionMismatch)

	other, err := s.reg.BuildDefinitions("just a string")
	s.Require().NoError(err)
	err = s.reg.Unmarshal(data, &out, other)
	s.ErrorIs(err, merr.ErrDefinitionMismatch)
}

func (s *DefinitionSuite) TestSharedAcrossObjects() {
	sword := &item{Name: "sword"}
	a := &inventory{Best: sword}
	b := &inventory{Items: []*item{sword}}
	defs, err := s.reg.BuildDefinitions(a, b)
	s.Require().NoError(err)

	// a, sword, "sword", b, b.Items
	s.Equal(5, defs.Len())
	i, ok := defs.Index(sword)
	s.True(ok)
	s.Equal(uint32(1), i)
	_, ok = defs.Index(&item{})
	s.False(ok)
	s.Equal(0, (*DefinitionTable)(nil).Len())
}

func (s *DefinitionSuite) TestNilDefinition() {
	_, err := s.reg.BuildDefinitions(nil)
	s.ErrorIs(err, merr.ErrInvalidArgument)
}

func TestDefinitions(t *testing.T) {
	suite.Run(t, new(DefinitionSuite))
}

type RegistrySuite struct {
	suite.Suite
}

func (s *RegistrySuite) TestBoolPacking() {
	reg := NewRegistry()
	s.Require().NoError(reg.Root(flags{}))
	s.Require().NoError(reg.Root(eightFlags{}))
	s.Require().NoError(reg.Generate())

	in := flags{A: true, C: true, I: true, N: 7}
	data, err := reg.Marshal(in, nil)
	s.Require().NoError(err)
	// A..H 占第一个字节的 bit0..bit7，I 占第二个字节的 bit0。
	s.Equal([]byte{0, 0, 0, 0, 0x05, 0x01, 7, 0, 0, 0}, data)

	var out flags
	s.Require().NoError(reg.Unmarshal(data, &out, nil))
	s.Equal(in, out)

	data, err = reg.Marshal(eightFlags{B: true, H: true}, nil)
	s.Require().NoError(err)
	s.Equal([]byte{0, 0, 0, 0, 0x82}, data)

	desc := reg.Descriptor(reflect.TypeFor[flags]())
	s.Require().NotNil(desc)
	s.Equal(2, desc.BoolBytes())
}

func (s *RegistrySuite) TestEmbeddedBaseFirst() {
	reg := NewRegistry()
	s.Require().NoError(reg.Root(hero{}))
	s.Require().NoError(reg.Generate())

	in := hero{Name: "x", Brave: true, creature: creature{HP: 5}}
	data, err := reg.Marshal(in, nil)
	s.Require().NoError(err)
	// version, creature 的布尔位组与 HP, Brave, Name。
	s.Equal([]byte{
		0, 0, 0, 0,
		0x00, 5, 0, 0, 0,
		0x01,
		0xFE, 0xFF, 0xFF, 0xFF, 1, 0, 0, 0, 'x',
	}, data)

	var out hero
	s.Require().NoError(reg.Unmarshal(data, &out, nil))
	s.Equal(in, out)

	in.Alive, in.Brave = true, false
	data, err = reg.Marshal(in, nil)
	s.Require().NoError(err)
	s.Equal(byte(0x01), data[4])
	s.Equal(byte(0x00), data[9])
	s.Require().NoError(reg.Unmarshal(data, &out, nil))
	s.Equal(in, out)
}

func (s *RegistrySuite) TestVersionGating() {
	reg := NewRegistry()
	s.Require().NoError(reg.Root((*versioned)(nil), WithVersion(3, 2)))
	s.Require().NoError(reg.Generate())

	data, err := reg.Marshal(&versioned{Score: 9}, nil)
	s.Require().NoError(err)
	s.Equal(int32(3), int32(binary.LittleEndian.Uint32(data)))

	newer := bytes.Clone(data)
	binary.LittleEndian.PutUint32(newer, 4)
	r := wire.NewReader(newer)
	var out *versioned
	err = reg.NewDeserializeContext(nil).Deserialize(r, &out)
	s.ErrorIs(err, merr.ErrVersionTooNew)
	s.True(merr.IsVersionErr(err))
	s.Equal(4, r.Offset())
	s.Nil(out)

	older := bytes.Clone(data)
	binary.LittleEndian.PutUint32(older, 1)
	s.ErrorIs(reg.Unmarshal(older, &out, nil), merr.ErrVersionTooOld)

	oldest := bytes.Clone(data)
	binary.LittleEndian.PutUint32(oldest, 2)
	s.Require().NoError(reg.Unmarshal(oldest, &out, nil))
	s.Equal(int32(9), out.Score)

	s.ErrorIs(NewRegistry().Root(versioned{}, WithVersion(1, 2)), merr.ErrInvalidArgument)
}

func (s *RegistrySuite) TestFrozen() {
	reg := newNodeRegistry(&s.Suite)
	s.ErrorIs(reg.Root(item{}), merr.ErrRegistryFrozen)
	s.ErrorIs(reg.Ignore(item{}), merr.ErrRegistryFrozen)
	s.ErrorIs(reg.Polymorphic(item{}), merr.ErrRegistryFrozen)
	s.ErrorIs(RegisterFactory(reg, func() *item { return &item{} }), merr.ErrRegistryFrozen)
	s.True(reg.IsRoot(reflect.TypeFor[*node]()))
	s.False(reg.IsRoot(reflect.TypeFor[node]()))
}

func (s *RegistrySuite) TestNotRoot() {
	reg := newNodeRegistry(&s.Suite)
	_, err := reg.Marshal(node{}, nil)
	s.ErrorIs(err, merr.ErrRegistryNotRoot)
	var out node
	s.ErrorIs(reg.Unmarshal([]byte{0, 0, 0, 0}, &out, nil), merr.ErrRegistryNotRoot)
	var p *node
	s.ErrorIs(reg.Unmarshal([]byte{0, 0, 0, 0}, p, nil), merr.ErrInvalidArgument)
}

func (s *RegistrySuite) TestDuplicateRegistration() {
	reg := NewRegistry()
	s.Require().NoError(reg.Root(item{}))
	s.ErrorIs(reg.Root(item{}), merr.ErrGenDuplicateRegister)
}

func (s *RegistrySuite) TestUnsupportedMapKey() {
	type key struct{ X int }
	type holder struct {
		M map[key]int32
	}
	reg := NewRegistry()
	s.Require().NoError(reg.Root(holder{}))
	err := reg.Generate()
	s.ErrorIs(err, merr.ErrGenUnsupportedKey)
	s.True(merr.IsGenerationErr(err))
	// 生成失败后不会安装任何过程。
	_, ok := reg.Procedures(reflect.TypeFor[holder]())
	s.False(ok)
	s.Nil(reg.Types())
}

func (s *RegistrySuite) TestNoCodec() {
	type holder struct {
		E *Event[int32]
	}
	reg := NewRegistry()
	s.Require().NoError(reg.Root(holder{}))
	s.ErrorIs(reg.Generate(), merr.ErrGenNoCodec)

	reg = NewRegistry()
	s.Require().NoError(reg.Root(make(chan int)))
	s.ErrorIs(reg.Generate(), merr.ErrGenNoCodec)
}

func (s *RegistrySuite) TestIgnoredType() {
	type secret struct{ Key string }
	type holder struct {
		Public string
		Secret *secret
	}
	reg := NewRegistry()
	s.Require().NoError(reg.Root(holder{}))
	s.Require().NoError(reg.Ignore((*secret)(nil)))
	s.Require().NoError(reg.Generate())

	data, err := reg.Marshal(holder{Public: "p", Secret: &secret{Key: "k"}}, nil)
	s.Require().NoError(err)
	var out holder
	s.Require().NoError(reg.Unmarshal(data, &out, nil))
	s.Equal("p", out.Public)
	s.Nil(out.Secret)
	_, ok := reg.Procedures(reflect.TypeFor[*secret]())
	s.False(ok)
}

func (s *RegistrySuite) TestTagSkip() {
	type holder struct {
		Kept  int32
		Cache map[string]int `netser:"-"`
	}
	reg := NewRegistry()
	s.Require().NoError(reg.Root(holder{}))
	s.Require().NoError(reg.Generate())

	data, err := reg.Marshal(holder{Kept: 1, Cache: map[string]int{"x": 1}}, nil)
	s.Require().NoError(err)
	s.Len(data, 8)
	var out holder
	s.Require().NoError(reg.Unmarshal(data, &out, nil))
	s.Equal(int32(1), out.Kept)
	s.Nil(out.Cache)
}

func (s *RegistrySuite) TestGenerateAsync() {
	pool, err := conc.NewPool[any](1)
	s.Require().NoError(err)
	defer pool.Release()

	reg := NewRegistry(WithPool(pool))
	s.Require().NoError(reg.Root((*node)(nil)))
	reg.GenerateAsync()
	s.Require().NoError(reg.Finish())
	s.NoError(reg.Finish())
	s.ErrorIs(reg.Root(item{}), merr.ErrRegistryFrozen)

	data, err := reg.Marshal(&node{Name: "async"}, nil)
	s.Require().NoError(err)
	var out *node
	s.Require().NoError(reg.Unmarshal(data, &out, nil))
	s.Equal("async", out.Name)
}

func (s *RegistrySuite) TestTypeTable() {
	reg := newNodeRegistry(&s.Suite)
	types := reg.Types()
	s.Contains(types, reflect.TypeFor[*node]())
	s.Contains(types, reflect.TypeFor[node]())
	s.Contains(types, reflect.TypeFor[string]())

	modules := reg.Modules()
	s.Equal([]string{"", "github.com/lk2023060901/danmu-garden-netser/pkg/netser"}, modules)

	m1, t1, ok := reg.TypeToken(reflect.TypeFor[*node]())
	s.True(ok)
	m2, t2, ok := reg.TypeToken(reflect.TypeFor[node]())
	s.True(ok)
	s.Equal(int32(1), m1)
	s.Equal(m1, m2)
	// "*netser.node" 排在 "netser.node" 之前。
	s.Equal(int32(0), t1)
	s.Equal(int32(1), t2)

	p, ok := reg.Procedures(reflect.TypeFor[node]())
	s.True(ok)
	s.Equal(OriginGenerated, p.Origin)
	p, ok = reg.Procedures(reflect.TypeFor[string]())
	s.True(ok)
	s.Equal(OriginBuiltin, p.Origin)

	report := reg.DiscoveryReport()
	s.NotEmpty(report)
}

func (s *RegistrySuite) TestMetrics() {
	reg := newNodeRegistry(&s.Suite, WithMetrics(true))
	before := testutil.ToFloat64(metrics.StreamBytes.WithLabelValues(metrics.EncodeLabel))
	failures := testutil.ToFloat64(metrics.Failures.WithLabelValues(metrics.DecodeLabel, merr.ClassCorrupt.String()))

	data, err := reg.Marshal(&node{Name: "m"}, nil)
	s.Require().NoError(err)
	after := testutil.ToFloat64(metrics.StreamBytes.WithLabelValues(metrics.EncodeLabel))
	s.Equal(float64(len(data)), after-before)

	var out *node
	s.Error(reg.Unmarshal(data[:3], &out, nil))
	s.Equal(failures+1, testutil.ToFloat64(metrics.Failures.WithLabelValues(metrics.DecodeLabel, merr.ClassCorrupt.String())))
}

func TestRegistry(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}
