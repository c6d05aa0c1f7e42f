package meta

import (
	"reflect"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/danmu-garden-netser/pkg/util/merr"
)

type base struct {
	ID int32
}

type unit struct {
	base
	Zeta    bool
	Alpha   bool
	Name    string
	Armor   int16
	Next    *unit
	Cache   map[string]int `netser:"-"`
	Handle  uintptr
	Raw     unsafe.Pointer
	Signal  chan int
	OnDeath func()
	Target  any
	Skills  []skill
}

type skill struct {
	Level uint8
	Tags  map[string]float32
}

type opaque struct {
	Data []byte
}

type holder struct {
	Hidden opaque
	Seen   int64
}

type MetaSuite struct {
	suite.Suite
}

func (s *MetaSuite) TestDescribeOrder() {
	d := Describe(reflect.TypeOf(unit{}), nil)
	s.Require().NotNil(d)

	s.Require().Len(d.Base, 1)
	s.Equal("base", d.Base[0].Name)

	names := func(fs []Field) []string {
		out := make([]string, 0, len(fs))
		for _, f := range fs {
			out = append(out, f.Name)
		}
		return out
	}
	s.Equal([]string{"Alpha", "Zeta"}, names(d.Bools))
	s.Equal([]string{"Armor", "Name", "Next", "Skills", "Target"}, names(d.Others))
	s.Equal(1, d.BoolBytes())
	s.Equal(8, d.FieldCount())
}

func (s *MetaSuite) TestDescribeOffsets() {
	d := Describe(reflect.TypeOf(skill{}), nil)
	sf, _ := reflect.TypeOf(skill{}).FieldByName("Tags")
	s.Equal(sf.Offset, d.Others[1].Offset)
	s.Equal(1, d.Others[1].Index)
	s.Nil(Describe(reflect.TypeOf(0), nil))
}

func (s *MetaSuite) TestBoolBytes() {
	type nine struct {
		A, B, C, D, E, F, G, H, I bool
	}
	s.Equal(2, Describe(reflect.TypeOf(nine{}), nil).BoolBytes())
	s.Equal(0, Describe(reflect.TypeOf(struct{}{}), nil).BoolBytes())
}

func (s *MetaSuite) TestDiscoverClosure() {
	set, err := Discover([]reflect.Type{reflect.TypeOf(&unit{})})
	s.Require().NoError(err)

	for _, t := range []reflect.Type{
		reflect.TypeOf(&unit{}),
		reflect.TypeOf(unit{}),
		reflect.TypeOf(base{}),
		reflect.TypeOf(int32(0)),
		reflect.TypeOf(""),
		reflect.TypeOf([]skill{}),
		reflect.TypeOf(skill{}),
		reflect.TypeOf(map[string]float32{}),
		reflect.TypeOf(float32(0)),
		reflect.TypeOf(uint8(0)),
	} {
		s.True(set.Contains(t), t.String())
	}
	s.False(set.Contains(reflect.TypeOf(map[string]int{})))
	s.False(set.Contains(reflect.TypeOf(uintptr(0))))

	ifaces := set.Interfaces()
	s.Require().Len(ifaces, 1)
	s.Equal(reflect.Interface, ifaces[0].Kind())

	n, ok := set.Node(reflect.TypeOf(skill{}))
	s.True(ok)
	s.Equal("elem", n.Via)
	s.Equal(reflect.TypeOf([]skill{}), n.Parent)
	s.NotNil(set.Descriptor(reflect.TypeOf(skill{})))
}

func (s *MetaSuite) TestDiscoverIgnoredAndExpand() {
	opaqueType := reflect.TypeOf(opaque{})
	set, err := Discover([]reflect.Type{reflect.TypeOf(holder{})},
		WithExpand(func(t reflect.Type) ([]reflect.Type, bool) {
			if t == opaqueType {
				return []reflect.Type{reflect.TypeOf(uint16(0))}, true
			}
			return nil, false
		}),
		WithIgnored(func(t reflect.Type) bool { return t.Kind() == reflect.Int64 }))
	s.Require().NoError(err)

	n, ok := set.Node(opaqueType)
	s.True(ok)
	s.True(n.Leaf)
	s.Nil(set.Descriptor(opaqueType))
	s.True(set.Contains(reflect.TypeOf(uint16(0))))
	s.False(set.Contains(reflect.TypeOf([]byte{})))
	s.False(set.Contains(reflect.TypeOf(int64(0))))

	d := set.Descriptor(reflect.TypeOf(holder{}))
	s.Len(d.Others, 1)
}

func (s *MetaSuite) TestDiscoverBadRoot() {
	_, err := Discover([]reflect.Type{nil})
	s.ErrorIs(err, merr.ErrInvalidArgument)

	_, err = Discover([]reflect.Type{reflect.TypeOf(make(chan int))})
	s.ErrorIs(err, merr.ErrGenNoCodec)
	s.True(merr.IsGenerationErr(err))
}

func TestMeta(t *testing.T) {
	suite.Run(t, new(MetaSuite))
}

func TestReportSortedAndMerge(t *testing.T) {
	a, err := Discover([]reflect.Type{reflect.TypeOf(skill{})})
	require.NoError(t, err)
	b, err := Discover([]reflect.Type{reflect.TypeOf(base{})})
	require.NoError(t, err)

	before := a.Len()
	a.Merge(b)
	assert.Equal(t, before+2, a.Len())
	assert.True(t, a.Contains(reflect.TypeOf(base{})))

	report := a.Report()
	require.Len(t, report, a.Len())
	for i := 1; i < len(report); i++ {
		assert.Less(t, report[i-1].Type, report[i].Type)
	}
	for _, e := range report {
		if e.Type == "meta.skill" {
			assert.Equal(t, 2, e.Fields)
			assert.Equal(t, "root", e.Via)
		}
	}
}
