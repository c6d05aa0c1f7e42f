package replay

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/danmu-garden-netser/internal/network/compressor"
	"github.com/lk2023060901/danmu-garden-netser/internal/network/crypto"
	"github.com/lk2023060901/danmu-garden-netser/internal/network/serializer"
	"github.com/lk2023060901/danmu-garden-netser/pkg/netser"
	"github.com/lk2023060901/danmu-garden-netser/pkg/util/merr"
)

type snapshot struct {
	Tick   int32
	Hero   *unit
	Others []*unit
}

type unit struct {
	Name string
	HP   int32
}

type ReplaySuite struct {
	suite.Suite
	ser serializer.Serializer
}

func TestReplay(t *testing.T) {
	suite.Run(t, new(ReplaySuite))
}

func (s *ReplaySuite) SetupSuite() {
	reg := netser.NewRegistry()
	s.Require().NoError(reg.Root((*snapshot)(nil)))
	s.Require().NoError(reg.Generate())
	s.ser = serializer.NewNetSerializer(reg, nil)
}

func (s *ReplaySuite) record(opts ...Option) []byte {
	var buf bytes.Buffer
	rec, err := NewRecorder(&buf, s.ser, opts...)
	s.Require().NoError(err)
	for tick := int32(0); tick < 3; tick++ {
		hero := &unit{Name: "hero", HP: 100 - tick}
		s.Require().NoError(rec.Record(&snapshot{Tick: tick, Hero: hero, Others: []*unit{hero, {Name: "slime"}}}))
	}
	s.Equal(3, rec.Frames())
	s.Equal(int64(buf.Len()), rec.Bytes())
	return buf.Bytes()
}

func (s *ReplaySuite) play(data []byte, opts ...Option) []*snapshot {
	p, err := NewPlayer(bytes.NewReader(data), s.ser, opts...)
	s.Require().NoError(err)
	var out []*snapshot
	for {
		var snap *snapshot
		err := p.Next(&snap)
		if err == io.EOF {
			break
		}
		s.Require().NoError(err)
		out = append(out, snap)
	}
	s.Equal(len(out), p.Frames())
	return out
}

func (s *ReplaySuite) TestRoundTrip() {
	data := s.record(WithMetadata(map[string]any{"map": "arena", "seed": 42}))
	s.Equal([]byte("NSRP"), data[:4])
	s.Equal(byte(0), data[6])

	p, err := NewPlayer(bytes.NewReader(data), s.ser)
	s.Require().NoError(err)
	s.Equal("arena", p.Metadata()["map"])
	s.Equal(float64(42), p.Metadata()["seed"])

	snaps := s.play(data)
	s.Require().Len(snaps, 3)
	for i, snap := range snaps {
		s.Equal(int32(i), snap.Tick)
		s.Equal(int32(100-i), snap.Hero.HP)
		s.Same(snap.Hero, snap.Others[0])
		s.Equal("slime", snap.Others[1].Name)
	}
}

func (s *ReplaySuite) TestCompressed() {
	zc, err := compressor.NewZstdCompressor(compressor.WithConcurrency(1))
	s.Require().NoError(err)
	defer zc.Close()

	data := s.record(WithCompressor(zc))
	s.Equal(flagCompressed, data[6])

	snaps := s.play(data, WithCompressor(zc))
	s.Require().Len(snaps, 3)
	s.Equal(int32(2), snaps[2].Tick)

	_, err = NewPlayer(bytes.NewReader(data), s.ser)
	s.ErrorIs(err, merr.ErrInvalidArgument)
}

func (s *ReplaySuite) TestEncrypted() {
	enc, err := crypto.NewAESGCMHMACCodec(bytes.Repeat([]byte{7}, 32), []byte("replay"))
	s.Require().NoError(err)
	zc, err := compressor.NewZstdCompressor(compressor.WithConcurrency(1))
	s.Require().NoError(err)
	defer zc.Close()

	data := s.record(WithEncryptor(enc), WithCompressor(zc))
	s.Equal(flagCompressed|flagEncrypted, data[6])
	s.NotContains(string(data), "slime")

	snaps := s.play(data, WithEncryptor(enc), WithCompressor(zc))
	s.Require().Len(snaps, 3)
	s.Equal("slime", snaps[0].Others[1].Name)

	_, err = NewPlayer(bytes.NewReader(data), s.ser, WithCompressor(zc))
	s.ErrorIs(err, merr.ErrInvalidArgument)

	tampered := bytes.Clone(data)
	tampered[len(tampered)-1] ^= 0xFF
	p, err := NewPlayer(bytes.NewReader(tampered), s.ser, WithEncryptor(enc), WithCompressor(zc))
	s.Require().NoError(err)
	var snap *snapshot
	s.Require().NoError(p.Next(&snap))
	s.Require().NoError(p.Next(&snap))
	s.ErrorIs(p.Next(&snap), merr.ErrStreamCorrupt)
}

func (s *ReplaySuite) TestCorruptHeader() {
	data := s.record()

	_, err := NewPlayer(bytes.NewReader(data[:5]), s.ser)
	s.ErrorIs(err, merr.ErrStreamCorrupt)

	bad := append([]byte("XXXX"), data[4:]...)
	_, err = NewPlayer(bytes.NewReader(bad), s.ser)
	s.ErrorIs(err, merr.ErrStreamCorrupt)

	future := bytes.Clone(data)
	future[5] = 9
	_, err = NewPlayer(bytes.NewReader(future), s.ser)
	s.ErrorIs(err, merr.ErrStreamCorrupt)
}

func (s *ReplaySuite) TestTruncatedFrame() {
	data := s.record()
	p, err := NewPlayer(bytes.NewReader(data[:len(data)-1]), s.ser)
	s.Require().NoError(err)

	var snap *snapshot
	s.Require().NoError(p.Next(&snap))
	s.Require().NoError(p.Next(&snap))
	s.ErrorIs(p.Next(&snap), merr.ErrStreamCorrupt)
}

func (s *ReplaySuite) TestFrameLimit() {
	data := s.record()
	p, err := NewPlayer(bytes.NewReader(data), s.ser, WithMaxFrameSize(8))
	s.Require().NoError(err)

	var snap *snapshot
	s.ErrorIs(p.Next(&snap), merr.ErrStreamCorrupt)
}

func (s *ReplaySuite) TestInvalidArguments() {
	_, err := NewRecorder(nil, s.ser)
	s.ErrorIs(err, merr.ErrInvalidArgument)
	_, err = NewPlayer(bytes.NewReader(nil), nil)
	s.ErrorIs(err, merr.ErrInvalidArgument)
	_, err = NewRecorder(&bytes.Buffer{}, s.ser, WithMetadata(map[string]any{"bad": make(chan int)}))
	s.ErrorIs(err, merr.ErrInvalidArgument)
}
