package mapper_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shacron/sled/internal/ioop"
	"github.com/shacron/sled/internal/mapper"
	"github.com/shacron/sled/internal/serr"
)

// byteEndpoint is a minimal Endpoint backed by a plain byte slice, used to
// exercise the mapper without pulling in the memregion package.
type byteEndpoint struct {
	tag  byte
	data []byte
}

func (b *byteEndpoint) IO(op *ioop.Op) error {
	switch op.Op {
	case ioop.In:
		for i := range op.Buf {
			op.Buf[i] = b.tag
		}
		return nil
	case ioop.Out:
		return nil
	default:
		return nil
	}
}

func TestLookupUniqueCovering(t *testing.T) {
	m0 := &byteEndpoint{tag: 0xAA}
	m1 := &byteEndpoint{tag: 0xBB}

	mp := mapper.New(mapper.Translate)
	require.NoError(t, mp.Install(mapper.Translate, []mapper.Mapping{
		{InputBase: 0, Length: 0x1000, OutputBase: 0, Type: mapper.TypeMemory, Endpoint: m0},
		{InputBase: 0x1000, Length: 0x1000, OutputBase: 0, Type: mapper.TypeMemory, Endpoint: m1},
	}, true))

	op := ioop.Op{Addr: 0x1000, Size: 1, Op: ioop.In, Count: 1, Buf: make([]byte, 1)}
	require.NoError(t, mp.IO(&op))
	require.Equal(t, byte(0xBB), op.Buf[0])
}

func TestOverlappingInstallRejected(t *testing.T) {
	mp := mapper.New(mapper.Translate)
	m0 := &byteEndpoint{}
	err := mp.Install(mapper.Translate, []mapper.Mapping{
		{InputBase: 0, Length: 0x2000, Endpoint: m0},
		{InputBase: 0x1000, Length: 0x1000, Endpoint: m0},
	}, true)
	require.Error(t, err)
}

func TestBlockModeFails(t *testing.T) {
	mp := mapper.New(mapper.Block)
	op := ioop.Op{Addr: 0, Size: 1, Op: ioop.In, Count: 1, Buf: make([]byte, 1)}
	require.ErrorIs(t, mp.IO(&op), serr.ErrIoNoMap)
}

func TestUpdateReplacesMapping(t *testing.T) {
	m0 := &byteEndpoint{tag: 1}
	m1 := &byteEndpoint{tag: 2}
	m2 := &byteEndpoint{tag: 3}

	mp := mapper.New(mapper.Translate)
	require.NoError(t, mp.Install(mapper.Translate, []mapper.Mapping{
		{InputBase: 0, Length: 0x1000, Endpoint: m0},
		{InputBase: 0x1000, Length: 0x1000, Endpoint: m1},
	}, true))

	op := ioop.Op{Addr: 0x1000, Size: 1, Op: ioop.In, Count: 1, Buf: make([]byte, 1)}
	require.NoError(t, mp.IO(&op))
	require.Equal(t, byte(2), op.Buf[0])

	require.NoError(t, mp.Install(mapper.Translate, []mapper.Mapping{
		{InputBase: 0, Length: 0x2000, Endpoint: m2},
	}, true))

	op2 := ioop.Op{Addr: 0x1000, Size: 1, Op: ioop.In, Count: 1, Buf: make([]byte, 1)}
	require.NoError(t, mp.IO(&op2))
	require.Equal(t, byte(3), op2.Buf[0])
}

func TestAtomicCrossingMappingFails(t *testing.T) {
	m0 := &byteEndpoint{}
	mp := mapper.New(mapper.Translate)
	require.NoError(t, mp.Install(mapper.Translate, []mapper.Mapping{
		{InputBase: 0, Length: 4, Endpoint: m0},
		{InputBase: 4, Length: 4, Endpoint: m0},
	}, true))

	op := ioop.Op{Addr: 0, Size: 8, Op: ioop.AtomicAdd, Align: true}
	require.ErrorIs(t, mp.IO(&op), serr.ErrIoInvalid)
}
