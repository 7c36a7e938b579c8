package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type sampleRecord struct {
	Price  float64
	Volume float64
	Side   uint8
	_      [7]byte
}

func TestHashStableOnReRegistration(t *testing.T) {
	a := Of[sampleRecord]()
	b := Of[sampleRecord]()
	require.Equal(t, a.Hash(), b.Hash())
}

func TestHashDiffersOnFieldOrder(t *testing.T) {
	a := Descriptor{
		Version:    1,
		RecordSize: 8,
		Alignment:  4,
		Fields: []Field{
			{Name: "a", Offset: 0, Size: 4, Type: TypeInt32},
			{Name: "b", Offset: 4, Size: 4, Type: TypeInt32},
		},
	}
	b := Descriptor{
		Version:    1,
		RecordSize: 8,
		Alignment:  4,
		Fields: []Field{
			{Name: "b", Offset: 4, Size: 4, Type: TypeInt32},
			{Name: "a", Offset: 0, Size: 4, Type: TypeInt32},
		},
	}
	require.NotEqual(t, a.Hash(), b.Hash())
}

func TestZeroHashSentinel(t *testing.T) {
	require.True(t, IsZero(ZeroHash))
	d := Of[sampleRecord]()
	require.False(t, IsZero(d.Hash()))
}

func TestOfDerivesFieldOffsets(t *testing.T) {
	d := Of[sampleRecord]()
	require.Len(t, d.Fields, 3)
	require.Equal(t, "Price", d.Fields[0].Name)
	require.Equal(t, uint32(0), d.Fields[0].Offset)
	require.Equal(t, "Volume", d.Fields[1].Name)
	require.Equal(t, uint32(8), d.Fields[1].Offset)
}
