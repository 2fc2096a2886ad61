package operation

import (
	"testing"

	"github.com/hupe1980/memgo/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func i4(t *testing.T, text string) value.Value {
	t.Helper()
	v, err := value.Parse(text, value.KindInt4)
	require.NoError(t, err)
	return v
}

func enc(v value.Value) []byte { return v.Bytes() }

func TestIntegerValueOperations(t *testing.T) {
	shape := Shape{Kind: value.KindInt4, Size: 4}
	ten := enc(i4(t, "10"))

	tests := []struct {
		name string
		op   Operation
		want bool
	}{
		{"equal", Equal(i4(t, "10")), true},
		{"not equal", NotEqual(i4(t, "10")), false},
		{"less", Less(i4(t, "11")), true},
		{"less strict", Less(i4(t, "10")), false},
		{"greater", Greater(i4(t, "9")), true},
		{"between", Between(i4(t, "5"), i4(t, "10")), true},
		{"between swapped", Between(i4(t, "20"), i4(t, "10")), true},
		{"between outside", Between(i4(t, "11"), i4(t, "20")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, err := tt.op.Compile(shape)
			require.NoError(t, err)
			assert.Equal(t, tt.want, pred(ten, nil))
		})
	}
}

func TestSignedComparison(t *testing.T) {
	minusOne := enc(i4(t, "-1"))

	unsigned, err := Less(i4(t, "0")).Compile(Shape{Kind: value.KindInt4, Size: 4})
	require.NoError(t, err)
	assert.False(t, unsigned(minusOne, nil), "0xffffffff is large when unsigned")

	op := Less(i4(t, "0"))
	signed, err := op.Compile(Shape{Kind: value.KindInt4, Size: 4, Signed: true})
	require.NoError(t, err)
	assert.True(t, signed(minusOne, nil))

	assert.True(t, Greater(i4(t, "-5")).Signed())
	assert.False(t, Greater(i4(t, "5")).Signed())
}

func TestMemoryOperations(t *testing.T) {
	shape := Shape{Kind: value.KindInt4, Size: 4}
	ten, eleven, nine := enc(i4(t, "10")), enc(i4(t, "11")), enc(i4(t, "9"))

	check := func(op Operation, cur, prev []byte) bool {
		t.Helper()
		pred, err := op.Compile(shape)
		require.NoError(t, err)
		return pred(cur, prev)
	}

	assert.True(t, check(Increased(), eleven, ten))
	assert.False(t, check(Increased(), nine, ten))
	assert.True(t, check(Decreased(), nine, ten))
	assert.True(t, check(Changed(), nine, ten))
	assert.False(t, check(Changed(), ten, ten))
	assert.True(t, check(Unchanged(), ten, ten))
	assert.True(t, check(ChangedBy(i4(t, "1")), eleven, ten))
	assert.True(t, check(ChangedBy(i4(t, "-1")), nine, ten))
	assert.False(t, check(ChangedBy(i4(t, "2")), eleven, ten))

	assert.True(t, Increased().IsMemory())
	assert.False(t, Equal(i4(t, "1")).IsMemory())
}

func TestFloatTolerance(t *testing.T) {
	shape := Shape{Kind: value.KindFloat, Size: 4}
	f := func(x float32) []byte { return value.FromFloat(x).Bytes() }

	eq, err := Equal(value.FromFloat(1.0)).Compile(shape)
	require.NoError(t, err)
	assert.True(t, eq(f(1.0005), nil))
	assert.False(t, eq(f(1.01), nil))

	gt, err := Greater(value.FromFloat(1.0)).Compile(shape)
	require.NoError(t, err)
	assert.False(t, gt(f(1.0005), nil), "within tolerance is not greater")
	assert.True(t, gt(f(1.01), nil))

	inc, err := Increased().Compile(shape)
	require.NoError(t, err)
	assert.False(t, inc(f(2.0004), f(2.0)))
	assert.True(t, inc(f(2.5), f(2.0)))

	by, err := ChangedBy(value.FromFloat(0.5)).Compile(shape)
	require.NoError(t, err)
	assert.True(t, by(f(2.5), f(2.0)))
}

func TestPatternOperations(t *testing.T) {
	p := value.MustParse("AA ?? CC", value.KindPattern)
	shape := ShapeOf(p)

	eq, err := Equal(p).Compile(shape)
	require.NoError(t, err)
	assert.True(t, eq([]byte{0xaa, 0x12, 0xcc}, nil))

	unchanged, err := Unchanged().Compile(shape)
	require.NoError(t, err)
	assert.True(t, unchanged([]byte{0xaa, 0x12, 0xcc}, []byte{0xaa, 0x99, 0xcc}), "wildcard positions are ignored")
	assert.False(t, unchanged([]byte{0xab, 0x12, 0xcc}, []byte{0xaa, 0x12, 0xcc}))

	_, err = Less(p).Compile(shape)
	assert.ErrorIs(t, err, ErrInvalidOperation)
	_, err = Increased().Compile(shape)
	assert.ErrorIs(t, err, ErrInvalidOperation)
}

func TestParse(t *testing.T) {
	op, err := Parse("between", value.KindInt2, "1", "0x10")
	require.NoError(t, err)
	assert.Equal(t, OpBetween, op.Op())
	assert.Equal(t, "between 1 16", op.String())

	op, err = Parse("INCREASED", value.KindFloat)
	require.NoError(t, err)
	assert.Equal(t, OpIncreased, op.Op())

	_, err = Parse("equal", value.KindInt4)
	assert.ErrorIs(t, err, ErrInvalidOperation)

	_, err = Parse("sideways", value.KindInt4, "1")
	assert.ErrorIs(t, err, ErrInvalidOperation)

	_, err = Parse("equal", value.KindInt4, "nope")
	assert.ErrorIs(t, err, value.ErrInvalidValue)

	_, err = Parse("greater", value.KindPattern, "AA BB")
	assert.ErrorIs(t, err, ErrInvalidOperation)
}
