package units

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func relErr(a, b float64) float64 {
	if b == 0 {
		return math.Abs(a)
	}
	return math.Abs(a-b) / math.Abs(b)
}

func TestConvertBasic(t *testing.T) {
	v, err := Convert(1e9, Wei, Gwei)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	v, err = Convert(1e9, Gwei, Ether)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	v, err = Convert(1e18, Wei, Ether)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	v, err = Convert(2.5, Ether, Wei)
	require.NoError(t, err)
	assert.Equal(t, 2.5e18, v)

	v, err = Convert(42, Gwei, Gwei)
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)
}

func TestConvertRoundTrip(t *testing.T) {
	amounts := []float64{0, 1, 3.14159, 21_000, 12_345_678.9, 1e-7, 7.77e15}
	pairs := [][2]Unit{{Wei, Gwei}, {Gwei, Ether}, {Wei, Ether}, {Ether, Wei}, {Gwei, Wei}}

	for _, x := range amounts {
		for _, p := range pairs {
			fwd, err := Convert(x, p[0], p[1])
			require.NoError(t, err)
			back, err := Convert(fwd, p[1], p[0])
			require.NoError(t, err)
			assert.LessOrEqual(t, relErr(back, x), 1e-9, "%v %s->%s->%s", x, p[0].Name, p[1].Name, p[0].Name)
		}
	}
}

func TestConvertComposition(t *testing.T) {
	x := 123_456_789_012.0

	viaGwei, err := Convert(MustConvert(x, Wei, Gwei), Gwei, Ether)
	require.NoError(t, err)
	direct, err := Convert(x, Wei, Ether)
	require.NoError(t, err)

	assert.LessOrEqual(t, relErr(viaGwei, direct), 1e-12)
}

func TestInvalidScale(t *testing.T) {
	_, err := Scale(1, -1)
	assert.True(t, xerrors.Is(err, ErrInvalidScale))

	_, err = Unscale(1, MaxExponent+1)
	assert.True(t, xerrors.Is(err, ErrInvalidScale))

	_, err = Convert(1, Unit{Name: "bogus", Exponent: -3}, Ether)
	assert.True(t, xerrors.Is(err, ErrInvalidScale))

	_, err = Convert(1, Wei, Unit{Name: "huge", Exponent: 40})
	assert.True(t, xerrors.Is(err, ErrInvalidScale))
}

func TestGasCostUSD(t *testing.T) {
	// 21k gas at 30 gwei base + 2 gwei tip, ether at $2000.
	usd, err := GasCostUSD(float64(TransferGas), 32, Gwei, 2000)
	require.NoError(t, err)
	assert.InDelta(t, 21_000*32/1e9*2000, usd, 1e-9)
}

func TestLookup(t *testing.T) {
	u, err := Lookup("gwei")
	require.NoError(t, err)
	assert.Equal(t, Gwei, u)

	u, err = Lookup("eth")
	require.NoError(t, err)
	assert.Equal(t, Ether, u)

	_, err = Lookup("szabo")
	assert.Error(t, err)
}
