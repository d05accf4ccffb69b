// Package units converts fee amounts between the native denominations of the chain and fiat.
package units

import (
	"golang.org/x/xerrors"
)

// MaxExponent is the largest scale exponent accepted. Powers of ten up to 10^22 are exactly
// representable as float64, so conversions below this bound introduce no scale error.
const MaxExponent = 22

// ErrInvalidScale is returned when a scale exponent is negative or above MaxExponent.
var ErrInvalidScale = xerrors.New("invalid scale exponent")

// A Unit is a denomination expressed as a power of ten of the smallest integer unit.
type Unit struct {
	Name     string
	Exponent int
}

var (
	Wei   = Unit{Name: "wei", Exponent: 0}
	Gwei  = Unit{Name: "gwei", Exponent: 9}
	Ether = Unit{Name: "ether", Exponent: 18}
)

// Reference transaction sizes in gas.
const (
	TransferGas uint64 = 21_000
	ERC20Gas    uint64 = 65_000
	SwapGas     uint64 = 150_000
	ComplexGas  uint64 = 300_000
)

var pow10 = [MaxExponent + 1]float64{
	1e0, 1e1, 1e2, 1e3, 1e4, 1e5, 1e6, 1e7, 1e8, 1e9, 1e10,
	1e11, 1e12, 1e13, 1e14, 1e15, 1e16, 1e17, 1e18, 1e19, 1e20,
	1e21, 1e22,
}

// Lookup returns the unit with the given name.
func Lookup(name string) (Unit, error) {
	switch name {
	case Wei.Name:
		return Wei, nil
	case Gwei.Name:
		return Gwei, nil
	case Ether.Name, "eth":
		return Ether, nil
	default:
		return Unit{}, xerrors.Errorf("unknown unit %q", name)
	}
}

func factor(exponent int) (float64, error) {
	if exponent < 0 || exponent > MaxExponent {
		return 0, xerrors.Errorf("exponent %d: %w", exponent, ErrInvalidScale)
	}
	return pow10[exponent], nil
}

// Scale divides amount by 10^exponent, moving it to a larger denomination.
func Scale(amount float64, exponent int) (float64, error) {
	f, err := factor(exponent)
	if err != nil {
		return 0, err
	}
	return amount / f, nil
}

// Unscale multiplies amount by 10^exponent, moving it to a smaller denomination.
func Unscale(amount float64, exponent int) (float64, error) {
	f, err := factor(exponent)
	if err != nil {
		return 0, err
	}
	return amount * f, nil
}

// Convert expresses amount, denominated in from, in the to denomination.
func Convert(amount float64, from, to Unit) (float64, error) {
	if _, err := factor(from.Exponent); err != nil {
		return 0, xerrors.Errorf("%s: %w", from.Name, err)
	}
	if _, err := factor(to.Exponent); err != nil {
		return 0, xerrors.Errorf("%s: %w", to.Name, err)
	}
	switch {
	case to.Exponent > from.Exponent:
		return Scale(amount, to.Exponent-from.Exponent)
	case to.Exponent < from.Exponent:
		return Unscale(amount, from.Exponent-to.Exponent)
	default:
		return amount, nil
	}
}

// MustConvert is Convert for the predefined units, which cannot fail.
func MustConvert(amount float64, from, to Unit) float64 {
	v, err := Convert(amount, from, to)
	if err != nil {
		panic(err)
	}
	return v
}

// GasCost returns the cost in ether of gas units paid at feePerGas, where feePerGas is
// denominated in feeUnit.
func GasCost(gas float64, feePerGas float64, feeUnit Unit) (float64, error) {
	return Convert(gas*feePerGas, feeUnit, Ether)
}

// ToFiat values an amount of ether at price fiat per ether.
func ToFiat(ether float64, price float64) float64 {
	return ether * price
}

// GasCostUSD returns the fiat cost of gas units paid at feePerGas (in feeUnit) at price.
func GasCostUSD(gas float64, feePerGas float64, feeUnit Unit, price float64) (float64, error) {
	eth, err := GasCost(gas, feePerGas, feeUnit)
	if err != nil {
		return 0, err
	}
	return ToFiat(eth, price), nil
}
