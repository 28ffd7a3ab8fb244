package familyb

import "math"

// decodeFixedPoint implements Algorithm A (§4.1, resolved against the
// worked examples in §8): a null sentinel when both bytes are zero,
// otherwise a sign-magnitude integer byte (high bit = sign, low 7 bits =
// magnitude) plus a fractional byte read as hundredths, combined in the
// signed direction and rounded to two decimals.
//
//	0x00 0x00 -> nil
//	0x18 0x30 -> 24.48  (sign bit clear, magnitude 0x18=24, frac 0x30=48)
//	0x85 0x19 -> -5.25  (sign bit set,   magnitude 0x05=5,  frac 0x19=25)
func decodeFixedPoint(intByte, fracByte byte) *float64 {
	if intByte == 0x00 && fracByte == 0x00 {
		return nil
	}

	negative := intByte&0x80 != 0
	magnitude := float64(intByte & 0x7F)
	frac := float64(fracByte) / 100.0

	value := magnitude + frac
	if negative {
		value = -value
	}
	value = math.Round(value*100) / 100

	return &value
}
