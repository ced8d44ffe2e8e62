package fec

import "math/bits"

// Golay(20,8) shortened code used for the DMR slot type. Generator
// polynomial x^12 + x^11 + x^10 + x^9 + x^7 + x^6 + x^4 + 1. The code has
// minimum distance 6: up to two bit errors are corrected, a third is
// detected as uncorrectable.
const golay2087Generator uint32 = 0x1ED1

// syndrome -> correctable error pattern, built once for all weight <= 2
// patterns over 20 bits. Distance 6 makes these syndromes unique.
var golay2087Patterns map[uint32]uint32

func init() {
	golay2087Patterns = make(map[uint32]uint32)

	add := func(pattern uint32) {
		golay2087Patterns[golayPolyDiv(pattern, golay2087Generator)] = pattern
	}

	for i := 0; i < 20; i++ {
		add(1 << uint(i))
	}
	for i := 0; i < 20; i++ {
		for j := i + 1; j < 20; j++ {
			add(1<<uint(i) | 1<<uint(j))
		}
	}
}

// golayPolyDiv reduces a 20-bit value modulo the generator.
func golayPolyDiv(dividend, divisor uint32) uint32 {
	for i := 19; i >= 12; i-- {
		if dividend&(1<<uint(i)) != 0 {
			dividend ^= divisor << uint(i-12)
		}
	}
	return dividend & 0xFFF
}

// Golay2087Encode expands 8 data bits into a 20-bit codeword: data in the
// top 8 bits, 12 parity bits below.
func Golay2087Encode(data byte) uint32 {
	shifted := uint32(data) << 12
	parity := golayPolyDiv(shifted, golay2087Generator)
	return shifted | parity
}

// Golay2087Decode corrects up to 2 bit errors in a 20-bit codeword and
// returns the 8 data bits along with the number of corrections. ok is
// false when the syndrome is not correctable.
func Golay2087Decode(codeword uint32) (data byte, errs int, ok bool) {
	codeword &= 0xFFFFF

	syndrome := golayPolyDiv(codeword, golay2087Generator)
	if syndrome == 0 {
		return byte(codeword >> 12), 0, true
	}

	pattern, found := golay2087Patterns[syndrome]
	if !found {
		return 0, 0, false
	}

	corrected := codeword ^ pattern
	return byte(corrected >> 12), bits.OnesCount32(pattern), true
}
