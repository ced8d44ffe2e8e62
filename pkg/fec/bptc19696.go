package fec

// BPTC(196,96) block product code protecting DMR link control and CSBK
// payloads. The 196 transmitted bits are interleaved with the permutation
// (a*181) mod 196; the deinterleaved block is a 13x15 matrix (position 0
// unused) with Hamming(15,11,3) rows and Hamming(13,9,3) columns.
const (
	bptcTotalBits = 196
	bptcInfoBits  = 96
	bptcRows      = 13
	bptcCols      = 15
	bptcDataRows  = 9
	bptcMaxIter   = 5
)

// bptcDataRanges are the matrix positions holding payload bits: the first
// data row contributes 8 bits, the remaining eight rows 11 bits each.
var bptcDataRanges = [9][2]int{
	{4, 11},
	{16, 26},
	{31, 41},
	{46, 56},
	{61, 71},
	{76, 86},
	{91, 101},
	{106, 116},
	{121, 131},
}

// BPTC19696Decode deinterleaves and error-corrects a 196-bit block,
// returning the 96 payload bits. ok is false when the matrix fails to
// converge to a consistent state.
func BPTC19696Decode(bits []byte) ([]byte, bool) {
	if len(bits) < bptcTotalBits {
		return nil, false
	}

	deinter := make([]byte, bptcTotalBits)
	for a := 0; a < bptcTotalBits; a++ {
		deinter[a] = bits[(a*181)%bptcTotalBits] & 1
	}

	clean := false
	for iter := 0; iter < bptcMaxIter; iter++ {
		fixedAny := false
		allOK := true

		// Columns first: Hamming(13,9,3) down each of the 15 columns.
		var col [bptcRows]byte
		for c := 0; c < bptcCols; c++ {
			pos := c + 1
			for a := 0; a < bptcRows; a++ {
				if pos < bptcTotalBits {
					col[a] = deinter[pos]
				} else {
					col[a] = 0
				}
				pos += bptcCols
			}

			ok, fixed := Hamming1393Decode(col[:])
			if fixed {
				pos = c + 1
				for a := 0; a < bptcRows; a++ {
					if pos < bptcTotalBits {
						deinter[pos] = col[a]
					}
					pos += bptcCols
				}
				fixedAny = true
			}
			if !ok {
				allOK = false
			}
		}

		// Then the 9 data rows: Hamming(15,11,3).
		for r := 0; r < bptcDataRows; r++ {
			pos := r*bptcCols + 1
			ok, fixed := Hamming15113Decode(deinter[pos : pos+bptcCols])
			if fixed {
				fixedAny = true
			}
			if !ok {
				allOK = false
			}
		}

		if allOK {
			clean = true
			break
		}
		if !fixedAny {
			break
		}
	}

	if !clean {
		return nil, false
	}

	out := make([]byte, 0, bptcInfoBits)
	for _, r := range bptcDataRanges {
		for a := r[0]; a <= r[1]; a++ {
			out = append(out, deinter[a])
		}
	}

	return out, true
}

// BPTC19696Encode builds the 196-bit interleaved block for a 96-bit
// payload. Used by tests and by anything that needs to synthesize DMR
// bursts.
func BPTC19696Encode(payload []byte) []byte {
	deinter := make([]byte, bptcTotalBits)

	pos := 0
	for _, r := range bptcDataRanges {
		for a := r[0]; a <= r[1] && pos < len(payload); a++ {
			deinter[a] = payload[pos] & 1
			pos++
		}
	}

	// Row parity over the 9 data rows.
	for r := 0; r < bptcDataRows; r++ {
		p := r*bptcCols + 1
		Hamming15113Encode(deinter[p : p+bptcCols])
	}

	// Column parity fills the bottom 4 rows.
	var col [bptcRows]byte
	for c := 0; c < bptcCols; c++ {
		p := c + 1
		for a := 0; a < bptcRows; a++ {
			if p < bptcTotalBits {
				col[a] = deinter[p]
			}
			p += bptcCols
		}
		Hamming1393Encode(col[:])
		p = c + 1
		for a := 0; a < bptcRows; a++ {
			if p < bptcTotalBits {
				deinter[p] = col[a]
			}
			p += bptcCols
		}
	}

	out := make([]byte, bptcTotalBits)
	for a := 0; a < bptcTotalBits; a++ {
		out[(a*181)%bptcTotalBits] = deinter[a]
	}

	return out
}
