package fec

// Shortened Hamming codes used by the DMR BPTC(196,96) matrix. Parity
// equations follow the DMR air interface; each mask selects the data bits
// participating in one parity bit.
var (
	// Hamming(15,11,3), 11 data bits + 4 parity.
	hamming15113Masks = [4]uint16{
		// d0 d1 d2 d3 d5 d7 d8
		1<<0 | 1<<1 | 1<<2 | 1<<3 | 1<<5 | 1<<7 | 1<<8,
		// d1 d2 d3 d4 d6 d8 d9
		1<<1 | 1<<2 | 1<<3 | 1<<4 | 1<<6 | 1<<8 | 1<<9,
		// d2 d3 d4 d5 d7 d9 d10
		1<<2 | 1<<3 | 1<<4 | 1<<5 | 1<<7 | 1<<9 | 1<<10,
		// d0 d1 d2 d4 d6 d7 d10
		1<<0 | 1<<1 | 1<<2 | 1<<4 | 1<<6 | 1<<7 | 1<<10,
	}

	// Hamming(13,9,3), 9 data bits + 4 parity.
	hamming1393Masks = [4]uint16{
		1<<0 | 1<<1 | 1<<3 | 1<<5 | 1<<6,
		1<<0 | 1<<1 | 1<<2 | 1<<4 | 1<<6 | 1<<7,
		1<<0 | 1<<1 | 1<<2 | 1<<3 | 1<<5 | 1<<7 | 1<<8,
		1<<0 | 1<<2 | 1<<4 | 1<<5 | 1<<8,
	}

	hamming15113Fix map[uint8]int
	hamming1393Fix  map[uint8]int
)

func init() {
	hamming15113Fix = buildSyndromeTable(hamming15113Masks, 11)
	hamming1393Fix = buildSyndromeTable(hamming1393Masks, 9)
}

// buildSyndromeTable maps each single-bit error to its syndrome. Data bit
// i trips every parity equation containing it; parity bit j trips only its
// own equation.
func buildSyndromeTable(masks [4]uint16, dataBits int) map[uint8]int {
	table := make(map[uint8]int)
	for i := 0; i < dataBits; i++ {
		var s uint8
		for j, mask := range masks {
			if mask&(1<<uint(i)) != 0 {
				s |= 1 << uint(j)
			}
		}
		table[s] = i
	}
	for j := 0; j < 4; j++ {
		table[1<<uint(j)] = dataBits + j
	}
	return table
}

func hammingSyndrome(bits []byte, masks [4]uint16, dataBits int) uint8 {
	var s uint8
	for j, mask := range masks {
		var p byte
		for i := 0; i < dataBits; i++ {
			if mask&(1<<uint(i)) != 0 {
				p ^= bits[i] & 1
			}
		}
		if p != bits[dataBits+j]&1 {
			s |= 1 << uint(j)
		}
	}
	return s
}

func hammingEncode(bits []byte, masks [4]uint16, dataBits int) {
	for j, mask := range masks {
		var p byte
		for i := 0; i < dataBits; i++ {
			if mask&(1<<uint(i)) != 0 {
				p ^= bits[i] & 1
			}
		}
		bits[dataBits+j] = p
	}
}

func hammingDecode(bits []byte, masks [4]uint16, table map[uint8]int, dataBits int) (ok, fixed bool) {
	s := hammingSyndrome(bits, masks, dataBits)
	if s == 0 {
		return true, false
	}
	idx, found := table[s]
	if !found {
		return false, false
	}
	bits[idx] ^= 1
	return true, true
}

// Hamming15113Encode fills the 4 parity positions of a 15-bit block.
func Hamming15113Encode(bits []byte) { hammingEncode(bits, hamming15113Masks, 11) }

// Hamming15113Decode corrects a single-bit error in place. ok reports
// whether the block is (now) consistent; fixed whether a bit was flipped.
func Hamming15113Decode(bits []byte) (ok, fixed bool) {
	return hammingDecode(bits, hamming15113Masks, hamming15113Fix, 11)
}

// Hamming1393Encode fills the 4 parity positions of a 13-bit block.
func Hamming1393Encode(bits []byte) { hammingEncode(bits, hamming1393Masks, 9) }

// Hamming1393Decode corrects a single-bit error in place.
func Hamming1393Decode(bits []byte) (ok, fixed bool) {
	return hammingDecode(bits, hamming1393Masks, hamming1393Fix, 9)
}
