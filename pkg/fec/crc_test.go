package fec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func bytesToBits(bs []byte) []byte {
	out := make([]byte, 0, len(bs)*8)
	for _, b := range bs {
		for i := 7; i >= 0; i-- {
			out = append(out, (b>>uint(i))&1)
		}
	}
	return out
}

func TestCRC16CCITTKnownVector(t *testing.T) {
	// The classic check value for poly 0x1021, init 0xFFFF.
	got := CRC16CCITT(bytesToBits([]byte("123456789")))
	assert.Equal(t, uint16(0x29B1), got)
}

func TestCRC16RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 200).Draw(t, "n")
		bits := make([]byte, n)
		for i := range bits {
			bits[i] = byte(rapid.IntRange(0, 1).Draw(t, "bit"))
		}

		block := AppendCRC16(bits)
		if !CheckCRC16(block) {
			t.Fatalf("clean block failed CRC")
		}

		// Any single corruption must be caught.
		pos := rapid.IntRange(0, len(block)-1).Draw(t, "pos")
		block[pos] ^= 1
		if CheckCRC16(block) {
			t.Fatalf("corrupted block passed CRC")
		}
	})
}

func TestCRC16Masked(t *testing.T) {
	bits := []byte{1, 0, 1, 1, 0, 0, 1, 0, 1, 0, 1, 0, 0, 1, 1, 1}

	block := AppendCRC16Masked(bits, 0xA5A5)
	assert.True(t, CheckCRC16Masked(block, 0xA5A5))
	assert.False(t, CheckCRC16(block), "masked CRC must not verify unmasked")

	block[3] ^= 1
	assert.False(t, CheckCRC16Masked(block, 0xA5A5))
}

func TestCheckCRC16TooShort(t *testing.T) {
	assert.False(t, CheckCRC16(make([]byte, 16)))
}
