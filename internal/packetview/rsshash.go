// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package packetview

// DefaultRSSKey is the 40-byte Microsoft default Toeplitz key commonly programmed
// into NICs (the same default used by most RSS-capable drivers). Using
// the same key here that the NIC's RSS engine is programmed with
// (spec.md §6, "RSS is programmed... with a key such that the GK flow
// key hashes to the worker core owning the corresponding entry") is what
// makes Hash below reverse-engineerable against the NIC's own steering in
// internal/gk/policy's redirection-table lookup.
var DefaultRSSKey = [40]byte{
	0x6d, 0x5a, 0x56, 0xda, 0x25, 0x5b, 0x0e, 0xc2,
	0x41, 0x67, 0x25, 0x3d, 0x43, 0xa3, 0x8f, 0xb0,
	0xd0, 0xca, 0x2b, 0xcb, 0xae, 0x7b, 0x30, 0xb4,
	0x77, 0xcb, 0x2d, 0xa3, 0x80, 0x30, 0xf2, 0x0c,
	0x6a, 0x42, 0xb7, 0x3b, 0xbe, 0xac, 0x01, 0xfa,
}

// Hash computes the RSS Toeplitz hash of a FlowKey over the given key,
// matching the Microsoft RSS Toeplitz algorithm the NIC's hardware
// implements. The key is a hash parameter, not a security secret.
func (k FlowKey) Hash(key [40]byte) uint32 {
	var input []byte
	switch k.Family {
	case FamilyV4:
		input = append(input, k.Src[:4]...)
		input = append(input, k.Dst[:4]...)
	default:
		input = append(input, k.Src[:]...)
		input = append(input, k.Dst[:]...)
	}
	return toeplitzHash(key[:], input)
}

// toeplitzHash implements the Toeplitz hash: for each bit of
// input (MSB first), if the bit is set, XOR in the next 32 bits of a
// sliding window over key.
func toeplitzHash(key, input []byte) uint32 {
	var result uint32
	for i, b := range input {
		for bit := 7; bit >= 0; bit-- {
			if b&(1<<uint(bit)) == 0 {
				continue
			}
			result ^= keyWindow(key, i*8+(7-bit))
		}
	}
	return result
}

// keyWindow returns the 32-bit value formed by the key bits starting at
// bitOffset (MSB-first across the whole key, wrapping is not needed
// because the key is always longer than any supported input).
func keyWindow(key []byte, bitOffset int) uint32 {
	var window uint32
	for i := 0; i < 32; i++ {
		byteIdx := (bitOffset + i) / 8
		bitIdx := 7 - (bitOffset+i)%8
		if byteIdx >= len(key) {
			continue
		}
		bit := (key[byteIdx] >> uint(bitIdx)) & 1
		window = (window << 1) | uint32(bit)
	}
	return window
}
