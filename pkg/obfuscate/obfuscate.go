// Package obfuscate implements the rolling XOR mask applied to published
// secret bytes. The transform is its own inverse.
package obfuscate

// cycle is the length of the repeating key schedule
const cycle = 33

// offset is added to every key byte in the schedule
const offset = 9

// Mask returns the key byte for position i
func Mask(i int) byte {
	return byte(i%cycle + offset)
}

// Apply XORs each byte with Mask(index) and returns a new slice.
// Applying it twice yields the original input.
func Apply(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ Mask(i)
	}
	return out
}
