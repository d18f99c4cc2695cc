package events

// Validity mark, bit 0 of the first 32-bit word of every record.
const (
	ValidMarkShift = 0
	ValidMarkMask  = 0x00000001
)

// GetBits32 extracts the field at shift/mask from word.
func GetBits32(word uint32, shift uint, mask uint32) uint32 {
	return (word >> shift) & mask
}

// SetBits32 clears the field at shift/mask in word and stores v there.
// Bits of v outside mask are dropped.
func SetBits32(word uint32, shift uint, mask uint32, v uint32) uint32 {
	return ClearBits32(word, shift, mask) | ((v & mask) << shift)
}

// ClearBits32 zeroes the field at shift/mask in word.
func ClearBits32(word uint32, shift uint, mask uint32) uint32 {
	return word &^ (mask << shift)
}
