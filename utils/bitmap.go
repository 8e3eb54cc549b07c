package utils

// Initially inspired from https://github.com/kelindar/bitmap Thank you for using the MIT license!
// Used as membership sets over label and label-pair index spaces, which are fixed once a factor is built.

type Bitmap []uint64

// NewBitmap returns a bitmap holding bits [0, size).
func NewBitmap(size int) Bitmap {
	return make(Bitmap, (size+63)>>6)
}

// Set sets the bit x, which must be below the size the bitmap was made with.
func (bitmap Bitmap) Set(x uint32) {
	bitmap[x>>6] |= (1 << (x % 64))
}

// Clear unsets the bit x. Out of range bits are already clear.
func (bitmap Bitmap) Clear(x uint32) {
	idx := int(x >> 6)
	if idx >= len(bitmap) {
		return
	}
	bitmap[idx] &^= (1 << (x % 64))
}

// Has reports whether bit x is set.
func (bitmap Bitmap) Has(x uint32) bool {
	idx := int(x >> 6)
	if idx >= len(bitmap) {
		return false
	}
	return bitmap[idx]&(1<<(x%64)) != 0
}
