package core

import "unsafe"

const (
	// CacheLineSize is a common cache line size, typically 64 bytes.
	CacheLineSize = 64

	// DefaultAlignment is the alignment used for arena buffers and tensor
	// offsets when a graph does not request one.
	DefaultAlignment = 8
)

// AlignUp rounds n up to the next multiple of align. align must be a power of two.
func AlignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}

// AlignDown rounds n down to a multiple of align. align must be a power of two.
func AlignDown(n, align int) int {
	if align <= 1 {
		return n
	}
	return n &^ (align - 1)
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// IsAligned reports whether the first byte of b sits on an align boundary.
// Empty slices are considered aligned.
func IsAligned(b []byte, align int) bool {
	if len(b) == 0 || align <= 1 {
		return true
	}
	return uintptr(unsafe.Pointer(&b[0]))%uintptr(align) == 0
}

// AlignedBytes allocates a byte slice whose backing array starts on an
// align boundary. A non power-of-two align falls back to CacheLineSize.
func AlignedBytes(size, align int) []byte {
	if size == 0 {
		return nil
	}
	if !IsPowerOfTwo(align) {
		align = CacheLineSize
	}
	buf := make([]byte, size+align-1)

	ptr := uintptr(unsafe.Pointer(&buf[0]))
	offset := 0
	if mod := int(ptr % uintptr(align)); mod != 0 {
		offset = align - mod
	}
	return buf[offset : offset+size : offset+size]
}
