package pool

import "sync"

var uint64SlicePool = sync.Pool{
	New: func() any { return &[]uint64{} },
}

// GetUint64Slice retrieves a zeroed uint64 slice of the given length from the pool.
//
// The caller must call the returned cleanup function to return the slice to the pool.
//
// Example:
//
//	extents, cleanup := pool.GetUint64Slice(nprocs * 10)
//	defer cleanup()
func GetUint64Slice(size int) ([]uint64, func()) {
	ptr, _ := uint64SlicePool.Get().(*[]uint64)
	slice := (*ptr)[:0]

	if cap(slice) < size {
		slice = make([]uint64, size)
	} else {
		slice = slice[:size]
		clear(slice)
	}
	*ptr = slice

	return slice, func() { uint64SlicePool.Put(ptr) }
}
