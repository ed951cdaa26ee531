package hash

import "github.com/cespare/xxhash/v2"

// Checksum32 folds the xxHash64 of data into 32 bits, the width of one
// header word.
func Checksum32(data []byte) uint32 {
	sum := xxhash.Sum64(data)
	return uint32(sum>>32) ^ uint32(sum)
}
