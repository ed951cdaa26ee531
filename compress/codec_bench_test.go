package compress

import (
	"testing"
)

func BenchmarkCompressBlock(b *testing.B) {
	data := smoothBlock(64 * 1024)
	for _, ct := range allTypes {
		b.Run(ct.String(), func(b *testing.B) {
			b.SetBytes(int64(len(data)))
			b.ReportAllocs()
			for b.Loop() {
				if _, _, err := CompressBlock(ct, data); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkDecompressBlock(b *testing.B) {
	data := smoothBlock(64 * 1024)
	dst := make([]byte, len(data))
	for _, ct := range allTypes {
		packed, stored, err := CompressBlock(ct, data)
		if err != nil {
			b.Fatal(err)
		}
		b.Run(ct.String(), func(b *testing.B) {
			b.SetBytes(int64(len(data)))
			b.ReportAllocs()
			for b.Loop() {
				if err := DecompressBlock(stored, packed, dst); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
