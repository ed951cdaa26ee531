// Package section defines the binary header of IDX data files.
//
// Every data file starts with a FileHeader describing where each block of
// each variable is stored. The header is always big-endian so files are
// portable between hosts; block payloads follow in the writer's native byte
// order, recorded in the dataset metadata.
//
// # File Structure
//
//	┌─────────────────────────────────────────────────────────┐
//	│ Prefix (10 words)                                       │
//	├─────────────────────────────────────────────────────────┤
//	│ Block records (10 words each)                           │
//	│  - BlocksPerFile records for variable 0                 │
//	│  - BlocksPerFile records for variable 1, ...            │
//	├─────────────────────────────────────────────────────────┤
//	│ Padding up to DataOffset                                │
//	├─────────────────────────────────────────────────────────┤
//	│ Block payloads, variable-major, present blocks only     │
//	└─────────────────────────────────────────────────────────┘
//
// The header occupies (10 + 10*blocksPerFile) * 4 * varCount bytes,
// optionally rounded up to a file system block.
//
// # Prefix Format
//
//	Word | Field         | Description
//	-----|---------------|----------------------------------------
//	0    | Magic         | "IDX1"
//	1    | Version       | Header version
//	2    | BlocksPerFile | Block slots per variable
//	3    | VarCount      | Variables in the file
//	4    | Codec         | format.CompressionType of the file
//	5    | Checksum      | xxHash of the record bytes, folded to 32 bits
//	6    | BitsPerBlock  | log2 of the samples per block
//	7    | DataOffset    | Aligned header size
//	8-9  | Reserved      | Zero
//
// # Record Format
//
// Record i of variable v starts at word 10 + (i + blocksPerFile*v) * 10:
//
//	Word | Field
//	-----|-----------------------------------
//	+1   | Offset, high 32 bits
//	+2   | Offset, low 32 bits
//	+4   | Length in bytes
//	+5   | Flag: codec (bits 0-3), present (bit 4)
//
// Absent blocks have an all-zero record.
package section
