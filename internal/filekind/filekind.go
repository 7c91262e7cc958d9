// Package filekind classifies raw file bytes by magic number, the way a
// file(1)-style probe does: read a small header and match it against a
// fixed table.
package filekind

import "bytes"

// Kind is the classification of a probed file.
type Kind int

const (
	Other Kind = iota
	Tar
	Gzip
	Bzip2
	XZ
	Zstd
	ELF
	ShebangScript
)

func (k Kind) String() string {
	switch k {
	case Tar:
		return "tar"
	case Gzip:
		return "gzip"
	case Bzip2:
		return "bzip2"
	case XZ:
		return "xz"
	case Zstd:
		return "zstd"
	case ELF:
		return "elf"
	case ShebangScript:
		return "shebang-script"
	default:
		return "other"
	}
}

// probeSize is the number of leading bytes read for classification.
const probeSize = 1024

type magic struct {
	kind   Kind
	offset int
	bytes  []byte
}

// magicTable holds fixed magic-byte entries, checked in order. ustar's
// magic lives at offset 257, so it cannot be distinguished from "other"
// without reading that far; probeSize comfortably covers it.
var magicTable = []magic{
	{Gzip, 0, []byte{0x1f, 0x8b}},
	{Bzip2, 0, []byte("BZh")},
	{XZ, 0, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}},
	{Zstd, 0, []byte{0x28, 0xb5, 0x2f, 0xfd}},
	{ELF, 0, []byte{0x7f, 'E', 'L', 'F'}},
	{Tar, 257, []byte("ustar")},
}

// Classify reads up to probeSize bytes from header (which may itself
// already be a short, pre-read buffer) and classifies it. Script
// detection is a two-byte "#!" prefix, checked before the fixed table.
func Classify(header []byte) Kind {
	if len(header) > probeSize {
		header = header[:probeSize]
	}
	if len(header) >= 2 && header[0] == '#' && header[1] == '!' {
		return ShebangScript
	}
	for _, m := range magicTable {
		end := m.offset + len(m.bytes)
		if len(header) < end {
			continue
		}
		if bytes.Equal(header[m.offset:end], m.bytes) {
			return m.kind
		}
	}
	return Other
}

// ProbeSize is exported so readers can size their peek buffer correctly.
func ProbeSize() int { return probeSize }
