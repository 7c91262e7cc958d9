package filekind

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		header []byte
		want   Kind
	}{
		{"gzip", []byte{0x1f, 0x8b, 0x08, 0x00}, Gzip},
		{"bzip2", []byte("BZh91AY&SY"), Bzip2},
		{"xz", []byte{0xfd, '7', 'z', 'X', 'Z', 0x00, 0x00}, XZ},
		{"zstd", []byte{0x28, 0xb5, 0x2f, 0xfd, 0x00}, Zstd},
		{"elf", []byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0}, ELF},
		{"shebang", []byte("#!/bin/sh\necho hi\n"), ShebangScript},
		{"other", []byte("hello, world"), Other},
	}
	for _, c := range cases {
		if got := Classify(c.header); got != c.want {
			t.Errorf("Classify(%s) = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestClassifyTarRequiresFullHeader(t *testing.T) {
	buf := make([]byte, 512)
	copy(buf[257:], []byte("ustar"))
	if got := Classify(buf); got != Tar {
		t.Errorf("Classify(tar header) = %v, want Tar", got)
	}
	if got := Classify(buf[:100]); got != Other {
		t.Errorf("Classify(short buffer) = %v, want Other", got)
	}
}

func TestClassifyTruncatesOverlongHeader(t *testing.T) {
	buf := make([]byte, 4096)
	buf[0], buf[1], buf[2], buf[3] = 0x28, 0xb5, 0x2f, 0xfd
	if got := Classify(buf); got != Zstd {
		t.Errorf("Classify(long buffer) = %v, want Zstd", got)
	}
}
