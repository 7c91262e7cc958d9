package artifact

import "strings"

// ParseShebang parses a script's first line ("#!interpreter [arg]") into
// a ShebangMeta record.
func ParseShebang(firstLine string, executable bool) ShebangMeta {
	raw := strings.TrimPrefix(firstLine, "#!")
	raw = strings.TrimRight(raw, "\r\n")
	fields := strings.Fields(raw)
	meta := ShebangMeta{InterpreterRaw: raw, IsExecutable: executable}
	if len(fields) == 0 {
		return meta
	}
	meta.InterpreterCommand = fields[0]
	meta.InterpreterArgs = fields[1:]
	return meta
}

// firstLine extracts the first newline-terminated (or EOF-terminated)
// line from raw, used to feed ParseShebang.
func firstLine(raw []byte) string {
	if idx := indexByte(raw, '\n'); idx >= 0 {
		return string(raw[:idx+1])
	}
	return string(raw)
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}
