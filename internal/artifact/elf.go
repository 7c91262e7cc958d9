package artifact

import (
	"bytes"
	"debug/elf"
	"path"

	"golang.org/x/xerrors"
)

// dtFlags1PIE mirrors DF_1_PIE from <elf.h>.
const dtFlags1PIE = 0x08000000

// dynEntry is one raw (tag, value) pair from the .dynamic section, read
// manually because debug/elf exposes DT_NEEDED parsing (via
// ImportedLibraries) but not a general string-valued tag lookup for
// DT_RPATH/DT_RUNPATH/DT_FLAGS_1.
type dynEntry struct {
	tag   int64
	value uint64
}

func readDynamicEntries(f *elf.File) ([]dynEntry, []byte, error) {
	dynSec := f.SectionByType(elf.SHT_DYNAMIC)
	if dynSec == nil {
		return nil, nil, nil
	}
	data, err := dynSec.Data()
	if err != nil {
		return nil, nil, xerrors.Errorf("read .dynamic: %w", err)
	}
	strSec := f.Section(".dynstr")
	var strTab []byte
	if strSec != nil {
		strTab, _ = strSec.Data()
	}

	entSize := 8 // Elf32_Dyn: two 4-byte fields
	is64 := f.Class == elf.ELFCLASS64
	if is64 {
		entSize = 16
	}
	var entries []dynEntry
	for off := 0; off+entSize <= len(data); off += entSize {
		var tag int64
		var val uint64
		if is64 {
			tag = int64(f.ByteOrder.Uint64(data[off : off+8]))
			val = f.ByteOrder.Uint64(data[off+8 : off+16])
		} else {
			tag = int64(int32(f.ByteOrder.Uint32(data[off : off+4])))
			val = uint64(f.ByteOrder.Uint32(data[off+4 : off+8]))
		}
		if elf.DynTag(tag) == elf.DT_NULL {
			break
		}
		entries = append(entries, dynEntry{tag: tag, value: val})
	}
	return entries, strTab, nil
}

func dynString(strTab []byte, off uint64) string {
	if strTab == nil || off >= uint64(len(strTab)) {
		return ""
	}
	end := bytes.IndexByte(strTab[off:], 0)
	if end < 0 {
		return string(strTab[off:])
	}
	return string(strTab[off : off+uint64(end)])
}

func splitColonList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ':' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// ParseELF parses the ELF file at p (given its already-read bytes) into
// an ELFMeta record, substituting $ORIGIN in rpath/runpath entries with
// dir, the absolute directory containing p.
func ParseELF(raw []byte, dir string, executable bool) (ELFMeta, error) {
	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return ELFMeta{}, xerrors.Errorf("parse ELF: %w", err)
	}
	defer f.Close()

	meta := ELFMeta{IsExecutable: executable}

	if libs, err := f.ImportedLibraries(); err == nil {
		meta.RequiredLibraries = libs
	}

	entries, strTab, err := readDynamicEntries(f)
	if err != nil {
		return ELFMeta{}, err
	}
	hasDynamicTable := entries != nil
	var hasPIEFlag bool
	for _, e := range entries {
		switch elf.DynTag(e.tag) {
		case elf.DT_RPATH:
			meta.RPath = substituteAll(splitColonList(dynString(strTab, e.value)), dir)
		case elf.DT_RUNPATH:
			meta.RunPath = substituteAll(splitColonList(dynString(strTab, e.value)), dir)
		case elf.DT_FLAGS_1:
			if e.value&dtFlags1PIE != 0 {
				hasPIEFlag = true
			}
		}
	}

	if interp := interpSection(f); interp != "" {
		meta.Interpreter = interp
	}

	meta.Type = classifyELFType(f.Type, hasDynamicTable, executable, hasPIEFlag)
	return meta, nil
}

func interpSection(f *elf.File) string {
	sec := f.Section(".interp")
	if sec == nil {
		return ""
	}
	data, err := sec.Data()
	if err != nil {
		return ""
	}
	return string(bytes.TrimRight(data, "\x00"))
}

func substituteAll(entries []string, dir string) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = SubstituteOrigin(e, dir)
	}
	return out
}

// classifyELFType implements the decision table of spec.md §4.C:
// DYN + DF_1_PIE => PIE; DYN with no dynamic table and executable
// permission => Exec; DYN => SharedLib; EXEC => Exec; REL => Relocatable;
// else Other.
func classifyELFType(t elf.Type, hasDynamicTable, executable, hasPIEFlag bool) ELFType {
	switch t {
	case elf.ET_DYN:
		if hasDynamicTable && hasPIEFlag {
			return ELFPIE
		}
		if !hasDynamicTable && executable {
			return ELFExec
		}
		return ELFSharedLib
	case elf.ET_EXEC:
		return ELFExec
	case elf.ET_REL:
		return ELFRelocatable
	default:
		return ELFOther
	}
}

// joinLib joins a resolved rpath/runpath directory with a required
// library basename, the way the audit engine does when probing for a
// library file.
func joinLib(dir, basename string) string {
	return path.Join(dir, basename)
}
