package artifact

import (
	"bytes"
	"debug/macho"
	"strings"

	"golang.org/x/xerrors"
)

// machoSystemDirPrefixes are directories whose libraries are provided by
// the host macOS system and are therefore always considered satisfied.
var machoSystemDirPrefixes = []string{
	"/usr/lib/",
	"/System/Library/",
}

// IsMachOSystemPath reports whether p is a macOS system library path that
// the audit engine should treat as satisfied without emission.
func IsMachOSystemPath(p string) bool {
	for _, prefix := range machoSystemDirPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// SubstituteMachOTokens replaces @loader_path, @executable_path and
// @rpath tokens the way dyld does, before resolution.
func SubstituteMachOTokens(entry, loaderDir, executableDir string, rpaths []string) []string {
	switch {
	case strings.HasPrefix(entry, "@loader_path"):
		return []string{loaderDir + strings.TrimPrefix(entry, "@loader_path")}
	case strings.HasPrefix(entry, "@executable_path"):
		return []string{executableDir + strings.TrimPrefix(entry, "@executable_path")}
	case strings.HasPrefix(entry, "@rpath"):
		rest := strings.TrimPrefix(entry, "@rpath")
		out := make([]string, 0, len(rpaths))
		for _, rp := range rpaths {
			out = append(out, rp+rest)
		}
		return out
	default:
		return []string{entry}
	}
}

// machDylibStub is MH_DYLIB_STUB (0x9), the file type used for .tbd-style
// "stub" shared libraries that carry symbol tables but no code. The
// standard library's debug/macho package does not name this constant.
const machDylibStub = macho.Type(9)

func machoFileType(t macho.Type) MachOFileType {
	switch t {
	case macho.TypeDylib:
		return MachODynamicLibrary
	case machDylibStub:
		return MachODynamicLibraryStub
	case macho.TypeExec:
		return MachOExecutable
	case macho.TypeBundle:
		return MachOBundle
	case macho.TypeObj:
		return MachOObject
	default:
		return MachOOther
	}
}

// ParseMachO parses a (possibly fat) Mach-O file into a MachOMeta record.
func ParseMachO(raw []byte) (MachOMeta, error) {
	if fat, err := macho.NewFatFile(bytes.NewReader(raw)); err == nil {
		defer fat.Close()
		meta := MachOMeta{}
		for _, arch := range fat.Arches {
			rec, err := machoArchRecord(arch.File, machoArchName(arch.Cpu))
			if err != nil {
				return MachOMeta{}, err
			}
			meta.Archs = append(meta.Archs, rec)
		}
		return meta, nil
	}
	f, err := macho.NewFile(bytes.NewReader(raw))
	if err != nil {
		return MachOMeta{}, xerrors.Errorf("parse Mach-O: %w", err)
	}
	defer f.Close()
	rec, err := machoArchRecord(f, machoArchName(f.Cpu))
	if err != nil {
		return MachOMeta{}, err
	}
	return MachOMeta{Archs: []MachOArch{rec}}, nil
}

func machoArchName(cpu macho.Cpu) string {
	switch cpu {
	case macho.CpuAmd64:
		return "x86_64"
	case macho.CpuArm64:
		return "arm64"
	default:
		return cpu.String()
	}
}

func machoArchRecord(f *macho.File, arch string) (MachOArch, error) {
	rec := MachOArch{Arch: arch, FileType: machoFileType(f.Type)}
	for _, l := range f.Loads {
		switch load := l.(type) {
		case *macho.Dylib:
			rec.RequiredLibraries = append(rec.RequiredLibraries, load.Name)
		case *macho.Rpath:
			rec.RPath = append(rec.RPath, load.Path)
		case macho.LoadBytes:
			// debug/macho leaves LC_ID_DYLIB (0xd), the library's own
			// install name, unparsed; its name string starts at the
			// offset stored in bytes 8-12 of the command.
			if len(load) >= 12 && f.ByteOrder.Uint32(load[0:4]) == 0xd {
				if off := f.ByteOrder.Uint32(load[8:12]); int(off) < len(load) {
					name := load[off:]
					if i := bytes.IndexByte(name, 0); i >= 0 {
						name = name[:i]
					}
					rec.Name = string(name)
				}
			}
		}
	}
	return rec, nil
}
