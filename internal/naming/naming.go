// Package naming turns arbitrary cache keys into bounded, collision
// resistant file names that are safe on every supported filesystem.
package naming

import (
	"fmt"
	"hash"
	"hash/crc32"
	"strings"
	"unicode/utf8"
)

// MaxFilenameLength is the longest name NameFor will produce, extension included.
const MaxFilenameLength = 108

// MetaExt is the extension used for sidecar metadata files.
const MetaExt = "meta"

// illegal lists the characters removed from keys before they are used as names.
const illegal = ` :\/*"?|<>'.;#$=`

// NameFor returns the file name for key. A non-empty ext is appended as
// ".ext". The result is deterministic, at most MaxFilenameLength bytes long
// and ends with the CRC32 of the original key so two keys that only differ in
// stripped characters never share a name.
func NameFor(key, ext string) string {
	var n Namer
	return n.NameFor(key, ext)
}

// MetaName returns the sidecar name for a data file or directory name.
func MetaName(name string) string {
	return name + "." + MetaExt
}

// IsMeta reports whether name is a sidecar file name.
func IsMeta(name string) bool {
	return strings.HasSuffix(name, "."+MetaExt) && len(name) > len(MetaExt)+1
}

// DataName strips the sidecar extension from a sidecar name.
func DataName(meta string) string {
	return strings.TrimSuffix(meta, "."+MetaExt)
}

// Namer holds reusable scratch state for NameFor. The zero value is ready to
// use. A Namer is not safe for concurrent use; give each worker its own.
type Namer struct {
	crc hash.Hash32
	sb  strings.Builder
}

// NameFor is like the package level NameFor but reuses the Namer's buffers.
func (n *Namer) NameFor(key, ext string) string {
	stripped := strip(key)

	if n.crc == nil {
		n.crc = crc32.NewIEEE()
	}
	n.crc.Reset()
	_, _ = n.crc.Write([]byte(key))
	sum := fmt.Sprintf("%08x", n.crc.Sum32())

	extLen := 0
	if ext != "" {
		extLen = len(ext) + 1
	}

	// keep the tail of long keys; the leading part is usually a shared prefix
	if total := len(stripped) + 1 + len(sum) + extLen; total > MaxFilenameLength {
		over := total - MaxFilenameLength
		for over < len(stripped) && !utf8.RuneStart(stripped[over]) {
			over++
		}
		if over >= len(stripped) {
			stripped = ""
		} else {
			stripped = stripped[over:]
		}
	}

	n.sb.Reset()
	n.sb.Grow(len(stripped) + 1 + len(sum) + extLen)
	n.sb.WriteString(stripped)
	n.sb.WriteByte('_')
	n.sb.WriteString(sum)
	if ext != "" {
		n.sb.WriteByte('.')
		n.sb.WriteString(ext)
	}
	return n.sb.String()
}

func strip(key string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(illegal, r) {
			return -1
		}
		return r
	}, key)
}
