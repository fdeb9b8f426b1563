package codec

import (
	"fmt"
)

// Version is a four part format version.
type Version [4]uint16

var (
	// V1Raw stores raw expressions.
	V1Raw = Version{1, 0, 0, 0}
	// V1Templated adds the expression mode byte and template references.
	V1Templated = Version{1, 1, 0, 0}
	// Current is written by default.
	Current = V1Templated
)

var supported = map[Version]bool{
	V1Raw:       true,
	V1Templated: true,
}

// Supported reports whether v can be read.
func (v Version) Supported() bool {
	return supported[v]
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v[0], v[1], v[2], v[3])
}

var (
	signature = [2]byte{0x52, 0x58}
	footer    = [4]byte{0xEF, 0xBE, 0xAD, 0xDE}
)

const headerLen = 2 + 8

// Expression modes of V1Templated.
const (
	modeRaw       byte = 0
	modeTemplated byte = 1
)

// Size limits enforced by the reader.
const (
	maxIDLen    = 2048
	maxExprLen  = 64 << 20
	maxStateLen = 64 << 20
)
