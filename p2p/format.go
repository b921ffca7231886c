package p2p

import (
	"fmt"
	"strings"
)

// FormatBuffer renders buf as raw characters, or as 0x followed by two
// upper-case hex digits per byte.
func FormatBuffer(buf []byte, ascii bool) string {
	if ascii {
		return string(buf)
	}
	var sb strings.Builder
	sb.WriteString("0x")
	for _, b := range buf {
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}
