package logging

import (
	"fmt"
	"strings"
)

// dumpWidth is the number of bytes rendered per hexdump line.
const dumpWidth = 16

// Dump emits a hex dump of raw wire traffic at debug level. The mark
// distinguishes direction: '<' for bytes headed to the driver, '>' for
// bytes received from it. Only the first line carries the mark.
func (l *Logger) Dump(mark byte, data []byte) {
	if len(data) == 0 || !l.Enabled(LevelDebug) {
		return
	}
	prefix := string(mark) + " "
	for off := 0; off < len(data); off += dumpWidth {
		end := off + dumpWidth
		if end > len(data) {
			end = len(data)
		}
		l.Debug(prefix + hexLine(data[off:end]))
		prefix = "  "
	}
}

func hexLine(b []byte) string {
	var sb strings.Builder
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02x", c)
	}
	return sb.String()
}
