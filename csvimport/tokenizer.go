// Package csvimport converts the fixed-column roadmap CSV template into the
// milestone/task tree used for bulk roadmap authoring.
package csvimport

import "strings"

// SplitLine splits a single CSV line into its fields. Double-quoted fields may
// contain commas, and two consecutive double quotes inside a quoted field
// encode one literal quote. The scanner is deliberately permissive: malformed
// quoting never fails, it just accumulates whatever characters it sees. This
// handles the internal template format only, not arbitrary CSV.
func SplitLine(line string) []string {
	fields := make([]string, 0, 8)
	var cur strings.Builder
	inQuotes := false
	for i := 0; i < len(line); i++ {
		switch ch := line[i]; {
		case ch == '"':
			if inQuotes && i+1 < len(line) && line[i+1] == '"' {
				cur.WriteByte('"')
				i++
			} else {
				inQuotes = !inQuotes
			}
		case ch == ',' && !inQuotes:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(ch)
		}
	}
	return append(fields, cur.String())
}
