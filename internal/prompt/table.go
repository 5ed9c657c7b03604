package prompt

import (
	"strings"

	"github.com/treadline-ai/treadline/internal/catalog"
)

// RenderTable renders candidate rows as a pipe-separated table in priority
// order: header line first, then one line per row. Pipes inside values are
// replaced with slashes so a row always splits back into the same number
// of fields.
func RenderTable(rows []catalog.CandidateRow) string {
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, strings.Join(catalog.PromptHeaders, "|"))

	for i := range rows {
		values := rows[i].PromptValues()
		for j, v := range values {
			if strings.Contains(v, "|") {
				values[j] = strings.ReplaceAll(v, "|", "/")
			}
		}
		lines = append(lines, strings.Join(values, "|"))
	}
	return strings.Join(lines, "\n")
}
