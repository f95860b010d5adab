package normalize

import (
	"regexp"
	"strings"
)

// goBatchSeparator matches a standalone "GO" batch separator line, the
// same convention database/mssql/parser.go splits on before parsing each
// batch individually.
var goBatchSeparator = regexp.MustCompile(`(?im)^\s*GO\s*$`)

// SplitBatches splits a .sql file's contents on "GO" batch separator
// lines, trimming and discarding empty batches. SQL Server project files
// commonly contain multiple CREATE statements separated by GO; the file
// model builder classifies each batch independently.
func SplitBatches(sql string) []string {
	parts := goBatchSeparator.Split(sql, -1)
	batches := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		batches = append(batches, trimmed)
	}
	return batches
}
