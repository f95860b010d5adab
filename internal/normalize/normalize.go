// Package normalize canonicalizes SQL text before hashing, so that
// irrelevant formatting does not produce spurious differences
// (spec.md §4.9). It is grounded on the teacher's own ad hoc definition
// cleanup in database/mssql/database.go (views(): trim, collapse
// newlines/spaces, strip trailing semicolon) and the GO-batch splitting
// in database/mssql/parser.go, generalized into a standalone, versioned,
// pure pipeline.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// PipelineVersion is stamped onto every SchemaSnapshot. Bump it whenever
// the normalization rules change so that snapshots captured under an
// older version are known to need re-normalization.
const PipelineVersion = 1

// Options controls which optional rules apply, mirroring
// model.Options.IgnoreWhitespace / IgnoreComments (spec.md §4.5, §4.9).
type Options struct {
	IgnoreWhitespace bool
	IgnoreComments   bool
}

var (
	runsOfBlank = regexp.MustCompile(`\n{2,}`)
	trailingWS  = regexp.MustCompile(`[ \t]+\n`)
	withOptions = regexp.MustCompile(`(?is)WITH\s*\(([^)]*)\)`)
)

// Script canonicalizes sql according to the rules in spec.md §4.9. It
// first converts CR LF and lone CR line endings to LF, then:
//
//  1. strip comments (when IgnoreComments)
//  2. collapse runs of whitespace outside string literals to a single space
//     (when IgnoreWhitespace)
//  3. otherwise, trim trailing spaces/tabs before each newline and collapse
//     runs of blank lines
//  4. preserve string/identifier quoting verbatim: steps 1 and 2 never
//     touch characters inside a quoted literal (see stripComments/collapse);
//     the line-ending conversion and step 3 apply to the whole text,
//     literals included
//  5. normalize index WITH (...) option ordering
//
// The pipeline is deterministic and pure: the same input always produces
// the same output, with no reliance on external state.
func Script(sql string, opts Options) string {
	out := strings.ReplaceAll(sql, "\r\n", "\n")
	out = strings.ReplaceAll(out, "\r", "\n")

	if opts.IgnoreComments {
		out = stripComments(out)
	}

	if opts.IgnoreWhitespace {
		out = collapseWhitespace(out)
	} else {
		out = trailingWS.ReplaceAllString(out, "\n")
		out = runsOfBlank.ReplaceAllString(out, "\n")
	}

	out = normalizeIndexOptions(out)

	return strings.TrimSpace(out)
}

// Hash returns the hex-encoded SHA-256 of the normalized script, the
// DefinitionHash invariant from spec.md §3 ("definition-hash = SHA-256 of
// the normalized script").
func Hash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// stripComments removes -- line comments and /* ... */ block comments
// while leaving quoted string/bracket-identifier contents untouched.
// It walks the text once, tracking whether it is inside a single-quoted
// string or a bracket identifier, so a `--` or `/*` inside a literal is
// never mistaken for a comment marker.
func stripComments(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))

	inString := false
	inBracket := false
	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		c := runes[i]

		if inString {
			b.WriteRune(c)
			if c == '\'' {
				if i+1 < len(runes) && runes[i+1] == '\'' {
					b.WriteRune(runes[i+1])
					i++
					continue
				}
				inString = false
			}
			continue
		}
		if inBracket {
			b.WriteRune(c)
			if c == ']' {
				inBracket = false
			}
			continue
		}

		switch {
		case c == '\'':
			inString = true
			b.WriteRune(c)
		case c == '[':
			inBracket = true
			b.WriteRune(c)
		case c == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			i-- // let the loop's i++ land on the newline
		case c == '/' && i+1 < len(runes) && runes[i+1] == '*':
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i++ // skip the '/'
		default:
			b.WriteRune(c)
		}
	}

	return b.String()
}

// collapseWhitespace collapses runs of whitespace to a single space,
// except inside single-quoted strings or bracketed identifiers, which are
// preserved verbatim (rule 4).
func collapseWhitespace(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))

	inString := false
	inBracket := false
	lastWasSpace := false
	for i, c := range sql {
		if inString {
			b.WriteRune(c)
			if c == '\'' {
				inString = false
			}
			continue
		}
		if inBracket {
			b.WriteRune(c)
			if c == ']' {
				inBracket = false
			}
			continue
		}
		switch {
		case c == '\'':
			inString = true
			lastWasSpace = false
			b.WriteRune(c)
		case c == '[':
			inBracket = true
			lastWasSpace = false
			b.WriteRune(c)
		case c == ' ' || c == '\t' || c == '\n':
			if !lastWasSpace {
				b.WriteRune(' ')
				lastWasSpace = true
			}
		default:
			lastWasSpace = false
			b.WriteRune(c)
		}
		_ = i
	}
	return b.String()
}

// normalizeIndexOptions sorts the comma-separated option list inside a
// WITH (...) clause so that equivalent index definitions with options
// listed in a different order hash identically (spec.md §4.9 rule 5).
func normalizeIndexOptions(sql string) string {
	return withOptions.ReplaceAllStringFunc(sql, func(match string) string {
		sub := withOptions.FindStringSubmatch(match)
		if sub == nil {
			return match
		}
		parts := strings.Split(sub[1], ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		sortStrings(parts)
		return "WITH (" + strings.Join(parts, ", ") + ")"
	})
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
