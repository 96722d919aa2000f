package chunker

import (
	"strings"

	"github.com/kherrera/ctxrelay-mcp/pkg/types"
)

// boundaryKeywords maps the first meaningful word of an unindented line to
// the chunk kind a new top-level unit implies
var boundaryKeywords = map[string]types.ChunkKind{
	"func":      types.ChunkFunction,
	"def":       types.ChunkFunction,
	"fn":        types.ChunkFunction,
	"function":  types.ChunkFunction,
	"class":     types.ChunkClass,
	"struct":    types.ChunkClass,
	"interface": types.ChunkClass,
	"trait":     types.ChunkClass,
	"impl":      types.ChunkClass,
	"type":      types.ChunkClass,
	"enum":      types.ChunkClass,
}

// modifierWords are skipped when looking for the defining keyword, so
// "export default function" and "pub fn" still register as boundaries
var modifierWords = map[string]bool{
	"pub":       true,
	"public":    true,
	"private":   true,
	"protected": true,
	"static":    true,
	"export":    true,
	"default":   true,
	"async":     true,
	"final":     true,
	"abstract":  true,
	"unsafe":    true,
	"extern":    true,
	"const":     true,
}

// boundaryKind reports whether a line opens a new top-level unit and which
// kind it implies. Only unindented lines qualify: an indented definition
// belongs to its enclosing unit.
func boundaryKind(line string) (types.ChunkKind, bool) {
	if line == "" || line[0] == ' ' || line[0] == '\t' {
		return "", false
	}

	for _, word := range strings.Fields(line) {
		if modifierWords[word] {
			continue
		}
		kind, ok := boundaryKeywords[word]
		return kind, ok
	}

	return "", false
}

// scanState tracks brace depth and block-comment nesting across lines. Depth
// gates boundary detection: a "func" keyword three braces deep is a literal,
// not a definition.
type scanState struct {
	depth          int
	inBlockComment bool
}

// scan consumes one line, returning the depth and comment state at the start
// of the line. Literal and comment handling is a heuristic: quote state does
// not survive line breaks, which is exactly the kind of input the windowing
// fallback exists for.
func (st *scanState) scan(line string) (startDepth int, startsInComment bool) {
	startDepth = st.depth
	startsInComment = st.inBlockComment

	var inStr byte // quote character while inside a literal
	escaped := false

	for i := 0; i < len(line); i++ {
		ch := line[i]

		if st.inBlockComment {
			if ch == '*' && i+1 < len(line) && line[i+1] == '/' {
				st.inBlockComment = false
				i++
			}
			continue
		}

		if inStr != 0 {
			if escaped {
				escaped = false
				continue
			}
			switch ch {
			case '\\':
				escaped = true
			case inStr:
				inStr = 0
			}
			continue
		}

		switch ch {
		case '"', '\'', '`':
			inStr = ch
		case '#':
			return
		case '/':
			if i+1 < len(line) {
				switch line[i+1] {
				case '/':
					return
				case '*':
					st.inBlockComment = true
					i++
				}
			}
		case '{':
			st.depth++
		case '}':
			if st.depth > 0 {
				st.depth--
			}
		}
	}

	return
}
