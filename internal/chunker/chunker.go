package chunker

import (
	"strings"

	"github.com/kherrera/ctxrelay-mcp/pkg/types"
)

// Default chunking limits, in lines
const (
	DefaultMaxChunkLines = 160
	DefaultWindowLines   = 48
	DefaultOverlapLines  = 8
)

// Config controls chunk sizing
type Config struct {
	// MaxChunkLines is the largest unit kept whole; bigger units are split
	// into sliding windows
	MaxChunkLines int

	// WindowLines is the height of each fallback window
	WindowLines int

	// OverlapLines is how many lines consecutive windows share
	OverlapLines int
}

func (c *Config) applyDefaults() {
	if c.MaxChunkLines <= 0 {
		c.MaxChunkLines = DefaultMaxChunkLines
	}
	if c.WindowLines <= 0 {
		c.WindowLines = DefaultWindowLines
	}
	if c.OverlapLines < 0 {
		c.OverlapLines = DefaultOverlapLines
	}
	if c.OverlapLines >= c.WindowLines {
		c.OverlapLines = c.WindowLines / 2
	}
	if c.MaxChunkLines < c.WindowLines {
		c.MaxChunkLines = c.WindowLines
	}
}

// Chunker splits source text into semantically bounded chunks
type Chunker struct {
	config Config
}

// New creates a Chunker with the given limits
func New(cfg Config) *Chunker {
	cfg.applyDefaults()
	return &Chunker{config: cfg}
}

// Chunk splits sourceText into chunks for indexing. Boundaries are detected
// with a language-aware heuristic (top-level definition keywords gated by
// brace depth); units larger than MaxChunkLines fall back to sliding windows
// with overlap, as does text with no detectable structure. Chunk never fails:
// malformed input degrades to naive windowing.
//
// The chunks partition the source exactly, except for the declared window
// overlap: Reconstruct is the inverse operation.
func (c *Chunker) Chunk(sourceText, path string) []types.Chunk {
	if sourceText == "" {
		return nil
	}

	lines := splitLines(sourceText)
	starts, kinds := c.findBoundaries(lines)

	var chunks []types.Chunk
	for i, start := range starts {
		end := len(lines)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		chunks = append(chunks, c.emit(lines, path, start, end, kinds[i])...)
	}

	for i := range chunks {
		chunks[i].ComputeID()
	}

	return chunks
}

// findBoundaries returns the starting line index of each segment, always
// beginning with 0, plus the chunk kind per segment
func (c *Chunker) findBoundaries(lines []string) ([]int, []types.ChunkKind) {
	starts := []int{0}
	kinds := []types.ChunkKind{types.ChunkBlock}

	var st scanState
	for i, line := range lines {
		depth, inComment := st.scan(line)
		if depth != 0 || inComment {
			continue
		}
		kind, ok := boundaryKind(line)
		if !ok {
			continue
		}
		if i == 0 {
			kinds[0] = kind
			continue
		}
		starts = append(starts, i)
		kinds = append(kinds, kind)
	}

	return starts, kinds
}

// emit produces one chunk for the segment [start, end), or several window
// chunks when the segment exceeds MaxChunkLines
func (c *Chunker) emit(lines []string, path string, start, end int, kind types.ChunkKind) []types.Chunk {
	if start >= end {
		return nil
	}

	if end-start <= c.config.MaxChunkLines {
		return []types.Chunk{c.makeChunk(lines, path, start, end, 0, kind)}
	}

	// Sliding windows; only window chunks after the first carry overlap
	var chunks []types.Chunk
	step := c.config.WindowLines - c.config.OverlapLines
	for ws := start; ws < end; {
		we := ws + c.config.WindowLines
		if we > end {
			we = end
		}
		overlap := 0
		if ws > start {
			overlap = c.config.OverlapLines
		}
		chunks = append(chunks, c.makeChunk(lines, path, ws, we, overlap, types.ChunkBlock))
		if we == end {
			break
		}
		ws += step
	}

	return chunks
}

func (c *Chunker) makeChunk(lines []string, path string, start, end, overlap int, kind types.ChunkKind) types.Chunk {
	return types.Chunk{
		SourcePath:   path,
		StartLine:    start + 1,
		EndLine:      end,
		Text:         strings.Join(lines[start:end], "\n"),
		OverlapLines: overlap,
		Kind:         kind,
	}
}

// Reconstruct concatenates chunk texts, dropping each chunk's declared
// overlap, and returns the original source (without its trailing newline,
// which chunk texts never carry). Chunks must be in file order.
func Reconstruct(chunks []types.Chunk) string {
	var lines []string
	for _, chunk := range chunks {
		chunkLines := strings.Split(chunk.Text, "\n")
		if chunk.OverlapLines > 0 && chunk.OverlapLines <= len(chunkLines) {
			chunkLines = chunkLines[chunk.OverlapLines:]
		}
		lines = append(lines, chunkLines...)
	}
	return strings.Join(lines, "\n")
}

// splitLines splits on newlines, discarding the empty tail produced by a
// trailing newline so line counts match what an editor reports
func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
