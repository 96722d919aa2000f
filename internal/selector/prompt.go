package selector

import (
	"fmt"
	"strings"

	"github.com/kherrera/ctxrelay-mcp/pkg/types"
)

// ContextBlocks renders a bundle into the completion request's context
// entries, one block per selected chunk, in rank order. An empty bundle
// renders to nil: the completion simply carries no context.
func ContextBlocks(bundle *types.ContextBundle) []string {
	if bundle == nil || bundle.Empty() {
		return nil
	}

	blocks := make([]string, 0, len(bundle.Items))
	for _, item := range bundle.Items {
		blocks = append(blocks, renderItem(item))
	}
	return blocks
}

// renderItem formats one chunk with a locator header so the model can cite
// where the context came from.
func renderItem(item types.ScoredChunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s:%d-%d %s]\n", item.Chunk.SourcePath,
		item.Chunk.StartLine, item.Chunk.EndLine, item.Chunk.Kind)
	b.WriteString(item.Chunk.Text)
	return b.String()
}
