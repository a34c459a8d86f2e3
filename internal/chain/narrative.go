package chain

import (
	"fmt"
	"strings"
)

// FormatNarrative renders a walk as readable narrative text: recall
// (backward) chains are reversed into chronological problem->solution
// order; predict (forward) chains keep traversal order. Each node is
// prefixed with its position, session, and date.
func FormatNarrative(w Walk, direction Direction) string {
	nodes := w.Nodes
	if direction == Backward {
		nodes = reversed(nodes)
	}

	var b strings.Builder
	n := len(nodes)
	for i, node := range nodes {
		fmt.Fprintf(&b, "[%d/%d | Session: %s | Date: %s]\n", i+1, n, node.SessionID, node.CreatedAt.Format("2006-01-02"))
		b.WriteString(node.Content)
		b.WriteString("\n\n")
	}
	return strings.TrimSuffix(b.String(), "\n\n")
}

func reversed(nodes []Node) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[len(nodes)-1-i] = n
	}
	return out
}
