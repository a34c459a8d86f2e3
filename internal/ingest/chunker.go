package ingest

import (
	"fmt"
	"strings"

	"github.com/ecmem/engine/internal/chunk"
	"github.com/ecmem/engine/internal/store"
)

// ChunkOptions tunes the turn chunker. Zero values take this package's
// defaults, borrowed from the markdown chunker's own size budget.
type ChunkOptions struct {
	MaxTokensPerChunk int
	MinTokensPerChunk int
	IncludeThinking   bool
}

func (o ChunkOptions) withDefaults() ChunkOptions {
	if o.MaxTokensPerChunk <= 0 {
		o.MaxTokensPerChunk = chunk.DefaultMaxChunkTokens
	}
	if o.MinTokensPerChunk <= 0 {
		o.MinTokensPerChunk = chunk.MinChunkTokens
	}
	return o
}

// Draft is one chunk produced from a transcript, not yet persisted.
type Draft struct {
	Content     string
	ContentType store.ContentType
	AgentID     string
	SpawnDepth  int
	TurnStart   int
	TurnEnd     int
}

// marker returns the structural prefix a message is rendered with:
// [User], [Assistant], [Tool:Name], [Result:Name], [Thinking].
func marker(m Message) string {
	switch m.ContentType {
	case store.ContentTypeUser:
		return "[User]"
	case store.ContentTypeAssistant:
		return "[Assistant]"
	case store.ContentTypeTool:
		return fmt.Sprintf("[Tool:%s]", m.ToolName)
	case store.ContentTypeResult:
		return fmt.Sprintf("[Result:%s]", m.ToolName)
	case store.ContentTypeThinking:
		return "[Thinking]"
	default:
		return "[" + string(m.ContentType) + "]"
	}
}

func renderMessage(m Message) string {
	return marker(m) + "\n" + m.Text
}

func estimateTokens(s string) int {
	return len(s) / chunk.TokensPerChar
}

// ChunkTurns applies the chunking policy: turns below MinTokensPerChunk
// are merged with neighbours; turns (or merged
// groups of turns) above MaxTokensPerChunk are split at message marker
// boundaries, never mid-code-block, falling back to paragraph
// boundaries within an oversized single message.
func ChunkTurns(turns []Turn, opts ChunkOptions) []Draft {
	opts = opts.withDefaults()

	if !opts.IncludeThinking {
		turns = stripThinking(turns)
	}
	turns = dropEmptyTurns(turns)
	if len(turns) == 0 {
		return nil
	}

	groups := mergeSmallTurns(turns, opts.MinTokensPerChunk)

	var drafts []Draft
	turnIndex := 1
	for _, group := range groups {
		groupTurnStart := turnIndex
		groupTurnEnd := turnIndex + len(group) - 1
		turnIndex = groupTurnEnd + 1

		drafts = append(drafts, splitGroup(group, groupTurnStart, groupTurnEnd, opts.MaxTokensPerChunk)...)
	}
	return drafts
}

func stripThinking(turns []Turn) []Turn {
	out := make([]Turn, 0, len(turns))
	for _, t := range turns {
		kept := t.Messages[:0:0]
		for _, m := range t.Messages {
			if m.ContentType != store.ContentTypeThinking {
				kept = append(kept, m)
			}
		}
		out = append(out, Turn{Messages: kept})
	}
	return out
}

func dropEmptyTurns(turns []Turn) []Turn {
	out := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if len(t.Messages) > 0 {
			out = append(out, t)
		}
	}
	return out
}

// mergeSmallTurns groups consecutive turns into buffers that each reach
// at least minTokens (the final buffer is flushed regardless of size).
func mergeSmallTurns(turns []Turn, minTokens int) [][]Turn {
	var groups [][]Turn
	var buf []Turn
	bufTokens := 0

	for i, t := range turns {
		buf = append(buf, t)
		bufTokens += estimateTokens(renderTurn(t))

		isLast := i == len(turns)-1
		if bufTokens >= minTokens || isLast {
			groups = append(groups, buf)
			buf = nil
			bufTokens = 0
		}
	}
	return groups
}

func renderTurn(t Turn) string {
	parts := make([]string, len(t.Messages))
	for i, m := range t.Messages {
		parts[i] = renderMessage(m)
	}
	return strings.Join(parts, "\n\n")
}

// flatMsg pairs a message with the (1-indexed) turn it came from, once
// a merged group of turns has been flattened for splitting.
type flatMsg struct {
	msg  Message
	turn int
}

// splitGroup turns a merged run of turns into one Draft if it fits
// within maxTokens, or splits it at message boundaries otherwise.
func splitGroup(group []Turn, turnStart, _ int, maxTokens int) []Draft {
	var flat []flatMsg
	for i, t := range group {
		for _, m := range t.Messages {
			flat = append(flat, flatMsg{msg: m, turn: turnStart + i})
		}
	}
	if len(flat) == 0 {
		return nil
	}

	wholeMsgs := make([]Message, len(flat))
	for i, fm := range flat {
		wholeMsgs[i] = fm.msg
	}
	whole := joinMessages(flat[0].turn, flat[len(flat)-1].turn, wholeMsgs)
	if estimateTokens(whole.Content) <= maxTokens {
		return []Draft{whole}
	}

	var drafts []Draft
	var piece []flatMsg
	pieceTokens := 0
	flushPiece := func() {
		if len(piece) == 0 {
			return
		}
		msgs := make([]Message, len(piece))
		for i, fm := range piece {
			msgs[i] = fm.msg
		}
		drafts = append(drafts, joinMessages(piece[0].turn, piece[len(piece)-1].turn, msgs))
		piece = nil
		pieceTokens = 0
	}

	for _, fm := range flat {
		rendered := renderMessage(fm.msg)
		msgTokens := estimateTokens(rendered)

		if len(piece) > 0 && pieceTokens+msgTokens > maxTokens {
			flushPiece()
		}

		if msgTokens > maxTokens {
			// A single message alone exceeds the budget; split it at
			// paragraph boundaries, never inside a fenced code block.
			for _, part := range splitTextPreservingCodeBlocks(rendered, maxTokens) {
				drafts = append(drafts, Draft{
					Content: part, ContentType: fm.msg.ContentType,
					AgentID: fm.msg.AgentID, SpawnDepth: fm.msg.SpawnDepth,
					TurnStart: fm.turn, TurnEnd: fm.turn,
				})
			}
			continue
		}

		piece = append(piece, fm)
		pieceTokens += msgTokens
	}
	flushPiece()

	return drafts
}

func joinMessages(turnStart, turnEnd int, msgs []Message) Draft {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = renderMessage(m)
	}
	return Draft{
		Content:     strings.Join(parts, "\n\n"),
		ContentType: msgs[0].ContentType,
		AgentID:     msgs[0].AgentID,
		SpawnDepth:  msgs[0].SpawnDepth,
		TurnStart:   turnStart,
		TurnEnd:     turnEnd,
	}
}

// splitTextPreservingCodeBlocks splits text at blank-line paragraph
// boundaries, keeping fenced code blocks intact even if that means a
// resulting piece exceeds maxTokens slightly. Grounded on the markdown
// chunker's splitByParagraphs/mergeAtomicBlocks pair, generalized beyond
// markdown-specific atomic blocks (tables, MDX) since transcript content
// only ever carries fenced code.
func splitTextPreservingCodeBlocks(text string, maxTokens int) []string {
	rawParagraphs := strings.Split(text, "\n\n")
	paragraphs := mergeCodeFences(rawParagraphs)

	var out []string
	var b strings.Builder
	tokens := 0
	for _, p := range paragraphs {
		pTokens := estimateTokens(p)
		if b.Len() > 0 && tokens+pTokens > maxTokens {
			out = append(out, strings.TrimRight(b.String(), "\n"))
			b.Reset()
			tokens = 0
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(p)
		tokens += pTokens
	}
	if b.Len() > 0 {
		out = append(out, strings.TrimRight(b.String(), "\n"))
	}
	return out
}

// mergeCodeFences re-joins paragraphs that a naive blank-line split cut
// in the middle of a ``` fenced block.
func mergeCodeFences(paragraphs []string) []string {
	var result []string
	var open bool
	var buf strings.Builder

	for _, p := range paragraphs {
		if open {
			buf.WriteString("\n\n")
			buf.WriteString(p)
			if strings.Count(p, "```")%2 == 1 {
				result = append(result, buf.String())
				buf.Reset()
				open = false
			}
			continue
		}
		if strings.Count(p, "```")%2 == 1 {
			open = true
			buf.WriteString(p)
			continue
		}
		result = append(result, p)
	}
	if open {
		result = append(result, buf.String())
	}
	return result
}
