// Package ingest turns a session transcript into stored chunks, vectors,
// keyword entries, and causal edges (component M).
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ecmem/engine/internal/store"
	"github.com/ecmem/engine/internal/xerrors"
)

// Message is one turn-level event in a session transcript.
type Message struct {
	AgentID     string
	SpawnDepth  int
	ContentType store.ContentType
	ToolName    string // set for tool_call/tool_result messages
	Text        string
	Timestamp   time.Time
}

// Turn is one or more messages the chunker treats as a unit before
// merge/split decisions are applied.
type Turn struct {
	Messages []Message
}

// SessionInfo is the transcript-level metadata the parser exposes ahead
// of chunking.
type SessionInfo struct {
	SessionID    string
	Slug         string
	Cwd          string
	MessageCount int
	StartTime    time.Time
	EndTime      time.Time
}

// Provider is the external transcript-provider interface: reading
// messages, session metadata, and assembling turns is delegated to the
// host; chunking is performed by this package.
type Provider interface {
	GetSessionInfo(ctx context.Context, path string) (SessionInfo, error)
	ReadMessages(ctx context.Context, path string) ([]Message, error)
	AssembleTurns(ctx context.Context, messages []Message) ([]Turn, error)
}

// jsonlRecord is one line of the append-only transcript format this
// engine ingests: {role, agent_id, spawn_depth, type, tool_name,
// content, timestamp}.
type jsonlRecord struct {
	AgentID    string    `json:"agent_id"`
	SpawnDepth int       `json:"spawn_depth"`
	Type       string    `json:"type"`
	ToolName   string    `json:"tool_name"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// JSONLProvider reads the default append-only JSON-line transcript
// format, one message per line; AssembleTurns groups those messages
// into turns. A host can supply its own Provider for a different
// grouping.
type JSONLProvider struct{}

func NewJSONLProvider() *JSONLProvider { return &JSONLProvider{} }

func (p *JSONLProvider) GetSessionInfo(ctx context.Context, path string) (SessionInfo, error) {
	messages, err := p.ReadMessages(ctx, path)
	if err != nil {
		return SessionInfo{}, err
	}
	info := SessionInfo{SessionID: sessionIDFromPath(path), Slug: sessionIDFromPath(path), MessageCount: len(messages)}
	if len(messages) > 0 {
		info.StartTime = messages[0].Timestamp
		info.EndTime = messages[len(messages)-1].Timestamp
	}
	return info, nil
}

func (p *JSONLProvider) ReadMessages(ctx context.Context, path string) ([]Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeSessionReadFailed, "failed to open transcript", err)
	}
	defer f.Close()

	var messages []Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec jsonlRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, xerrors.New(xerrors.CodeParseFailed, fmt.Sprintf("malformed transcript line %d", lineNum), err)
		}
		messages = append(messages, Message{
			AgentID:     rec.AgentID,
			SpawnDepth:  rec.SpawnDepth,
			ContentType: store.ContentType(rec.Type),
			ToolName:    rec.ToolName,
			Text:        rec.Content,
			Timestamp:   rec.Timestamp,
		})
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return nil, xerrors.New(xerrors.CodeSessionReadFailed, "failed to read transcript", err)
	}
	return messages, nil
}

// AssembleTurns groups consecutive messages from the same agent and
// spawn depth into one turn; a change in either starts a new turn, and
// so does every user message. Tool calls and their results stay in the
// turn they occur in.
func (p *JSONLProvider) AssembleTurns(_ context.Context, messages []Message) ([]Turn, error) {
	var turns []Turn
	var current *Turn
	for _, m := range messages {
		startNew := current == nil ||
			len(current.Messages) == 0 ||
			current.Messages[0].AgentID != m.AgentID ||
			current.Messages[0].SpawnDepth != m.SpawnDepth ||
			m.ContentType == store.ContentTypeUser
		if startNew {
			if current != nil {
				turns = append(turns, *current)
			}
			current = &Turn{}
		}
		current.Messages = append(current.Messages, m)
	}
	if current != nil && len(current.Messages) > 0 {
		turns = append(turns, *current)
	}
	return turns, nil
}

func sessionIDFromPath(path string) string {
	base := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			base = path[i+1:]
			break
		}
	}
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '.' {
			return base[:i]
		}
	}
	return base
}
