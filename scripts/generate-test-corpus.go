//go:build ignore

// Package main generates synthetic session transcripts for benchmarking
// ingestion and retrieval.
// Usage: go run scripts/generate-test-corpus.go -sessions 100 -output testdata/bench
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"
)

var (
	numSessions  = flag.Int("sessions", 100, "Number of session transcripts to generate")
	turnsPerSess = flag.Int("turns", 30, "Average user/assistant turn pairs per session")
	outputDir    = flag.String("output", "testdata/bench", "Output directory")
	seed         = flag.Int64("seed", 42, "Random seed for reproducibility")
)

// jsonlRecord mirrors internal/ingest's transcript wire format:
// {agent_id, spawn_depth, type, tool_name, content, timestamp}.
type jsonlRecord struct {
	AgentID    string    `json:"agent_id"`
	SpawnDepth int       `json:"spawn_depth"`
	Type       string    `json:"type"`
	ToolName   string    `json:"tool_name,omitempty"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

var topics = []string{
	"reading a file", "writing unit tests", "debugging a panic",
	"refactoring an interface", "adding a cache layer", "tracing a race condition",
	"wiring a new dependency", "parsing JSON", "handling a timeout",
	"reviewing a diff", "profiling memory use", "migrating a schema",
}

var tools = []string{"read_file", "write_file", "run_tests", "grep", "bash"}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create output dir: %v\n", err)
		os.Exit(1)
	}

	for i := 0; i < *numSessions; i++ {
		if err := generateSession(rng, i); err != nil {
			fmt.Fprintf(os.Stderr, "generate session %d: %v\n", i, err)
		}
	}

	fmt.Printf("Generated %d session transcripts in %s\n", *numSessions, *outputDir)
}

func generateSession(rng *rand.Rand, index int) error {
	path := filepath.Join(*outputDir, fmt.Sprintf("session-%04d.jsonl", index))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	defer w.Flush()

	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(index) * 24 * time.Hour)
	turns := *turnsPerSess/2 + rng.Intn(*turnsPerSess)

	for turn := 0; turn < turns; turn++ {
		topic := topics[rng.Intn(len(topics))]

		if err := writeRecord(w, jsonlRecord{
			AgentID:   "main",
			Type:      "user",
			Content:   fmt.Sprintf("How do I go about %s?", topic),
			Timestamp: t,
		}); err != nil {
			return err
		}
		t = t.Add(5 * time.Second)

		if rng.Intn(3) == 0 {
			tool := tools[rng.Intn(len(tools))]
			if err := writeRecord(w, jsonlRecord{
				AgentID:   "main",
				Type:      "tool_call",
				ToolName:  tool,
				Content:   fmt.Sprintf("invoking %s for %s", tool, topic),
				Timestamp: t,
			}); err != nil {
				return err
			}
			t = t.Add(2 * time.Second)

			if err := writeRecord(w, jsonlRecord{
				AgentID:   "main",
				Type:      "tool_result",
				ToolName:  tool,
				Content:   fmt.Sprintf("%s output for %s", tool, topic),
				Timestamp: t,
			}); err != nil {
				return err
			}
			t = t.Add(2 * time.Second)
		}

		if err := writeRecord(w, jsonlRecord{
			AgentID:   "main",
			Type:      "assistant",
			Content:   fmt.Sprintf("Here's how to handle %s: start by isolating the relevant code path, then verify the fix with a targeted test.", topic),
			Timestamp: t,
		}); err != nil {
			return err
		}
		t = t.Add(10 * time.Second)
	}

	return nil
}

func writeRecord(w *bufio.Writer, r jsonlRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	return w.WriteByte('\n')
}
