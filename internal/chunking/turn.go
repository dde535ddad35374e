// Package chunking groups a session transcript's turns into chunks and
// detects the continuation/topic-shift transitions between them.
package chunking

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"ecm/pkg/types"
)

// Turn is one newline-delimited JSON record of a transcript file.
type Turn struct {
	Role      types.Role `json:"role"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	TurnIndex int        `json:"turn_index"`
	ToolName  string     `json:"tool_name,omitempty"`
}

// HasCode reports whether the turn's content looks like it carries code
// (fenced block or a tool result naming a file), used by the
// code-focused render mode to decide whether a turn survives.
func (t Turn) HasCode() bool {
	if t.ToolName != "" && len(filePathPattern.FindAllString(t.Content, -1)) > 0 {
		return true
	}
	return codeFencePattern.MatchString(t.Content)
}

// ReadTranscript parses newline-delimited JSON turn records from r.
// Malformed lines are skipped and counted rather than failing the read,
// per the ingestion pipeline's per-file isolation policy.
func ReadTranscript(r io.Reader) (turns []Turn, skipped int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var t Turn
		if jsonErr := json.Unmarshal(line, &t); jsonErr != nil {
			skipped++
			continue
		}
		turns = append(turns, t)
	}
	if scanErr := scanner.Err(); scanErr != nil {
		return turns, skipped, fmt.Errorf("chunking: scanning transcript: %w", scanErr)
	}
	return turns, skipped, nil
}
