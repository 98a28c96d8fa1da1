package coder

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// UsageStats mirrors the token usage object Claude Code CLI (and
// compatible agent CLIs) report in stream-json output.
type UsageStats struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_input_tokens"`
	CacheReadTokens     int `json:"cache_read_input_tokens"`
}

// ResultPayload is the structured body of a "result" stream event.
type ResultPayload struct {
	Response string      `json:"response"`
	Stats    *UsageStats `json:"stats,omitempty"`
}

// ContentBlock is one block of an assistant message (text or tool_use).
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Name string `json:"name,omitempty"`
}

// MessageContent is the message payload of an "assistant" stream event.
type MessageContent struct {
	Content []ContentBlock `json:"content,omitempty"`
	Usage   *UsageStats    `json:"usage,omitempty"`
}

// StreamEvent is one line of the agent's --output-format stream-json
// transcript.
type StreamEvent struct {
	Type    string          `json:"type"`
	Message *MessageContent `json:"message,omitempty"`
	Result  *ResultPayload  `json:"result,omitempty"`
}

// Transcript is the parsed outcome of a stream-json run: a summary text
// and the accumulated token usage across every message.
type Transcript struct {
	Summary string
	Usage   UsageStats
}

// ParseTranscript reads stream-json lines from r. If a "result" event is
// present, its response and stats become the summary and final usage
// delta; otherwise the last "assistant" message's text becomes the
// summary. Malformed lines are skipped so a truncated transcript (e.g.
// after a timeout) still yields a best-effort summary.
func ParseTranscript(r io.Reader) Transcript {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var (
		lastAssistantText string
		resultSummary     string
		haveResult        bool
		usage             UsageStats
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event StreamEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}

		switch event.Type {
		case "assistant":
			if event.Message == nil {
				continue
			}
			if event.Message.Usage != nil {
				addUsage(&usage, *event.Message.Usage)
			}
			for _, block := range event.Message.Content {
				if block.Type == "text" && block.Text != "" {
					lastAssistantText = block.Text
				}
			}
		case "result":
			if event.Result == nil {
				continue
			}
			haveResult = true
			resultSummary = event.Result.Response
			if event.Result.Stats != nil {
				addUsage(&usage, *event.Result.Stats)
			}
		}
	}

	summary := lastAssistantText
	if haveResult {
		summary = resultSummary
	}
	if summary == "" {
		summary = "No response from agent"
	}

	return Transcript{Summary: summary, Usage: usage}
}

func addUsage(total *UsageStats, delta UsageStats) {
	total.InputTokens += delta.InputTokens
	total.OutputTokens += delta.OutputTokens
	total.CacheCreationTokens += delta.CacheCreationTokens
	total.CacheReadTokens += delta.CacheReadTokens
}
