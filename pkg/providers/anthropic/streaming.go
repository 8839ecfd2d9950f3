package anthropic

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"strato-hq/aegis/pkg/providers"
)

// streamReader reads the event-typed SSE stream of the Messages API.
type streamReader struct {
	provider *providers.HTTPProvider
	body     io.ReadCloser
	scanner  *bufio.Scanner
	closed   bool

	// inputTokens arrives on message_start; output tokens on
	// message_delta. Both are combined into the final usage chunk.
	inputTokens int
}

const maxSSELineBytes = 1 << 20

func newStreamReader(ctx context.Context, provider *providers.HTTPProvider, url string, req *anthropicRequest, headers map[string]string) (*streamReader, error) {
	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := provider.DoRequest(ctx, "POST", url, bodyBytes, headers)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxSSELineBytes)

	return &streamReader{
		provider: provider,
		body:     resp.Body,
		scanner:  scanner,
	}, nil
}

// Read returns the next chunk. Returns nil, io.EOF at message_stop.
func (s *streamReader) Read(ctx context.Context) (*providers.StreamChunk, error) {
	if s.closed {
		return nil, io.EOF
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, &providers.StreamError{
					Provider: s.provider.Name(),
					Message:  "failed to read stream",
					Cause:    err,
				}
			}
			return nil, io.EOF
		}

		line := s.scanner.Text()
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event anthropicStreamEvent
		data := strings.TrimPrefix(line, "data: ")
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return nil, &providers.ParseError{
				Provider:    s.provider.Name(),
				RawResponse: data,
				Cause:       fmt.Errorf("failed to parse stream event: %w", err),
			}
		}

		switch event.Type {
		case "message_start":
			s.inputTokens = event.Message.Usage.InputTokens
			continue

		case "content_block_delta":
			if event.Delta.Text == "" {
				continue
			}
			return &providers.StreamChunk{Delta: event.Delta.Text}, nil

		case "message_delta":
			chunk := &providers.StreamChunk{
				FinishReason: normalizeStopReason(event.Delta.StopReason),
			}
			if event.Usage != nil {
				chunk.Usage = &providers.TokenUsage{
					PromptTokens:     s.inputTokens,
					CompletionTokens: event.Usage.OutputTokens,
					TotalTokens:      s.inputTokens + event.Usage.OutputTokens,
				}
			}
			return chunk, nil

		case "message_stop":
			return nil, io.EOF

		case "error":
			msg := "upstream stream error"
			if event.Error != nil {
				msg = event.Error.Message
			}
			return nil, &providers.StreamError{
				Provider: s.provider.Name(),
				Message:  msg,
			}

		default:
			// ping, content_block_start, content_block_stop.
			continue
		}
	}
}

// Close tears down the stream and the upstream connection.
func (s *streamReader) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}
