package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"strato-hq/aegis/pkg/providers"
)

// streamReader reads Server-Sent Events from the OpenAI streaming API.
type streamReader struct {
	provider *providers.HTTPProvider
	body     io.ReadCloser
	scanner  *bufio.Scanner
	closed   bool
}

// maxSSELineBytes bounds one SSE line; large tool-call frames fit well
// within it.
const maxSSELineBytes = 1 << 20

func newStreamReader(ctx context.Context, provider *providers.HTTPProvider, url string, req *openaiRequest, headers map[string]string) (*streamReader, error) {
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

// Read returns the next chunk. Returns nil, io.EOF at normal end of
// stream.
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
			// Comments, event names and keepalives carry no payload.
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return nil, io.EOF
		}

		var frame openaiStreamResponse
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			return nil, &providers.ParseError{
				Provider:    s.provider.Name(),
				RawResponse: data,
				Cause:       fmt.Errorf("failed to parse stream chunk: %w", err),
			}
		}

		chunk := transformStreamChunk(&frame)
		if chunk == nil {
			continue
		}
		return chunk, nil
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
