// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// MaxFrameSize is the maximum allowed size for a single SSE frame (64KB).
// Frames carry cumulative assistant content, so well-formed frames stay far
// below this; the limit bounds memory against a misbehaving server.
const MaxFrameSize = 64 * 1024

// Reader parses Server-Sent Events from a stream.
type Reader struct {
	reader *bufio.Reader
	total  int
}

// NewReader creates an SSE reader from an io.Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		reader: bufio.NewReader(r),
	}
}

// ReadEvent reads the next SSE event from the stream and returns the event
// type and joined data payload. The event type is empty for ragchat frames.
// Returns io.EOF when the stream ends.
func (s *Reader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte
	s.total = 0

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				// Flush a final unterminated event before EOF.
				if len(dataLines) > 0 {
					return eventType, bytes.Join(dataLines, []byte("\n")), nil
				}
				return "", nil, io.EOF
			}
			return "", nil, err
		}

		s.total += len(line)
		if s.total > MaxFrameSize {
			return "", nil, fmt.Errorf("frame too large: %d bytes", s.total)
		}

		line = bytes.TrimRight(line, "\r\n")

		// Empty line signals end of event.
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		if bytes.HasPrefix(line, []byte("event:")) {
			eventType = string(bytes.TrimSpace(line[6:]))
		} else if bytes.HasPrefix(line, []byte("data:")) {
			dataLines = append(dataLines, bytes.TrimSpace(line[5:]))
		}
		// Ignore other fields (id:, retry:, comments starting with :).
	}
}
