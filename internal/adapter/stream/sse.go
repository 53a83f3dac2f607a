package stream

import (
	"bufio"
	"bytes"
	"context"
	"io"
)

// maxLineSize bounds a single SSE line; chart payloads can run long but a
// megabyte is far beyond anything the backend emits.
const maxLineSize = 1 << 20

// scanSSE reads SSE-formatted lines from r and invokes deliver for each
// "data:" payload. deliver returns false to stop the scan (terminal chunk
// reached or context gone). scanSSE returns terminal=true when deliver
// stopped the scan, and the scanner error otherwise (nil on clean EOF).
func scanSSE(ctx context.Context, r io.Reader, deliver func(data []byte) bool) (terminal bool, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}

		line := scanner.Bytes()

		// Skip blanks, comments, and named-event lines; the payload always
		// arrives on the data line.
		if len(line) == 0 || line[0] == ':' {
			continue
		}
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}

		data := bytes.TrimPrefix(line, []byte("data:"))
		data = bytes.TrimPrefix(data, []byte(" "))
		if len(data) == 0 {
			continue
		}

		if !deliver(data) {
			return true, nil
		}
	}

	return false, scanner.Err()
}
