package stream

import (
	"context"
	"strings"
	"testing"
)

func TestScanSSEDeliversDataLines(t *testing.T) {
	raw := ": keepalive\n" +
		"event: message\n" +
		"data: {\"type\":\"text\",\"content\":\"a\"}\n" +
		"\n" +
		"data: {\"type\":\"text\",\"content\":\"b\"}\n" +
		"\n"

	var got []string
	terminal, err := scanSSE(context.Background(), strings.NewReader(raw), func(data []byte) bool {
		got = append(got, string(data))
		return true
	})
	if err != nil {
		t.Fatalf("scanSSE: %v", err)
	}
	if terminal {
		t.Error("scan ended without deliver stopping it, terminal should be false")
	}
	if len(got) != 2 || !strings.Contains(got[0], `"a"`) || !strings.Contains(got[1], `"b"`) {
		t.Fatalf("payloads = %v", got)
	}
}

func TestScanSSEStopsOnDeliverFalse(t *testing.T) {
	raw := "data: one\n\ndata: two\n\ndata: three\n\n"

	var got []string
	terminal, err := scanSSE(context.Background(), strings.NewReader(raw), func(data []byte) bool {
		got = append(got, string(data))
		return len(got) < 2
	})
	if err != nil {
		t.Fatalf("scanSSE: %v", err)
	}
	if !terminal {
		t.Error("expected terminal=true when deliver stops the scan")
	}
	if len(got) != 2 {
		t.Fatalf("delivered %d payloads, want 2", len(got))
	}
}

func TestScanSSETrimsSingleLeadingSpace(t *testing.T) {
	var got []string
	_, err := scanSSE(context.Background(), strings.NewReader("data:no-space\n\ndata:  two-spaces\n\n"), func(data []byte) bool {
		got = append(got, string(data))
		return true
	})
	if err != nil {
		t.Fatalf("scanSSE: %v", err)
	}
	if got[0] != "no-space" {
		t.Errorf("payload = %q, want no-space", got[0])
	}
	if got[1] != " two-spaces" {
		t.Errorf("payload = %q, only one leading space is framing", got[1])
	}
}

func TestScanSSEPropagatesReaderError(t *testing.T) {
	r := &failingReader{data: "data: ok\n\n"}
	var got []string
	terminal, err := scanSSE(context.Background(), r, func(data []byte) bool {
		got = append(got, string(data))
		return true
	})
	if terminal {
		t.Error("reader failure is not a terminal stop")
	}
	if err == nil {
		t.Fatal("expected scanner error")
	}
	if len(got) != 1 {
		t.Errorf("delivered %d payloads before failure, want 1", len(got))
	}
}

// failingReader yields its data, then an error.
type failingReader struct {
	data string
	done bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.done {
		r.done = true
		return copy(p, r.data), nil
	}
	return 0, errTransport
}

var errTransport = &transportError{}

type transportError struct{}

func (*transportError) Error() string { return "connection reset" }
