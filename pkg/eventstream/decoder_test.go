package eventstream

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func decodeAll(t *testing.T, input string) []*Event {
	t.Helper()
	d := NewDecoder(strings.NewReader(input))
	var out []*Event
	for {
		ev, err := d.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		out = append(out, ev)
	}
}

func TestDecoder(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []Event
	}{
		{
			name:     "single data event",
			input:    "data: hello\n\n",
			expected: []Event{{Type: "message", Data: []byte("hello")}},
		},
		{
			name:     "multi-line data joined with newline",
			input:    "data: line1\ndata: line2\n\n",
			expected: []Event{{Type: "message", Data: []byte("line1\nline2")}},
		},
		{
			name:     "event type and id",
			input:    "event: message\nid: [{\"offset\":1}]\ndata: {}\n\n",
			expected: []Event{{ID: `[{"offset":1}]`, Type: "message", Data: []byte("{}")}},
		},
		{
			name:  "id persists across events",
			input: "id: 7\ndata: a\n\ndata: b\n\n",
			expected: []Event{
				{ID: "7", Type: "message", Data: []byte("a")},
				{ID: "7", Type: "message", Data: []byte("b")},
			},
		},
		{
			name:     "id containing NUL is ignored",
			input:    "id: 1\ndata: a\n\nid: bad\x00id\ndata: b\n\n",
			expected: []Event{{ID: "1", Type: "message", Data: []byte("a")}, {ID: "1", Type: "message", Data: []byte("b")}},
		},
		{
			name:     "comments are skipped",
			input:    ": heartbeat\n:\ndata: x\n\n",
			expected: []Event{{Type: "message", Data: []byte("x")}},
		},
		{
			name:     "record without data is not dispatched",
			input:    "event: ping\n\ndata: x\n\n",
			expected: []Event{{Type: "message", Data: []byte("x")}},
		},
		{
			name:     "value without leading space",
			input:    "data:tight\n\n",
			expected: []Event{{Type: "message", Data: []byte("tight")}},
		},
		{
			name:     "CRLF line endings",
			input:    "data: a\r\n\r\n",
			expected: []Event{{Type: "message", Data: []byte("a")}},
		},
		{
			name:     "trailing partial event is discarded",
			input:    "data: a\n\ndata: partial",
			expected: []Event{{Type: "message", Data: []byte("a")}},
		},
		{
			name:     "unknown fields are ignored",
			input:    "foo: bar\ndata: a\n\n",
			expected: []Event{{Type: "message", Data: []byte("a")}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeAll(t, tt.input)
			if len(got) != len(tt.expected) {
				t.Fatalf("Expected %d events, got %d", len(tt.expected), len(got))
			}
			for i, want := range tt.expected {
				if got[i].ID != want.ID || got[i].Type != want.Type || string(got[i].Data) != string(want.Data) {
					t.Errorf("Event %d = {%q %q %q}, want {%q %q %q}", i,
						got[i].ID, got[i].Type, got[i].Data, want.ID, want.Type, want.Data)
				}
			}
		})
	}
}

func TestDecoder_Retry(t *testing.T) {
	d := NewDecoder(strings.NewReader("retry: 2500\nretry: nope\ndata: x\n\n"))
	if _, err := d.Next(); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if d.Retry() != 2500*time.Millisecond {
		t.Errorf("Retry() = %v, want 2.5s", d.Retry())
	}
}

func TestDecoder_LineTooLong(t *testing.T) {
	input := "data: " + strings.Repeat("x", MaxLineSize+1) + "\n\n"
	d := NewDecoder(strings.NewReader(input))
	if _, err := d.Next(); err == nil || errors.Is(err, io.EOF) {
		t.Errorf("Expected a scanner error for an oversized line, got %v", err)
	}
}

func TestEvent_DecodeRecentChange(t *testing.T) {
	data := `{"meta":{"dt":"2024-05-01T12:00:00Z","stream":"mediawiki.recentchange","domain":"en.wikipedia.org"},` +
		`"id":123,"type":"edit","title":"Go","namespace":0,"user":"Alice","bot":false,"minor":true,` +
		`"revision":{"old":10,"new":11},"wiki":"enwiki"}`
	ev := &Event{Data: []byte(data)}

	var rc RecentChangeEvent
	if err := ev.Decode(&rc); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if rc.Meta.Stream != "mediawiki.recentchange" || rc.Meta.DT.Year() != 2024 {
		t.Errorf("Unexpected meta: %+v", rc.Meta)
	}
	if rc.Title != "Go" || !rc.Minor || rc.Revision == nil || *rc.Revision.New != 11 {
		t.Errorf("Unexpected event: %+v", rc)
	}
}
