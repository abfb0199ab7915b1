package eventstream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"
)

// MaxLineSize is the longest line the decoder accepts.
const MaxLineSize = 1024 * 1024

// Event is one dispatched server-sent event.
type Event struct {
	// ID is the last event ID seen on the connection when the event was
	// dispatched. Empty if the server never sent one.
	ID   string
	Type string
	Data []byte
}

// Decode unmarshals the event data as JSON.
func (e *Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Decoder reads server-sent events from a stream.
type Decoder struct {
	scanner *bufio.Scanner

	lastID string
	retry  time.Duration

	data      bytes.Buffer
	eventType string
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	return &Decoder{scanner: scanner}
}

// Retry returns the reconnection delay last requested by the server, or zero.
func (d *Decoder) Retry() time.Duration {
	return d.retry
}

// LastEventID returns the last event ID seen, including IDs sent on
// records that carried no data.
func (d *Decoder) LastEventID() string {
	return d.lastID
}

// Next returns the next event. It returns io.EOF when the stream ends; a
// partially received event at the end of the stream is discarded.
func (d *Decoder) Next() (*Event, error) {
	for d.scanner.Scan() {
		line := d.scanner.Text()

		if line == "" {
			if ev := d.dispatch(); ev != nil {
				return ev, nil
			}
			continue
		}
		if line[0] == ':' {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			d.eventType = value
		case "data":
			d.data.WriteString(value)
			d.data.WriteByte('\n')
		case "id":
			if !strings.ContainsRune(value, 0) {
				d.lastID = value
			}
		case "retry":
			if ms, err := strconv.ParseUint(value, 10, 32); err == nil {
				d.retry = time.Duration(ms) * time.Millisecond
			}
		}
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (d *Decoder) dispatch() *Event {
	defer func() {
		d.data.Reset()
		d.eventType = ""
	}()

	if d.data.Len() == 0 {
		return nil
	}
	data := bytes.TrimSuffix(d.data.Bytes(), []byte("\n"))
	ev := &Event{
		ID:   d.lastID,
		Type: d.eventType,
		Data: append([]byte(nil), data...),
	}
	if ev.Type == "" {
		ev.Type = "message"
	}
	return ev
}
