// Package channel carries case notifications over a websocket using a small
// STOMP subset: CONNECT/CONNECTED, SUBSCRIBE/UNSUBSCRIBE, MESSAGE, ERROR and
// DISCONNECT. Each websocket text message holds exactly one frame.
package channel

import (
	"bytes"
	"errors"
	"fmt"
	"log"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
)

var ErrMalformedFrame = errors.New("channel: malformed frame")

// newFrame builds a frame from alternating header keys and values.
func newFrame(command string, body []byte, kv ...string) *frame.Frame {
	f := frame.New(command, kv...)
	f.Body = body
	return f
}

// EncodeFrame renders f as the payload of one websocket message. Header
// values are escaped as STOMP 1.2 requires.
func EncodeFrame(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, fmt.Errorf("channel: encode %s: %w", f.Command, err)
	}
	return buf.Bytes(), nil
}

// DecodeFrame parses the frame carried by one websocket message. Leading
// heart-beat EOLs are skipped and the trailing NUL may be missing.
func DecodeFrame(data []byte) (*frame.Frame, error) {
	data = bytes.TrimLeft(data, "\r\n")
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedFrame)
	}
	if bytes.IndexByte(data, 0) < 0 {
		data = append(data[:len(data):len(data)], 0)
	}
	f, err := frame.NewReader(bytes.NewReader(data)).Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f == nil {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedFrame)
	}
	return f, nil
}

// writeFrame sends f as a single text message.
func writeFrame(conn *websocket.Conn, f *frame.Frame) error {
	data, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readFrame returns the next decodable frame. Heart-beats are skipped;
// binary messages and frames that fail to decode are logged and dropped.
// Only transport errors end the read.
func readFrame(conn *websocket.Conn, logger *log.Logger) (*frame.Frame, error) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("channel: read: %w", err)
		}
		if kind != websocket.TextMessage {
			logger.Printf("channel: dropping non-text message (type %d)", kind)
			continue
		}
		if len(bytes.TrimLeft(data, "\r\n")) == 0 {
			continue
		}
		f, err := DecodeFrame(data)
		if err != nil {
			logger.Printf("channel: dropping frame: %v", err)
			continue
		}
		return f, nil
	}
}
