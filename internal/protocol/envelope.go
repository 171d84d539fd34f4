package protocol

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates Envelope payloads.
type Kind string

const (
	// Supervisor -> Worker
	KindClient Kind = "client" // raw client text, parsed by the worker

	// Worker -> Supervisor
	KindFrame  Kind = "frame"  // rendered frame, forwarded
	KindUI     Kind = "ui"     // UI descriptor, forwarded
	KindError  Kind = "error"  // parse error payload, forwarded
	KindDone   Kind = "done"   // trial complete, forwarded then relay stops
	KindUpload Kind = "upload" // intercepted, handed to the upload dispatcher
)

// Envelope is the unit carried by a duplex channel.
// Text holds the client-facing wire text for every kind except KindUpload.
type Envelope struct {
	Kind   Kind           `json:"kind"`
	Text   string         `json:"text,omitempty"`
	Upload *UploadRequest `json:"upload,omitempty"`
}

// Forwarded reports whether the supervisor relays this envelope to the client.
func (e Envelope) Forwarded() bool {
	return e.Kind != KindUpload && e.Kind != KindClient
}

// Clone returns a deep copy so no memory is shared across the channel.
func (e Envelope) Clone() Envelope {
	if e.Upload != nil {
		u := *e.Upload
		e.Upload = &u
	}
	return e
}

// Client wraps raw client text for the worker.
func Client(data []byte) Envelope {
	return Envelope{Kind: KindClient, Text: string(data)}
}

// Frame encodes a frame push.
func Frame(frame string, frameID int) (Envelope, error) {
	return encode(KindFrame, FrameMessage{Frame: frame, FrameID: frameID})
}

// UI encodes a UI descriptor.
func UI(labels []string) (Envelope, error) {
	if labels == nil {
		labels = []string{}
	}
	return encode(KindUI, UIMessage{UI: labels})
}

// ParseError encodes the answer to an unparseable message.
func ParseError(frameID int) (Envelope, error) {
	return encode(KindError, ErrorMessage{Error: ParseErrorMessage, FrameID: frameID})
}

// Done is the completion signal.
func Done() Envelope {
	return Envelope{Kind: KindDone, Text: DoneText}
}

// Upload wraps an upload request.
func Upload(req UploadRequest) Envelope {
	return Envelope{Kind: KindUpload, Upload: &req}
}

func encode(kind Kind, v any) (Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", kind, err)
	}
	return Envelope{Kind: kind, Text: string(data)}, nil
}
