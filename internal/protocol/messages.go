// Package protocol defines the messages exchanged between a client, the
// session supervisor, and a session worker.
//
// Clients speak JSON objects whose fields are optional and checked by
// presence. The supervisor and worker exchange Envelopes, one per line when
// the worker runs as a subprocess.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Wire field names.
const (
	FieldUserID          = "userId"
	FieldCommand         = "command"
	FieldChangeFrameRate = "changeFrameRate"
	FieldAction          = "action"
	FieldKeyboardEvent   = "KeyboardEvent"
	FieldError           = "error"
	FieldFrameID         = "frameId"
)

// Commands a client may send. Matching is done on the normalised form.
const (
	CommandStart     = "start"
	CommandStop      = "stop"
	CommandReset     = "reset"
	CommandPause     = "pause"
	CommandRequestUI = "requestui"
)

// ParseErrorMessage is the error text returned for unparseable input.
const ParseErrorMessage = "unable to parse message"

// DoneText is sent verbatim to the client when the trial completes.
const DoneText = "done"

// ErrNotObject is returned when a client payload is valid JSON but not an object.
var ErrNotObject = errors.New("message is not a JSON object")

// KeyboardEvent carries key transitions for advanced action spaces.
type KeyboardEvent struct {
	KeyDown []string `json:"KEYDOWN,omitempty"`
	KeyUp   []string `json:"KEYUP,omitempty"`
}

// ClientMessage is one decoded inbound client message.
type ClientMessage struct {
	// HasUserID is true when the userId field is present, even if null.
	HasUserID bool
	UserID    string

	Command         string
	ChangeFrameRate string
	Action          string
	KeyboardEvent   *KeyboardEvent

	// Fields holds the whole decoded object. It is merged into the next
	// step record so client-supplied extras are preserved.
	Fields map[string]any
}

// ParseClientMessage decodes a client payload.
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, ErrNotObject
		}
		return nil, fmt.Errorf("decode client message: %w", err)
	}
	if fields == nil {
		return nil, ErrNotObject
	}

	msg := &ClientMessage{Fields: fields}

	if v, ok := fields[FieldUserID]; ok {
		msg.HasUserID = true
		msg.UserID = stringField(v)
	}
	msg.Command = stringField(fields[FieldCommand])
	msg.ChangeFrameRate = stringField(fields[FieldChangeFrameRate])
	msg.Action = stringField(fields[FieldAction])

	if v, ok := fields[FieldKeyboardEvent]; ok {
		ev, err := keyboardEvent(v)
		if err != nil {
			return nil, err
		}
		msg.KeyboardEvent = ev
	}

	return msg, nil
}

// NormalizeCommand trims and lowercases a command or token.
func NormalizeCommand(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// stringField converts a decoded JSON scalar to a string. Numbers are
// rendered in their shortest form so {"changeFrameRate": 40} works.
func stringField(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func keyboardEvent(v any) (*KeyboardEvent, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: expected object, got %T", FieldKeyboardEvent, v)
	}
	ev := &KeyboardEvent{}
	var err error
	if ev.KeyDown, err = keyList(obj["KEYDOWN"]); err != nil {
		return nil, fmt.Errorf("%s.KEYDOWN: %w", FieldKeyboardEvent, err)
	}
	if ev.KeyUp, err = keyList(obj["KEYUP"]); err != nil {
		return nil, fmt.Errorf("%s.KEYUP: %w", FieldKeyboardEvent, err)
	}
	return ev, nil
}

func keyList(v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{t}, nil
	case []any:
		keys := make([]string, 0, len(t))
		for _, k := range t {
			s, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("key %v is not a string", k)
			}
			keys = append(keys, s)
		}
		return keys, nil
	default:
		return nil, fmt.Errorf("expected list of keys, got %T", v)
	}
}

// FrameMessage is pushed to the client once per rendered frame.
type FrameMessage struct {
	Frame   string `json:"frame"`
	FrameID int    `json:"frameId"`
}

// UIMessage describes the controls the client should show.
type UIMessage struct {
	UI []string `json:"UI"`
}

// ErrorMessage answers an unparseable client message.
type ErrorMessage struct {
	Error   string `json:"error"`
	FrameID int    `json:"frameId"`
}

// Fields returns the error as step-record fields.
func (e ErrorMessage) Fields() map[string]any {
	return map[string]any{FieldError: e.Error, FieldFrameID: e.FrameID}
}

// UploadRequest asks the supervisor to hand a finished recording to
// object storage. It is never forwarded to the client.
type UploadRequest struct {
	ProjectID   string `json:"projectId"`
	UserID      string `json:"userId"`
	File        string `json:"file"`
	FilePath    string `json:"filePath"`
	StoragePath string `json:"storagePath"`
	Bucket      string `json:"bucket"`
	Compress    bool   `json:"compress"`
}

// StorageKey returns the object key for a request: <projectId>/Trials/<userId>/<file>.
func StorageKey(projectID, userID, file string) string {
	return fmt.Sprintf("%s/Trials/%s/%s", projectID, userID, file)
}
