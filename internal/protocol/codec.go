package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DecodeCommand builds a Command from an action name and a JSON array of
// arguments. An empty body means no arguments.
func DecodeCommand(action string, rawArgs []byte) (Command, error) {
	cmd := Command{Name: action}
	rawArgs = bytes.TrimSpace(rawArgs)
	if len(rawArgs) == 0 || bytes.Equal(rawArgs, []byte("null")) {
		return cmd, nil
	}
	if err := json.Unmarshal(rawArgs, &cmd.Args); err != nil {
		return cmd, Malformed("arguments must be a JSON array: %v", err)
	}
	return cmd, nil
}

// NewCommand builds a Command from Go values, marshaling each argument.
func NewCommand(action string, args ...any) (Command, error) {
	cmd := Command{Name: action, Args: make([]json.RawMessage, 0, len(args))}
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return cmd, fmt.Errorf("marshal argument %d: %w", i, err)
		}
		cmd.Args = append(cmd.Args, b)
	}
	return cmd, nil
}

// String returns argument i as a string.
func (c Command) String(i int) (string, error) {
	if i >= len(c.Args) {
		return "", Malformed("%s: missing argument %d", c.Name, i)
	}
	var s string
	if err := json.Unmarshal(c.Args[i], &s); err != nil {
		return "", Malformed("%s: argument %d is not a string", c.Name, i)
	}
	return s, nil
}

// NonEmptyString is String that also rejects "".
func (c Command) NonEmptyString(i int) (string, error) {
	s, err := c.String(i)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", Malformed("%s: argument %d is empty", c.Name, i)
	}
	return s, nil
}

// StringMap returns argument i as a flat object of string values. Any
// non-string value rejects the whole map; no partial result is returned.
func (c Command) StringMap(i int) (map[string]string, error) {
	if i >= len(c.Args) {
		return nil, Malformed("%s: missing argument %d", c.Name, i)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(c.Args[i], &raw); err != nil || raw == nil {
		return nil, Malformed("%s: argument %d is not an object", c.Name, i)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, Malformed("%s: dimension %q is not a string", c.Name, k)
		}
		out[k] = s
	}
	return out, nil
}

// Snippet renders the invocation as the script call `callback(<payload>)`.
func (inv Invocation) Snippet() (string, error) {
	payload := inv.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return inv.Callback + "(" + string(b) + ")", nil
}

// DecodeInbound reads one inbound frame strictly.
func DecodeInbound(r io.Reader) (*Inbound, error) {
	var in Inbound

	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&in); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	if in.Action == "" && in.Lifecycle == "" {
		return nil, errors.New("frame has neither action nor lifecycle")
	}
	if in.Action != "" && in.Lifecycle != "" {
		return nil, errors.New("frame has both action and lifecycle")
	}
	return &in, nil
}

// EncodeOutbound writes one outbound frame.
func EncodeOutbound(w io.Writer, out *Outbound) error {
	if out.Type != FrameResponse && out.Type != FrameEvent {
		return fmt.Errorf("unsupported frame type: %q", out.Type)
	}
	if err := json.NewEncoder(w).Encode(out); err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	return nil
}
