package finding

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrUnrecognizedEvent is returned for JSON values that are neither an
// EventBridge envelope nor an ASFF finding.
var ErrUnrecognizedEvent = errors.New("unrecognized finding event")

// envelope is the EventBridge wrapper Security Hub emits for imported findings
// and custom actions.
type envelope struct {
	DetailType string `json:"detail-type"`
	Source     string `json:"source"`
	Detail     *struct {
		Findings []json.RawMessage `json:"findings"`
	} `json:"detail"`
}

// ParseEvents reads a stream of JSON values and flattens them into findings.
// Each value may be an EventBridge envelope, a bare ASFF finding, or an array
// of either.
func ParseEvents(r io.Reader) ([]Finding, error) {
	var out []Finding
	err := EachEvent(r, func(fs []Finding) error {
		out = append(out, fs...)
		return nil
	})
	return out, err
}

// EachEvent decodes r one JSON value at a time and calls fn with the findings
// of each value as soon as it is read. It stops at EOF, on the first decode
// error, or when fn returns an error.
func EachEvent(r io.Reader, fn func([]Finding) error) error {
	dec := json.NewDecoder(r)
	for idx := 0; ; idx++ {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("event %d: %w", idx, err)
		}
		fs, err := parseValue(raw)
		if err != nil {
			return fmt.Errorf("event %d: %w", idx, err)
		}
		if err := fn(fs); err != nil {
			return err
		}
	}
}

func parseValue(raw json.RawMessage) ([]Finding, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, ErrUnrecognizedEvent
	}

	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		var out []Finding
		for _, item := range items {
			fs, err := parseValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, fs...)
		}
		return out, nil
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, err
	}
	if env.Detail != nil {
		out := make([]Finding, 0, len(env.Detail.Findings))
		for _, item := range env.Detail.Findings {
			f, err := FromASFF(item)
			if err != nil {
				return nil, err
			}
			out = append(out, f)
		}
		return out, nil
	}

	f, err := FromASFF(trimmed)
	if err != nil {
		return nil, err
	}
	if f.Title == "" && f.ID == "" {
		return nil, ErrUnrecognizedEvent
	}
	return []Finding{f}, nil
}
