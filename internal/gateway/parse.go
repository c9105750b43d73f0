package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// EnvelopeKind classifies a model completion.
type EnvelopeKind int

const (
	// KindPlainText is prose that was not JSON at all.
	KindPlainText EnvelopeKind = iota
	// KindMessage is a {"type":"message"} envelope.
	KindMessage
	// KindAction is a {"type":"action"} envelope.
	KindAction
	// KindUnrecognized is a JSON object that follows neither contract.
	KindUnrecognized
)

func (k EnvelopeKind) String() string {
	switch k {
	case KindPlainText:
		return "plain_text"
	case KindMessage:
		return "message"
	case KindAction:
		return "action"
	default:
		return "unrecognized"
	}
}

// ActionEnvelope is the unvalidated action request emitted by the model.
// Params is kept raw; the validator owns all typing decisions.
type ActionEnvelope struct {
	Name   string
	Params json.RawMessage
}

// Envelope is the parsed form of one completion.
type Envelope struct {
	Kind    EnvelopeKind
	Content string
	Action  ActionEnvelope
}

// rawEnvelope keeps every field raw so a JSON object with wrongly typed
// fields is still recognised as JSON and never echoed back as prose.
type rawEnvelope struct {
	Type    json.RawMessage `json:"type"`
	Content json.RawMessage `json:"content"`
	Name    json.RawMessage `json:"name"`
	Params  json.RawMessage `json:"params"`
}

// ParseResponse classifies raw model output. It never fails: text that is not
// a single JSON object is returned verbatim as plain text so prose answers
// pass through.
func ParseResponse(raw string) Envelope {
	body := stripCodeFence(strings.TrimSpace(raw))

	env, err := decodeEnvelope(body)
	if err != nil {
		return Envelope{Kind: KindPlainText, Content: raw}
	}

	typ, _ := asString(env.Type)
	switch typ {
	case "message":
		content, ok := asString(env.Content)
		if !ok || strings.TrimSpace(content) == "" {
			return Envelope{Kind: KindUnrecognized}
		}
		return Envelope{Kind: KindMessage, Content: strings.TrimSpace(content)}
	case "action":
		name, _ := asString(env.Name)
		return Envelope{Kind: KindAction, Action: ActionEnvelope{
			Name:   strings.TrimSpace(name),
			Params: env.Params,
		}}
	default:
		return Envelope{Kind: KindUnrecognized}
	}
}

func decodeEnvelope(body string) (rawEnvelope, error) {
	if !strings.HasPrefix(body, "{") {
		return rawEnvelope{}, errors.New("not a JSON object")
	}
	var out rawEnvelope
	dec := json.NewDecoder(bytes.NewBufferString(body))
	if err := dec.Decode(&out); err != nil {
		return rawEnvelope{}, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return rawEnvelope{}, errors.New("multiple JSON values")
	}
	return out, nil
}

func asString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 && !strings.HasPrefix(strings.TrimSpace(inner[:nl]), "{") {
		inner = inner[nl+1:]
	}
	return strings.TrimSpace(inner)
}
