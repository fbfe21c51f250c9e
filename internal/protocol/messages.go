package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeUserMessage   MessageType = "user_message"
	TypeClientControl MessageType = "client_control"
	TypeBotMessage    MessageType = "bot_message"
	TypeSystemEvent   MessageType = "system_event"
	TypeErrorEvent    MessageType = "error_event"
)

// MaxUserTextRunes bounds one inbound utterance.
const MaxUserTextRunes = 4000

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrEmptyMessage    = errors.New("empty message")
	ErrMessageTooLong  = errors.New("message too long")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

// UserMessage is one user utterance. Plain text frames decode to this type.
type UserMessage struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
}

type BotMessage struct {
	Type     MessageType `json:"type"`
	ClientID string      `json:"client_id"`
	TurnID   string      `json:"turn_id,omitempty"`
	Text     string      `json:"text"`
	State    string      `json:"state,omitempty"`
}

type SystemEvent struct {
	Type     MessageType `json:"type"`
	ClientID string      `json:"client_id"`
	Code     string      `json:"code"`
	Detail   string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	ClientID  string      `json:"client_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes an inbound text frame. Frames that are not a JSON
// object are taken verbatim as a user utterance.
func ParseClientMessage(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, ErrEmptyMessage
	}
	if trimmed[0] != '{' {
		return newUserMessage(string(trimmed))
	}

	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		// Text that merely starts with a brace.
		return newUserMessage(string(trimmed))
	}

	switch env.Type {
	case TypeUserMessage:
		var msg UserMessage
		if err := json.Unmarshal(trimmed, &msg); err != nil {
			return nil, err
		}
		return newUserMessage(msg.Text)
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(trimmed, &msg); err != nil {
			return nil, err
		}
		msg.Action = strings.ToLower(strings.TrimSpace(msg.Action))
		if msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
}

func newUserMessage(text string) (UserMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return UserMessage{}, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxUserTextRunes {
		return UserMessage{}, ErrMessageTooLong
	}
	return UserMessage{Type: TypeUserMessage, Text: text}, nil
}

func NewBotMessage(clientID, turnID, text, state string) BotMessage {
	return BotMessage{Type: TypeBotMessage, ClientID: clientID, TurnID: turnID, Text: text, State: state}
}

func NewSystemEvent(clientID, code, detail string) SystemEvent {
	return SystemEvent{Type: TypeSystemEvent, ClientID: clientID, Code: code, Detail: detail}
}

func NewErrorEvent(clientID, code, source string, retryable bool, detail string) ErrorEvent {
	return ErrorEvent{
		Type:      TypeErrorEvent,
		ClientID:  clientID,
		Code:      code,
		Source:    source,
		Retryable: retryable,
		Detail:    detail,
	}
}

// TypeOf reports the wire type of a known message value.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case UserMessage:
		return m.Type, true
	case ClientControl:
		return m.Type, true
	case BotMessage:
		return m.Type, true
	case SystemEvent:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
