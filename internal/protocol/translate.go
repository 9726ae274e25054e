package protocol

import (
	"encoding/json"
	"fmt"
)

// ChatErrorContent replaces any partial text on chat error.
const ChatErrorContent = "An error occurred"

type agentEvent struct {
	Type       string `json:"type"`
	Stream     string `json:"stream"`
	SessionKey string `json:"sessionKey"`
	Data       struct {
		Text  string `json:"text"`
		Phase string `json:"phase"`
	} `json:"data"`
}

type chatEvent struct {
	Type       string `json:"type"`
	State      string `json:"state"`
	SessionKey string `json:"sessionKey"`
	Message    *struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
}

// Translation is the result of mapping one upstream event.
// Message is set for agent/chat output; Raw is set for pass-through frames.
type Translation struct {
	Message *OutboundMessage
	Raw     []byte
}

// Bytes returns the downstream payload for the translation.
func (t Translation) Bytes() ([]byte, error) {
	if t.Message != nil {
		return t.Message.Encode()
	}
	return t.Raw, nil
}

// Translate maps an upstream event to its downstream form.
// ok is false when the event produces no output; err explains drops caused by bad input.
func Translate(data []byte) (Translation, bool, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return Translation{}, false, err
	}
	switch env.Type {
	case "agent":
		msg, ok, err := translateAgent(data)
		if !ok {
			return Translation{}, false, err
		}
		return Translation{Message: &msg}, true, nil
	case "chat":
		msg, ok, err := translateChat(data)
		if !ok {
			return Translation{}, false, err
		}
		return Translation{Message: &msg}, true, nil
	default:
		return Translation{Raw: data}, true, nil
	}
}

func translateAgent(data []byte) (OutboundMessage, bool, error) {
	var ev agentEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return OutboundMessage{}, false, fmt.Errorf("%w: agent: %v", ErrMalformedEvent, err)
	}
	if ev.Stream == "" {
		return OutboundMessage{}, false, fmt.Errorf("%w: agent stream", ErrMissingField)
	}
	if ev.SessionKey == "" {
		return OutboundMessage{}, false, fmt.Errorf("%w: agent sessionKey", ErrMissingField)
	}

	switch ev.Stream {
	case "lifecycle":
		if ev.Data.Phase == "end" || ev.Data.Phase == "complete" {
			return OutboundMessage{Type: TypeComplete, Content: "", Session: ev.SessionKey}, true, nil
		}
	case "assistant":
		if ev.Data.Text != "" {
			return OutboundMessage{Type: TypeProgress, Content: ev.Data.Text, Session: ev.SessionKey}, true, nil
		}
	}
	return OutboundMessage{}, false, nil
}

func translateChat(data []byte) (OutboundMessage, bool, error) {
	var ev chatEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return OutboundMessage{}, false, fmt.Errorf("%w: chat: %v", ErrMalformedEvent, err)
	}
	if ev.State == "" {
		return OutboundMessage{}, false, fmt.Errorf("%w: chat state", ErrMissingField)
	}
	if ev.SessionKey == "" {
		return OutboundMessage{}, false, fmt.Errorf("%w: chat sessionKey", ErrMissingField)
	}

	var text string
	if ev.Message != nil {
		for _, item := range ev.Message.Content {
			if item.Type == "text" {
				text += item.Text
			}
		}
	}

	switch ev.State {
	case "final":
		return OutboundMessage{Type: TypeComplete, Content: text, Session: ev.SessionKey}, true, nil
	case "delta":
		if text != "" {
			return OutboundMessage{Type: TypeProgress, Content: text, Session: ev.SessionKey}, true, nil
		}
	case "error":
		return OutboundMessage{Type: TypeError, Content: ChatErrorContent, Session: ev.SessionKey}, true, nil
	}
	return OutboundMessage{}, false, nil
}
