package envelope

import (
	"encoding/json"
	"fmt"
	"strings"
)

// messageEnvelope is used for fast type extraction.
type messageEnvelope struct {
	Type string `json:"type"`
}

// Decode parses a raw inbound frame. It returns an error wrapping
// ErrMalformed when the frame is not a JSON object with a non-empty type, or
// when a known kind fails to parse. Unrecognized kinds return *Unknown.
func Decode(data []byte) (Envelope, error) {
	var head messageEnvelope
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if head.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	var env Envelope
	switch Kind(head.Type) {
	case KindConnected:
		env = &Connected{}
	case KindSubscribed:
		env = &Subscribed{}
	case KindUnsubscribed:
		env = &Unsubscribed{}
	case KindPong:
		return &Pong{}, nil
	case KindExecutionUpdate:
		env = &ExecutionUpdate{}
	case KindExecutionLog:
		env = &ExecutionLog{}
	case KindNotification:
		env = &Notification{}
	case KindAuxLog:
		env = &AuxLog{}
	case KindAuxComplete:
		env = &AuxComplete{}
	default:
		return &Unknown{Type: head.Type, Raw: data}, nil
	}

	if err := json.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, head.Type, err)
	}
	return env, nil
}

// Command is an outbound control frame.
type Command struct {
	Type     Kind     `json:"type"`
	Channels []string `json:"channels,omitempty"`
	Channel  string   `json:"channel,omitempty"`
}

// Subscribe builds a subscribe frame for the given channels.
func Subscribe(channels ...string) Command {
	return Command{Type: KindSubscribe, Channels: channels}
}

// Unsubscribe builds an unsubscribe frame for one channel.
func Unsubscribe(channel string) Command {
	return Command{Type: KindUnsubscribe, Channel: channel}
}

// Ping builds a heartbeat frame.
func Ping() Command {
	return Command{Type: KindPing}
}

// Encode marshals the command to its wire form.
func (c Command) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// IsTerminal reports whether an execution status is final. Matching is
// case-insensitive; any status outside the terminal set is in progress.
func IsTerminal(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success", "failure", "failed", "timeout", "cancelled", "canceled":
		return true
	}
	return false
}
