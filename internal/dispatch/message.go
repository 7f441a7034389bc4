package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"threescale-authorizer/internal/domain"
)

// Message asks the async reporter to re-authorize a token and count one hit.
// AppID is set only in OAuth mode.
type Message struct {
	Token string `json:"token"`
	AppID string `json:"app_id,omitempty"`
}

// snsEnvelope is the notification shape delivered by an SNS subscription.
type snsEnvelope struct {
	Records []struct {
		Sns struct {
			Message string `json:"Message"`
		} `json:"Sns"`
	} `json:"Records"`
}

// Encode renders m as the JSON payload carried on the channel.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a channel payload. A payload without a token is rejected.
func Decode(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}
	if strings.TrimSpace(m.Token) == "" {
		return Message{}, fmt.Errorf("%w: missing token", domain.ErrInvalidMessage)
	}
	return m, nil
}

// DecodeEnvelope accepts either a bare message or an SNS event whose first
// record carries the message as a JSON string.
func DecodeEnvelope(body []byte) (Message, error) {
	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err == nil && len(env.Records) > 0 {
		return Decode([]byte(env.Records[0].Sns.Message))
	}
	return Decode(body)
}
