package queue

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"NewsDesk/internal/domain"
)

// pushRequest is the wrapper Pub/Sub wraps around pushed messages.
type pushRequest struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// DecodePush unwraps a push delivery body into the envelope it carries.
// Malformed wrappers and payloads are reported as errors so the endpoint can
// reject them without touching the store.
func DecodePush(body []byte) (domain.Envelope, error) {
	var req pushRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return domain.Envelope{}, fmt.Errorf("unmarshal push wrapper: %w", err)
	}
	if req.Message.Data == "" {
		return domain.Envelope{}, fmt.Errorf("push message has no data")
	}

	raw, err := base64.StdEncoding.DecodeString(req.Message.Data)
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("decode push data: %w", err)
	}

	var env domain.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.SourceID == "" || env.MessageID == 0 {
		return domain.Envelope{}, fmt.Errorf("envelope missing origin key")
	}
	return env, nil
}
