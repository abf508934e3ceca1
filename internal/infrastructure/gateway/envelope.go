package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"groupchat/internal/core/domain"
	"groupchat/pkg/validation"
)

// Codes carried by outbound error events.
const (
	CodeInvalidEvent   = "invalid_event"
	CodeUnknownEvent   = "unknown_event"
	CodeInvalidContent = "invalid_content"
	CodeNotJoined      = "not_joined"
	CodeUnavailable    = "unavailable"
	CodeRejected       = "rejected"
	CodeRateLimited    = "rate_limited"
)

var errMalformed = errors.New("malformed event")

// ClientEvent is the inbound envelope.
type ClientEvent struct {
	Type    domain.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload,omitempty"`
}

type GroupRequest struct {
	GroupID domain.GroupID `json:"group_id"`
}

type SendMessageRequest struct {
	GroupID domain.GroupID `json:"group_id"`
	Content string         `json:"content"`
}

func decodeEvent(data []byte) (ClientEvent, error) {
	var ev ClientEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("%w: %w", errMalformed, err)
	}
	if ev.Type == "" {
		return ev, fmt.Errorf("%w: type is required", errMalformed)
	}
	return ev, nil
}

func decodeGroupRequest(raw json.RawMessage) (GroupRequest, error) {
	var req GroupRequest
	if err := decodePayload(raw, &req); err != nil {
		return req, err
	}
	if err := validation.ValidateGroupID(req.GroupID); err != nil {
		return req, fmt.Errorf("%w: %w", errMalformed, err)
	}
	return req, nil
}

func decodeSendMessage(raw json.RawMessage) (SendMessageRequest, error) {
	var req SendMessageRequest
	if err := decodePayload(raw, &req); err != nil {
		return req, err
	}
	if err := validation.ValidateGroupID(req.GroupID); err != nil {
		return req, fmt.Errorf("%w: %w", errMalformed, err)
	}
	return req, nil
}

func decodePayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: payload is required", errMalformed)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %w", errMalformed, err)
	}
	return nil
}

// rejectionCode classifies a failed submission for the submitting client.
func rejectionCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmptyContent), errors.Is(err, domain.ErrContentTooLong):
		return CodeInvalidContent
	case errors.Is(err, domain.ErrNotJoined), errors.Is(err, domain.ErrConnectionNotFound):
		return CodeNotJoined
	case errors.Is(err, domain.ErrRepositoryUnavailable):
		return CodeUnavailable
	default:
		return CodeRejected
	}
}

func rejectionMessage(code string) string {
	switch code {
	case CodeInvalidContent:
		return "message content is empty or too long"
	case CodeNotJoined:
		return "join the group before sending to it"
	case CodeUnavailable:
		return "message could not be stored, try again"
	default:
		return "message rejected"
	}
}
