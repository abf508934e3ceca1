package domain

type EventType string

// Client -> server
const (
	EventJoinGroup   EventType = "join_group"
	EventLeaveGroup  EventType = "leave_group"
	EventSendMessage EventType = "send_message"
)

// Server -> client
const (
	EventNewMessage  EventType = "new_message"
	EventJoinedGroup EventType = "joined_group"
	EventLeftGroup   EventType = "left_group"
	EventError       EventType = "error"
)

// Reasons carried by left_group.
const (
	LeaveRequested    = "requested"
	LeaveRevoked      = "membership_revoked"
	LeaveGroupDeleted = "group_deleted"
)

// ServerEvent is what the gateway pushes to a connection.
type ServerEvent struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type GroupPayload struct {
	GroupID GroupID `json:"group_id"`
	Reason  string  `json:"reason,omitempty"`
}

type ErrorPayload struct {
	Code    string  `json:"code"`
	Message string  `json:"message"`
	GroupID GroupID `json:"group_id,omitempty"`
}

func NewMessageEvent(msg *MessageWithAuthor) ServerEvent {
	return ServerEvent{Type: EventNewMessage, Payload: msg}
}

func JoinedGroupEvent(groupID GroupID) ServerEvent {
	return ServerEvent{Type: EventJoinedGroup, Payload: GroupPayload{GroupID: groupID}}
}

func LeftGroupEvent(groupID GroupID, reason string) ServerEvent {
	return ServerEvent{Type: EventLeftGroup, Payload: GroupPayload{GroupID: groupID, Reason: reason}}
}

func ErrorEvent(code, message string, groupID GroupID) ServerEvent {
	return ServerEvent{Type: EventError, Payload: ErrorPayload{Code: code, Message: message, GroupID: groupID}}
}
