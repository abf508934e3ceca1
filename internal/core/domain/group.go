package domain

import "time"

// GroupID doubles as the room identifier used by the relay.
type GroupID string

type Group struct {
	ID        GroupID   `json:"id"`
	Name      string    `json:"name"`
	OwnerID   UserID    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CanManage reports whether identity may change the group's members or delete it.
func (g *Group) CanManage(identity Identity) bool {
	return g.OwnerID == identity.ID || identity.IsAdmin()
}

type Membership struct {
	UserID   UserID    `json:"user_id"`
	GroupID  GroupID   `json:"group_id"`
	JoinedAt time.Time `json:"joined_at"`
}
