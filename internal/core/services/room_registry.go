package services

import (
	"slices"
	"sync"

	"groupchat/internal/core/domain"
)

// RoomRegistry tracks which live connections are joined to which rooms.
// Every mutation holds the write lock for its whole duration, so a reader
// never observes a connection half removed.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[domain.GroupID]map[domain.ConnectionID]struct{}
	conns map[domain.ConnectionID]map[domain.GroupID]struct{}
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms: make(map[domain.GroupID]map[domain.ConnectionID]struct{}),
		conns: make(map[domain.ConnectionID]map[domain.GroupID]struct{}),
	}
}

// Join returns true when the connection was not already in the room.
func (r *RoomRegistry) Join(connID domain.ConnectionID, groupID domain.GroupID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[groupID]
	if !ok {
		members = make(map[domain.ConnectionID]struct{})
		r.rooms[groupID] = members
	}
	if _, exists := members[connID]; exists {
		return false
	}
	members[connID] = struct{}{}

	joined, ok := r.conns[connID]
	if !ok {
		joined = make(map[domain.GroupID]struct{})
		r.conns[connID] = joined
	}
	joined[groupID] = struct{}{}
	return true
}

// Leave returns true when the connection was in the room.
func (r *RoomRegistry) Leave(connID domain.ConnectionID, groupID domain.GroupID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(connID, groupID)
}

// LeaveAll removes the connection from every room and returns them.
func (r *RoomRegistry) LeaveAll(connID domain.ConnectionID) []domain.GroupID {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined := r.conns[connID]
	left := make([]domain.GroupID, 0, len(joined))
	for groupID := range joined {
		left = append(left, groupID)
	}
	for _, groupID := range left {
		r.removeLocked(connID, groupID)
	}
	delete(r.conns, connID)

	slices.Sort(left)
	return left
}

func (r *RoomRegistry) removeLocked(connID domain.ConnectionID, groupID domain.GroupID) bool {
	members, ok := r.rooms[groupID]
	if !ok {
		return false
	}
	if _, exists := members[connID]; !exists {
		return false
	}

	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, groupID)
	}

	if joined, ok := r.conns[connID]; ok {
		delete(joined, groupID)
		if len(joined) == 0 {
			delete(r.conns, connID)
		}
	}
	return true
}

// MembersOf returns a sorted snapshot of the room's connections.
func (r *RoomRegistry) MembersOf(groupID domain.GroupID) []domain.ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[groupID]
	out := make([]domain.ConnectionID, 0, len(members))
	for connID := range members {
		out = append(out, connID)
	}
	slices.Sort(out)
	return out
}

func (r *RoomRegistry) RoomsOf(connID domain.ConnectionID) []domain.GroupID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	joined := r.conns[connID]
	out := make([]domain.GroupID, 0, len(joined))
	for groupID := range joined {
		out = append(out, groupID)
	}
	slices.Sort(out)
	return out
}

func (r *RoomRegistry) IsJoined(connID domain.ConnectionID, groupID domain.GroupID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[groupID][connID]
	return ok
}

// RoomCount is the number of rooms with at least one live connection.
func (r *RoomRegistry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
