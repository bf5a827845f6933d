package registry

import (
	"strings"
	"sync"
)

// PairKey returns the canonical room key for a conversation between two user
// identities: PairKey(a, b) == PairKey(b, a).
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// PairKeyMatches reports whether key names a conversation involving userID.
func PairKeyMatches(key, userID string) bool {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) != 2 {
		return false
	}
	return parts[0] == userID || parts[1] == userID
}

// RoomIndex tracks presence rooms keyed by canonical pair key. Rooms exist
// only to announce that a peer became active; message delivery never reads
// them.
type RoomIndex struct {
	mu     sync.RWMutex
	rooms  map[string]map[Sink]struct{}
	joined map[Sink]map[string]struct{}
}

// NewRooms builds an empty room index.
func NewRooms() *RoomIndex {
	return &RoomIndex{
		rooms:  make(map[string]map[Sink]struct{}),
		joined: make(map[Sink]map[string]struct{}),
	}
}

// Join adds the sink to the room and returns the other current members, so
// the caller can announce the join to them. Joining a room the sink is
// already in still returns the other members; repeated joins repeat the
// announcement, which is acceptable for advisory presence.
func (i *RoomIndex) Join(roomID string, sink Sink) []Sink {
	if roomID == "" || sink == nil {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	members, ok := i.rooms[roomID]
	if !ok {
		members = make(map[Sink]struct{})
		i.rooms[roomID] = members
	}
	members[sink] = struct{}{}

	keys, ok := i.joined[sink]
	if !ok {
		keys = make(map[string]struct{})
		i.joined[sink] = keys
	}
	keys[roomID] = struct{}{}

	others := make([]Sink, 0, len(members)-1)
	for member := range members {
		if member != sink {
			others = append(others, member)
		}
	}
	return others
}

// Leave removes the sink from every room it joined and prunes empty rooms.
func (i *RoomIndex) Leave(sink Sink) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for roomID := range i.joined[sink] {
		if members, ok := i.rooms[roomID]; ok {
			delete(members, sink)
			if len(members) == 0 {
				delete(i.rooms, roomID)
			}
		}
	}
	delete(i.joined, sink)
}

// Members reports the current size of a room.
func (i *RoomIndex) Members(roomID string) int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.rooms[roomID])
}
