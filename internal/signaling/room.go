package signaling

import "sort"

// Room is a named group of members eligible to mesh with each other.
type Room struct {
	// ID is the short code users type to join.
	ID string

	members map[string]struct{}
}

func newRoom(id string) *Room {
	return &Room{ID: id, members: make(map[string]struct{})}
}

func (r *Room) add(member string) {
	r.members[member] = struct{}{}
}

func (r *Room) remove(member string) {
	delete(r.members, member)
}

func (r *Room) has(member string) bool {
	_, ok := r.members[member]
	return ok
}

func (r *Room) empty() bool {
	return len(r.members) == 0
}

// ids returns the member identifiers in sorted order, excluding skip.
func (r *Room) ids(skip string) []string {
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		if id != skip {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
