package match

import (
	"github.com/campusops/reconcile/pkg/identity"
	"github.com/campusops/reconcile/pkg/model"
)

// MatchRoom resolves a room mention: exact space-key match first, then
// exact normalized display-name match. Rooms have no fuzzy stage; an
// unmatched mention is created lazily by the preview pass.
func (m *Matcher) MatchRoom(displayName string) *model.Room {
	key := identity.Slug(displayName)
	if r, ok := m.snap.roomsBySpaceKey[key]; ok {
		return r
	}
	if r, ok := m.snap.roomsByName[key]; ok {
		return r
	}
	return nil
}

// MatchRoomByKey resolves a room by its derived space key.
func (m *Matcher) MatchRoomByKey(spaceKey string) *model.Room {
	if r, ok := m.snap.roomsBySpaceKey[spaceKey]; ok {
		return r
	}
	return nil
}
