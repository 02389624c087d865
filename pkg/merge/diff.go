package merge

import (
	"time"

	"github.com/campusops/reconcile/pkg/identity"
	"github.com/campusops/reconcile/pkg/model"
)

// DiffPerson merges an incoming person into the stored record, returning
// the merged copy and the field deltas. A nil delta slice means the row
// is a no-op for this person.
func DiffPerson(existing, incoming *model.Person) (*model.Person, []model.FieldDelta) {
	merged := existing.Clone().(*model.Person)
	var d differ

	d.mergeScalar("externalId", &merged.ExternalID, incoming.ExternalID)
	d.mergeScalar("orgId", &merged.OrgID, incoming.OrgID)

	// An explicit "deliberately absent" email is an allow-listed clear.
	if incoming.EmailAbsent && merged.Email != "" {
		d.record("email", merged.Email, "")
		merged.Email = ""
	} else {
		d.mergeScalar("email", &merged.Email, incoming.Email)
	}

	d.mergeScalar("firstName", &merged.FirstName, incoming.FirstName)
	d.mergeScalar("middleName", &merged.MiddleName, incoming.MiddleName)
	d.mergeScalar("lastName", &merged.LastName, incoming.LastName)
	d.mergeScalar("title", &merged.Title, incoming.Title)

	if incoming.PhoneAbsent && merged.Phone != "" {
		d.record("phone", merged.Phone, "")
		merged.Phone = ""
	} else {
		d.mergeScalar("phone", &merged.Phone, incoming.Phone)
	}

	d.mergeScalar("office", &merged.Office, incoming.Office)
	d.mergeStringSet("roles", &merged.Roles, incoming.Roles, identity.NormalizeName)

	d.mergeBool("emailAbsent", &merged.EmailAbsent, incoming.EmailAbsent)
	d.mergeBool("phoneAbsent", &merged.PhoneAbsent, incoming.PhoneAbsent)

	diffBookkeeping(&d, &merged.SourceRowHash, &merged.LastImportedAt,
		incoming.SourceRowHash, incoming.LastImportedAt, len(d.deltas) > 0)

	return merged, d.deltas
}

// DiffRoom merges an incoming room mention into the stored record. Rooms
// are backfilled: later imports fill missing structured fields.
func DiffRoom(existing, incoming *model.Room) (*model.Room, []model.FieldDelta) {
	merged := existing.Clone().(*model.Room)
	var d differ

	d.mergeScalar("building", &merged.Building, incoming.Building)
	d.mergeScalar("spaceNumber", &merged.SpaceNumber, incoming.SpaceNumber)
	d.mergeScalar("displayName", &merged.DisplayName, incoming.DisplayName)
	d.mergeInt("capacity", &merged.Capacity, incoming.Capacity)
	d.mergeStringSet("features", &merged.Features, incoming.Features, identity.NormalizeName)

	diffBookkeeping(&d, &merged.SourceRowHash, &merged.LastImportedAt,
		incoming.SourceRowHash, incoming.LastImportedAt, len(d.deltas) > 0)

	return merged, d.deltas
}

// DiffSection merges an incoming section into the stored record under the
// full policy: identity keys union and never shrink, the primary key is
// only replaced by an equal-or-stronger-ranked key, room fields honor the
// explicit "no room needed" clear, and list fields compare as sets over
// canonical tokens.
func DiffSection(existing, incoming *model.Section) (*model.Section, []model.FieldDelta) {
	merged := existing.Clone().(*model.Section)
	var d differ

	d.mergeScalar("externalId", &merged.ExternalID, incoming.ExternalID)
	d.mergeScalar("referenceNumber", &merged.ReferenceNumber, incoming.ReferenceNumber)
	d.mergeScalar("course", &merged.Course, incoming.Course)
	d.mergeScalar("sectionNumber", &merged.SectionNumber, incoming.SectionNumber)
	d.mergeScalar("term", &merged.Term, incoming.Term)

	mergeIdentityKeys(&d, merged, incoming)

	if !assignmentSetEqual(merged.Assignments, incoming.Assignments) && len(incoming.Assignments) > 0 {
		d.record("assignments", merged.Assignments, incoming.Assignments)
		merged.Assignments = append([]model.InstructorAssignment(nil), incoming.Assignments...)
	}

	if incoming.NoRoomNeeded {
		// Allow-listed clear: a roomless section drops its stored rooms.
		if len(merged.RoomIDs) > 0 || len(merged.RoomNames) > 0 {
			d.record("roomIds", merged.RoomIDs, []string{})
			d.record("roomNames", merged.RoomNames, []string{})
			merged.RoomIDs = nil
			merged.RoomNames = nil
		}
		d.mergeBool("noRoomNeeded", &merged.NoRoomNeeded, true)
	} else {
		d.mergeStringSet("roomIds", &merged.RoomIDs, incoming.RoomIDs, nil)
		d.mergeStringSet("roomNames", &merged.RoomNames, incoming.RoomNames, identity.Slug)
	}

	if len(incoming.Meetings) > 0 && !setEqual(meetingTokens(merged.Meetings), meetingTokens(incoming.Meetings)) {
		d.record("meetings", merged.Meetings, incoming.Meetings)
		merged.Meetings = append([]model.MeetingPattern(nil), incoming.Meetings...)
	}

	d.mergeInt("enrollment", &merged.Enrollment, incoming.Enrollment)
	d.mergeInt("capacity", &merged.Capacity, incoming.Capacity)
	d.mergeScalar("status", &merged.Status, incoming.Status)

	diffBookkeeping(&d, &merged.SourceRowHash, &merged.LastImportedAt,
		incoming.SourceRowHash, incoming.LastImportedAt, len(d.deltas) > 0)

	return merged, d.deltas
}

// mergeIdentityKeys unions the incoming keys into the stored list (a
// previously valid key is never dropped) and upgrades the primary key
// only when the incoming one ranks equal or stronger.
func mergeIdentityKeys(d *differ, merged, incoming *model.Section) {
	added := false
	for _, key := range incoming.IdentityKeys {
		if !merged.HasIdentityKey(key) {
			if !added {
				d.record("identityKeys",
					append([]string(nil), merged.IdentityKeys...), nil)
				added = true
			}
			merged.IdentityKeys = append(merged.IdentityKeys, key)
		}
	}
	if added {
		// Fill in the final value now that the union is complete.
		d.deltas[len(d.deltas)-1].New = append([]string(nil), merged.IdentityKeys...)
	}

	if incoming.PrimaryKey != "" && incoming.PrimaryKey != merged.PrimaryKey &&
		identity.KeyRank(incoming.PrimaryKey) >= identity.KeyRank(merged.PrimaryKey) {
		d.record("primaryKey", merged.PrimaryKey, incoming.PrimaryKey)
		merged.PrimaryKey = incoming.PrimaryKey
	}
}

func assignmentSetEqual(a, b []model.InstructorAssignment) bool {
	return setEqual(assignmentTokens(a), assignmentTokens(b))
}

// diffBookkeeping updates the import provenance fields. When nothing real
// changed and the row hash is unchanged too, no delta is recorded at all
// so an identical re-import stays a pure no-op.
func diffBookkeeping(d *differ, hashDst *string, importedDst *time.Time, hash string, importedAt time.Time, realChange bool) {
	if hash == "" {
		return
	}
	if *hashDst == hash && !realChange {
		return
	}
	if *hashDst != hash {
		d.record("sourceRowHash", *hashDst, hash)
		*hashDst = hash
	}
	if !importedAt.IsZero() && !importedAt.Equal(*importedDst) {
		d.record("lastImportedAt", *importedDst, importedAt)
		*importedDst = importedAt
	}
}
