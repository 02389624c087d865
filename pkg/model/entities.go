package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entity is the common surface of the canonical record kinds. Store
// implementations persist entities by (Type, ID) and round-trip them
// through JSON.
type Entity interface {
	Type() EntityType
	ID() string
	SetID(id string)
	// Clone returns a deep copy so snapshots and originals stay immutable.
	Clone() Entity
}

// NewEntity returns a zero value of the concrete type for an entity kind,
// for decoding stored payloads.
func NewEntity(et EntityType) (Entity, error) {
	switch et {
	case EntityPerson:
		return &Person{}, nil
	case EntityRoom:
		return &Room{}, nil
	case EntitySection:
		return &Section{}, nil
	default:
		return nil, fmt.Errorf("unknown entity type %q", et)
	}
}

// DecodeEntity unmarshals a stored payload into the concrete type for et.
func DecodeEntity(et EntityType, payload []byte) (Entity, error) {
	e, err := NewEntity(et)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, e); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", et, err)
	}
	return e, nil
}

// Person is a canonical personnel record. Identity may arrive through any
// of ExternalID, OrgID, or Email; all three may be absent. The *Absent
// flags record fields an operator marked deliberately blank so imports do
// not keep re-requesting them.
type Person struct {
	RecordID   string `json:"id"`
	ExternalID string `json:"externalId,omitempty"`
	OrgID      string `json:"orgId,omitempty"`
	Email      string `json:"email,omitempty"`

	FirstName  string `json:"firstName,omitempty"`
	MiddleName string `json:"middleName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	Title      string `json:"title,omitempty"`

	Roles  []string `json:"roles,omitempty"`
	Phone  string   `json:"phone,omitempty"`
	Office string   `json:"office,omitempty"`

	EmailAbsent bool `json:"emailAbsent,omitempty"`
	PhoneAbsent bool `json:"phoneAbsent,omitempty"`

	SourceRowHash  string    `json:"sourceRowHash,omitempty"`
	LastImportedAt time.Time `json:"lastImportedAt,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`
}

func (p *Person) Type() EntityType { return EntityPerson }
func (p *Person) ID() string       { return p.RecordID }
func (p *Person) SetID(id string)  { p.RecordID = id }

// Clone returns a deep copy of the person.
func (p *Person) Clone() Entity {
	cp := *p
	cp.Roles = append([]string(nil), p.Roles...)
	return &cp
}

// FullName returns "First Last" for display and match normalization.
func (p *Person) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	default:
		return p.FirstName + " " + p.LastName
	}
}

// Room is a canonical physical space. Identity is a deterministic space
// key from building code + space number, falling back to a slug of the
// normalized display name. Rooms are created lazily on first unmatched
// mention; later imports backfill missing structured fields.
type Room struct {
	RecordID    string `json:"id"`
	SpaceKey    string `json:"spaceKey"`
	Building    string `json:"building,omitempty"`
	SpaceNumber string `json:"spaceNumber,omitempty"`
	DisplayName string `json:"displayName,omitempty"`

	Capacity int      `json:"capacity,omitempty"`
	Features []string `json:"features,omitempty"`

	SourceRowHash  string    `json:"sourceRowHash,omitempty"`
	LastImportedAt time.Time `json:"lastImportedAt,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`
}

func (r *Room) Type() EntityType { return EntityRoom }
func (r *Room) ID() string       { return r.RecordID }
func (r *Room) SetID(id string)  { r.RecordID = id }

// Clone returns a deep copy of the room.
func (r *Room) Clone() Entity {
	cp := *r
	cp.Features = append([]string(nil), r.Features...)
	return &cp
}

// InstructorAssignment links a section to a person with a load share.
type InstructorAssignment struct {
	PersonID    string  `json:"personId"`
	Primary     bool    `json:"primary"`
	LoadPercent float64 `json:"loadPercent"`
}

// MeetingPattern is one recurring meeting block of a section.
type MeetingPattern struct {
	Days      []string `json:"days"`
	StartTime string   `json:"startTime"`
	EndTime   string   `json:"endTime"`
}

// Section is a canonical schedule section. Identity resolves through the
// prioritized IdentityKeys list; sections sharing any one key are the same
// entity and must merge, never duplicate.
type Section struct {
	RecordID        string `json:"id"`
	ExternalID      string `json:"externalId,omitempty"`
	ReferenceNumber string `json:"referenceNumber,omitempty"`
	Course          string `json:"course"`
	SectionNumber   string `json:"sectionNumber"`
	Term            string `json:"term"`

	// IdentityKeys holds every identity key the section has ever carried.
	// Keys are only ever added, never dropped.
	IdentityKeys []string `json:"identityKeys"`
	PrimaryKey   string   `json:"primaryKey"`

	Assignments []InstructorAssignment `json:"assignments,omitempty"`
	RoomIDs     []string               `json:"roomIds,omitempty"`
	RoomNames   []string               `json:"roomNames,omitempty"`
	Meetings    []MeetingPattern       `json:"meetings,omitempty"`

	Enrollment int    `json:"enrollment,omitempty"`
	Capacity   int    `json:"capacity,omitempty"`
	Status     string `json:"status,omitempty"`

	// NoRoomNeeded is an explicit clear: a blank room on an incoming row
	// with this flag set overwrites previously stored rooms.
	NoRoomNeeded bool `json:"noRoomNeeded,omitempty"`

	SourceRowHash  string    `json:"sourceRowHash,omitempty"`
	LastImportedAt time.Time `json:"lastImportedAt,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`
}

func (s *Section) Type() EntityType { return EntitySection }
func (s *Section) ID() string       { return s.RecordID }
func (s *Section) SetID(id string)  { s.RecordID = id }

// Clone returns a deep copy of the section.
func (s *Section) Clone() Entity {
	cp := *s
	cp.IdentityKeys = append([]string(nil), s.IdentityKeys...)
	cp.Assignments = append([]InstructorAssignment(nil), s.Assignments...)
	cp.RoomIDs = append([]string(nil), s.RoomIDs...)
	cp.RoomNames = append([]string(nil), s.RoomNames...)
	cp.Meetings = make([]MeetingPattern, len(s.Meetings))
	for i, m := range s.Meetings {
		cp.Meetings[i] = MeetingPattern{
			Days:      append([]string(nil), m.Days...),
			StartTime: m.StartTime,
			EndTime:   m.EndTime,
		}
	}
	return &cp
}

// HasIdentityKey reports whether the section already carries the key.
func (s *Section) HasIdentityKey(key string) bool {
	for _, k := range s.IdentityKeys {
		if k == key {
			return true
		}
	}
	return false
}
