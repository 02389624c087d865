package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FieldDelta is one field-level difference between an incoming record and
// the stored record. Field names match the entity's JSON tags so a subset
// of deltas can be re-applied to a payload.
type FieldDelta struct {
	Field string      `json:"field"`
	Old   interface{} `json:"old,omitempty"`
	New   interface{} `json:"new"`
}

// Change is one proposed mutation in a transaction's changeset.
//
// GroupKey ties related changes together (a new room plus the section
// referencing it) so they travel and roll back as a unit. PendingIssueID
// marks changes blocked on an unresolved match issue; such changes are
// commit-ineligible until the issue resolves.
type Change struct {
	ChangeID   string       `json:"id"`
	EntityType EntityType   `json:"entityType"`
	Action     ChangeAction `json:"action"`
	GroupKey   string       `json:"groupKey,omitempty"`

	// New is the proposed payload (add/modify). Original is the stored
	// payload before the change (modify/delete); rollback restores it.
	New      Entity `json:"-"`
	Original Entity `json:"-"`

	Diff []FieldDelta `json:"diff,omitempty"`

	PendingIssueID string `json:"pendingIssueId,omitempty"`

	// MetadataOnly marks modifies whose diff touches only internal
	// bookkeeping fields; summaries report them separately.
	MetadataOnly bool `json:"metadataOnly,omitempty"`

	RowHash string `json:"rowHash,omitempty"`

	Applied   bool      `json:"applied"`
	AppliedAt time.Time `json:"appliedAt,omitempty"`
}

// NewChange creates a change with a fresh id.
func NewChange(et EntityType, action ChangeAction) *Change {
	return &Change{
		ChangeID:   uuid.New().String(),
		EntityType: et,
		Action:     action,
	}
}

// WithGroup sets the grouping key and returns the change.
func (c *Change) WithGroup(key string) *Change {
	c.GroupKey = key
	return c
}

// WithRow records the source row hash and returns the change.
func (c *Change) WithRow(hash string) *Change {
	c.RowHash = hash
	return c
}

// Pending reports whether the change is blocked on an open match issue.
func (c *Change) Pending() bool {
	return c.PendingIssueID != ""
}

// MarkApplied flags the change as written to the store.
func (c *Change) MarkApplied() {
	c.Applied = true
	c.AppliedAt = time.Now().UTC()
}

// TargetID returns the id of the record the change touches.
func (c *Change) TargetID() string {
	if c.New != nil {
		return c.New.ID()
	}
	if c.Original != nil {
		return c.Original.ID()
	}
	return ""
}

// changeJSON is the wire form of Change; entity payloads carry their
// concrete type through EntityType.
type changeJSON struct {
	ChangeID       string          `json:"id"`
	EntityType     EntityType      `json:"entityType"`
	Action         ChangeAction    `json:"action"`
	GroupKey       string          `json:"groupKey,omitempty"`
	New            json.RawMessage `json:"new,omitempty"`
	Original       json.RawMessage `json:"original,omitempty"`
	Diff           []FieldDelta    `json:"diff,omitempty"`
	PendingIssueID string          `json:"pendingIssueId,omitempty"`
	MetadataOnly   bool            `json:"metadataOnly,omitempty"`
	RowHash        string          `json:"rowHash,omitempty"`
	Applied        bool            `json:"applied"`
	AppliedAt      *time.Time      `json:"appliedAt,omitempty"`
}

// MarshalJSON serializes the change including its typed payloads.
func (c *Change) MarshalJSON() ([]byte, error) {
	cj := changeJSON{
		ChangeID:       c.ChangeID,
		EntityType:     c.EntityType,
		Action:         c.Action,
		GroupKey:       c.GroupKey,
		Diff:           c.Diff,
		PendingIssueID: c.PendingIssueID,
		MetadataOnly:   c.MetadataOnly,
		RowHash:        c.RowHash,
		Applied:        c.Applied,
	}
	if !c.AppliedAt.IsZero() {
		t := c.AppliedAt
		cj.AppliedAt = &t
	}

	var err error
	if c.New != nil {
		if cj.New, err = json.Marshal(c.New); err != nil {
			return nil, fmt.Errorf("failed to marshal change payload: %w", err)
		}
	}
	if c.Original != nil {
		if cj.Original, err = json.Marshal(c.Original); err != nil {
			return nil, fmt.Errorf("failed to marshal change original: %w", err)
		}
	}

	return json.Marshal(cj)
}

// UnmarshalJSON restores the change, decoding payloads into their
// concrete entity types.
func (c *Change) UnmarshalJSON(data []byte) error {
	var cj changeJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return err
	}

	c.ChangeID = cj.ChangeID
	c.EntityType = cj.EntityType
	c.Action = cj.Action
	c.GroupKey = cj.GroupKey
	c.Diff = cj.Diff
	c.PendingIssueID = cj.PendingIssueID
	c.MetadataOnly = cj.MetadataOnly
	c.RowHash = cj.RowHash
	c.Applied = cj.Applied
	if cj.AppliedAt != nil {
		c.AppliedAt = *cj.AppliedAt
	}

	var err error
	if len(cj.New) > 0 {
		if c.New, err = DecodeEntity(cj.EntityType, cj.New); err != nil {
			return err
		}
	}
	if len(cj.Original) > 0 {
		if c.Original, err = DecodeEntity(cj.EntityType, cj.Original); err != nil {
			return err
		}
	}

	return nil
}
