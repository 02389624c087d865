package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ImportRow is one source record after parsing: a flat field→value map
// with an injected row index and content hash. Parsing raw files into
// rows happens upstream; everything downstream consumes the typed
// extraction below.
type ImportRow struct {
	Index  int               `json:"index"`
	Hash   string            `json:"hash"`
	Fields map[string]string `json:"fields"`
}

// Field returns the trimmed value of a row field, "" when absent.
func (r ImportRow) Field(name string) string {
	return strings.TrimSpace(r.Fields[name])
}

// RowValidationError marks a row that cannot be imported. The row is
// skipped with the reason recorded in lineage; the import continues.
type RowValidationError struct {
	Field  string
	Reason string
}

func (e *RowValidationError) Error() string {
	return fmt.Sprintf("invalid row: field %q: %s", e.Field, e.Reason)
}

// referenceNumberPattern accepts the registrar's 4-6 digit reference
// numbers. Malformed values are dropped from identity derivation rather
// than failing the row.
var referenceNumberPattern = regexp.MustCompile(`^\d{4,6}$`)

// ValidReferenceNumber reports whether v is a format-valid reference number.
func ValidReferenceNumber(v string) bool {
	return referenceNumberPattern.MatchString(v)
}

// InstructorRef is one instructor mention on a schedule row, before the
// person has been matched or created.
type InstructorRef struct {
	LastName    string
	FirstName   string
	ExternalID  string
	Primary     bool
	LoadPercent float64
}

// SectionRow is the typed form of a schedule-export row.
type SectionRow struct {
	Row ImportRow

	Course          string
	SectionNumber   string
	Term            string
	ExternalID      string
	ReferenceNumber string

	Instructors []InstructorRef
	RoomNames   []string
	Meetings    []MeetingPattern

	Enrollment int
	Capacity   int
	Status     string

	// NoRoomNeeded is set when the extract explicitly marks the section
	// roomless, as opposed to merely leaving the room blank.
	NoRoomNeeded bool
}

// PersonRow is the typed form of a personnel-directory row.
type PersonRow struct {
	Row ImportRow

	ExternalID string
	OrgID      string
	Email      string
	FirstName  string
	MiddleName string
	LastName   string
	Title      string
	Phone      string
	Office     string
	Roles      []string
}

// ExtractSectionRow converts a loosely-typed schedule row into its typed
// form, validating required fields.
func ExtractSectionRow(row ImportRow) (SectionRow, error) {
	sr := SectionRow{
		Row:             row,
		Course:          row.Field("course"),
		SectionNumber:   row.Field("section"),
		Term:            row.Field("term"),
		ExternalID:      row.Field("externalId"),
		ReferenceNumber: row.Field("referenceNumber"),
		Status:          row.Field("status"),
	}

	if sr.Course == "" {
		return sr, &RowValidationError{Field: "course", Reason: "required field is missing"}
	}
	if sr.SectionNumber == "" {
		return sr, &RowValidationError{Field: "section", Reason: "required field is missing"}
	}
	if sr.Term == "" {
		return sr, &RowValidationError{Field: "term", Reason: "required field is missing"}
	}
	if sr.ReferenceNumber != "" && !ValidReferenceNumber(sr.ReferenceNumber) {
		return sr, &RowValidationError{Field: "referenceNumber", Reason: fmt.Sprintf("malformed value %q", sr.ReferenceNumber)}
	}

	instructors, err := ParseInstructors(row.Field("instructors"))
	if err != nil {
		return sr, &RowValidationError{Field: "instructors", Reason: err.Error()}
	}
	sr.Instructors = instructors

	sr.RoomNames = splitList(row.Field("rooms"))
	if strings.EqualFold(row.Field("roomRequired"), "none") {
		sr.NoRoomNeeded = true
	}

	meetings, err := ParseMeetings(row.Field("meetings"))
	if err != nil {
		return sr, &RowValidationError{Field: "meetings", Reason: err.Error()}
	}
	sr.Meetings = meetings

	sr.Enrollment = parseIntField(row.Field("enrollment"))
	sr.Capacity = parseIntField(row.Field("capacity"))

	return sr, nil
}

// ExtractPersonRow converts a loosely-typed directory row into its typed
// form, validating required fields.
func ExtractPersonRow(row ImportRow) (PersonRow, error) {
	pr := PersonRow{
		Row:        row,
		ExternalID: row.Field("externalId"),
		OrgID:      row.Field("orgId"),
		Email:      strings.ToLower(row.Field("email")),
		FirstName:  row.Field("firstName"),
		MiddleName: row.Field("middleName"),
		LastName:   row.Field("lastName"),
		Title:      row.Field("title"),
		Phone:      row.Field("phone"),
		Office:     row.Field("office"),
		Roles:      splitList(row.Field("roles")),
	}

	if pr.LastName == "" {
		return pr, &RowValidationError{Field: "lastName", Reason: "required field is missing"}
	}
	if pr.ExternalID == "" && pr.OrgID == "" && pr.Email == "" && pr.FirstName == "" {
		return pr, &RowValidationError{Field: "externalId", Reason: "row carries no usable identity signal"}
	}

	return pr, nil
}

// instructorPattern matches one instructor mention:
//
//	Doe, Jane (123456789) [Primary, 100%]
//	Smith, John [40%]
//	Adams, Roy
var instructorPattern = regexp.MustCompile(`^([^,(\[]+)(?:,\s*([^(\[]+))?\s*(?:\((\d+)\))?\s*(?:\[([^\]]*)\])?$`)

// ParseInstructors splits an instructor field into structured references.
// Mentions are separated by " / ". An empty field yields no instructors.
func ParseInstructors(field string) ([]InstructorRef, error) {
	if field == "" {
		return nil, nil
	}

	parts := strings.Split(field, "/")
	refs := make([]InstructorRef, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		m := instructorPattern.FindStringSubmatch(part)
		if m == nil {
			return nil, fmt.Errorf("unparseable instructor %q", part)
		}

		ref := InstructorRef{
			LastName:   strings.TrimSpace(m[1]),
			FirstName:  strings.TrimSpace(m[2]),
			ExternalID: m[3],
		}

		// Bracket annotations: primary flag and load percentage.
		for _, token := range strings.Split(m[4], ",") {
			token = strings.TrimSpace(token)
			switch {
			case token == "":
			case strings.EqualFold(token, "primary"):
				ref.Primary = true
			case strings.HasSuffix(token, "%"):
				pct, err := strconv.ParseFloat(strings.TrimSuffix(token, "%"), 64)
				if err != nil {
					return nil, fmt.Errorf("unparseable load %q for instructor %q", token, part)
				}
				ref.LoadPercent = pct
			default:
				return nil, fmt.Errorf("unknown instructor annotation %q", token)
			}
		}

		// A lone instructor with no annotation is the primary at full load.
		if len(parts) == 1 && m[4] == "" {
			ref.Primary = true
			ref.LoadPercent = 100
		}

		refs = append(refs, ref)
	}

	return refs, nil
}

// ParseMeetings parses a meeting field of the form
// "MW 0900-0950; TR 1100-1215" into structured patterns.
func ParseMeetings(field string) ([]MeetingPattern, error) {
	if field == "" {
		return nil, nil
	}

	blocks := strings.Split(field, ";")
	meetings := make([]MeetingPattern, 0, len(blocks))

	for _, block := range blocks {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}

		fields := strings.Fields(block)
		if len(fields) != 2 {
			return nil, fmt.Errorf("unparseable meeting block %q", block)
		}

		times := strings.SplitN(fields[1], "-", 2)
		if len(times) != 2 {
			return nil, fmt.Errorf("unparseable meeting time %q", fields[1])
		}

		meetings = append(meetings, MeetingPattern{
			Days:      SplitDays(fields[0]),
			StartTime: times[0],
			EndTime:   times[1],
		})
	}

	return meetings, nil
}

// SplitDays expands a compact day string ("MWF", "TR") into day tokens.
// "R" is Thursday per the registrar convention.
func SplitDays(s string) []string {
	days := make([]string, 0, len(s))
	runes := []rune(strings.ToUpper(s))
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case 'M':
			days = append(days, "Mon")
		case 'T':
			days = append(days, "Tue")
		case 'W':
			days = append(days, "Wed")
		case 'R':
			days = append(days, "Thu")
		case 'F':
			days = append(days, "Fri")
		case 'S':
			// "Sa"/"Su" pairs
			if i+1 < len(runes) && (runes[i+1] == 'A' || runes[i+1] == 'U') {
				if runes[i+1] == 'A' {
					days = append(days, "Sat")
				} else {
					days = append(days, "Sun")
				}
				i++
			} else {
				days = append(days, "Sat")
			}
		}
	}
	return days
}

// splitList splits a multi-value field on ";" and trims entries.
func splitList(field string) []string {
	if field == "" {
		return nil
	}
	parts := strings.Split(field, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseIntField parses an optional numeric field, returning 0 when absent
// or malformed; enrollment counters never fail a row.
func parseIntField(v string) int {
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
