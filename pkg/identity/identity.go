// Package identity derives deterministic identity keys and record ids
// from normalized import rows. Keys are ordered strongest first; the
// first derived key is the primary key and mints the record id for
// lazily created records.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/campusops/reconcile/pkg/model"
)

// Key prefixes, strongest first.
const (
	PrefixExternalID      = "externalId"
	PrefixReferenceNumber = "referenceNumber"
	PrefixNaturalKey      = "naturalKey"
	PrefixComposite       = "composite"
)

// KeyRank returns the strength rank of an identity key; higher is
// stronger. The primary-key field of a stored section is only replaced by
// an equal-or-stronger-ranked key.
func KeyRank(key string) int {
	switch {
	case strings.HasPrefix(key, PrefixExternalID+":"):
		return 3
	case strings.HasPrefix(key, PrefixReferenceNumber+":"):
		return 2
	case strings.HasPrefix(key, PrefixNaturalKey+":"):
		return 1
	case strings.HasPrefix(key, PrefixComposite+":"):
		return 0
	default:
		return -1
	}
}

// SectionKeys derives the ordered candidate identity keys for a schedule
// row, strongest first. The natural key is always present; the composite
// meeting/room key is the fallback of last resort.
func SectionKeys(sr model.SectionRow) []string {
	term := NormalizeTerm(sr.Term)
	keys := make([]string, 0, 4)

	if sr.ExternalID != "" {
		keys = append(keys, fmt.Sprintf("%s:%s:%s", PrefixExternalID, term, strings.TrimSpace(sr.ExternalID)))
	}
	if sr.ReferenceNumber != "" && model.ValidReferenceNumber(sr.ReferenceNumber) {
		keys = append(keys, fmt.Sprintf("%s:%s:%s", PrefixReferenceNumber, term, sr.ReferenceNumber))
	}

	keys = append(keys, NaturalKey(sr.Course, sr.SectionNumber, sr.Term))

	keys = append(keys, fmt.Sprintf("%s:%s:%s:%s:%s",
		PrefixComposite,
		normalizeToken(sr.Course),
		term,
		MeetingHash(sr.Meetings),
		RoomSetHash(sr.RoomNames)))

	return keys
}

// NaturalKey builds the domain-meaningful course+section+term key with
// normalized case and whitespace.
func NaturalKey(course, section, term string) string {
	return fmt.Sprintf("%s:%s:%s:%s",
		PrefixNaturalKey, normalizeToken(course), normalizeToken(section), NormalizeTerm(term))
}

// SectionID mints the deterministic record id for a section from its
// primary identity key.
func SectionID(primaryKey string) string {
	return "sec_" + shortHash(primaryKey)
}

// PersonID mints a deterministic record id for a lazily created person
// from its strongest identity signal.
func PersonID(p *model.Person) string {
	switch {
	case p.ExternalID != "":
		return "per_" + shortHash("externalId:"+p.ExternalID)
	case p.Email != "":
		return "per_" + shortHash("email:"+strings.ToLower(p.Email))
	default:
		return "per_" + shortHash("name:"+NormalizeName(p.FullName()))
	}
}

// RoomKey derives the deterministic space key for a room: building code +
// space number when both are present, otherwise a slug of the normalized
// display name.
func RoomKey(building, spaceNumber, displayName string) string {
	if building != "" && spaceNumber != "" {
		return Slug(building) + "_" + Slug(spaceNumber)
	}
	return Slug(displayName)
}

// MeetingHash hashes a canonicalized, sorted representation of the
// meeting patterns so equivalent schedules derive equal keys.
func MeetingHash(meetings []model.MeetingPattern) string {
	if len(meetings) == 0 {
		return "none"
	}
	tokens := make([]string, 0, len(meetings))
	for _, m := range meetings {
		tokens = append(tokens, MeetingToken(m))
	}
	sort.Strings(tokens)
	return shortHash(strings.Join(tokens, "|"))
}

// MeetingToken renders one meeting pattern in canonical form:
// sorted days joined with commas, then start-end.
func MeetingToken(m model.MeetingPattern) string {
	days := append([]string(nil), m.Days...)
	sort.Strings(days)
	return fmt.Sprintf("%s:%s-%s", strings.Join(days, ","), m.StartTime, m.EndTime)
}

// RoomSetHash hashes the sorted normalized room identifiers.
func RoomSetHash(roomNames []string) string {
	if len(roomNames) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(roomNames))
	for _, name := range roomNames {
		keys = append(keys, Slug(name))
	}
	sort.Strings(keys)
	return shortHash(strings.Join(keys, "|"))
}

// RowContentHash hashes a row's field map for idempotent re-import
// detection. Field order never affects the hash.
func RowContentHash(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s\n", k, strings.TrimSpace(fields[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeTerm strips whitespace from a term label: "Spring 2026" and
// "spring 2026" both derive "Spring2026"-style tokens with original case
// preserved for the canonical spelling.
func NormalizeTerm(term string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(term)), "")
}

// NormalizeName case-folds a name and collapses interior whitespace.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// Slug lowercases a label and replaces every non-alphanumeric run with a
// single underscore: "Goebel Building 101" -> "goebel_building_101".
func Slug(s string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// normalizeToken lowercases and collapses whitespace inside a key token,
// and strips the separator character so tokens cannot collide across
// positions.
func normalizeToken(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return strings.ReplaceAll(s, ":", "")
}

// shortHash returns a 20-hex-char sha256 prefix, enough to be collision
// safe at campus scale while keeping ids readable in logs.
func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:20]
}
