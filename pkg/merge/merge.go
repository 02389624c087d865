// Package merge computes minimal, non-destructive field updates under the
// upsert policy: non-empty incoming values overwrite, empty values never
// erase, and structured fields are compared by normalized equivalence.
package merge

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/campusops/reconcile/pkg/identity"
	"github.com/campusops/reconcile/pkg/model"
)

// metadataFields are internal bookkeeping fields; a diff touching only
// these is recorded as "metadata-only" for summaries rather than as a
// real update.
var metadataFields = map[string]bool{
	"identityKeys":   true,
	"primaryKey":     true,
	"sourceRowHash":  true,
	"lastImportedAt": true,
}

// MetadataOnly reports whether every delta touches a bookkeeping field.
func MetadataOnly(deltas []model.FieldDelta) bool {
	if len(deltas) == 0 {
		return false
	}
	for _, d := range deltas {
		if !metadataFields[d.Field] {
			return false
		}
	}
	return true
}

// ApplySelected rebuilds a payload from the original record plus only the
// selected field deltas; unselected deltas are discarded, not deferred.
// A nil selection applies every delta.
func ApplySelected(original model.Entity, merged model.Entity, selected []string) (model.Entity, error) {
	if selected == nil {
		return merged.Clone(), nil
	}

	origMap, err := toMap(original)
	if err != nil {
		return nil, err
	}
	mergedMap, err := toMap(merged)
	if err != nil {
		return nil, err
	}

	for _, field := range selected {
		if v, ok := mergedMap[field]; ok {
			origMap[field] = v
		} else {
			delete(origMap, field)
		}
	}

	payload, err := json.Marshal(origMap)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild %s payload: %w", original.Type(), err)
	}
	return model.DecodeEntity(original.Type(), payload)
}

func toMap(e model.Entity) (map[string]json.RawMessage, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s %q: %w", e.Type(), e.ID(), err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// differ accumulates field deltas while building the merged record.
type differ struct {
	deltas []model.FieldDelta
}

func (d *differ) record(field string, oldV, newV interface{}) {
	d.deltas = append(d.deltas, model.FieldDelta{Field: field, Old: oldV, New: newV})
}

// mergeScalar overwrites dst with src when src is non-empty and differs
// after trimming.
func (d *differ) mergeScalar(field string, dst *string, src string) {
	src = strings.TrimSpace(src)
	if src == "" {
		return
	}
	if strings.TrimSpace(*dst) == src {
		return
	}
	d.record(field, *dst, src)
	*dst = src
}

// mergeInt overwrites dst when src is non-zero and differs. Zero is the
// empty value for counters; it never erases a stored count.
func (d *differ) mergeInt(field string, dst *int, src int) {
	if src == 0 || *dst == src {
		return
	}
	d.record(field, *dst, src)
	*dst = src
}

// mergeBool sets dst when src is true; the false zero value never clears
// a stored flag.
func (d *differ) mergeBool(field string, dst *bool, src bool) {
	if !src || *dst {
		return
	}
	d.record(field, *dst, src)
	*dst = src
}

// mergeStringSet overwrites dst when src is non-empty and differs as a
// set, ignoring order. normalize canonicalizes members before comparing.
func (d *differ) mergeStringSet(field string, dst *[]string, src []string, normalize func(string) string) {
	if len(src) == 0 {
		return
	}
	if stringSetEqual(*dst, src, normalize) {
		return
	}
	d.record(field, append([]string(nil), *dst...), append([]string(nil), src...))
	*dst = append([]string(nil), src...)
}

func stringSetEqual(a, b []string, normalize func(string) string) bool {
	if normalize == nil {
		normalize = func(s string) string { return s }
	}
	return setEqual(normalizeAll(a, normalize), normalizeAll(b, normalize))
}

func normalizeAll(in []string, normalize func(string) string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = normalize(s)
	}
	sort.Strings(out)
	return out
}

func setEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// meetingTokens canonicalizes meeting patterns for set comparison.
func meetingTokens(meetings []model.MeetingPattern) []string {
	tokens := make([]string, len(meetings))
	for i, m := range meetings {
		tokens[i] = identity.MeetingToken(m)
	}
	sort.Strings(tokens)
	return tokens
}

// assignmentTokens canonicalizes instructor assignments as
// (person id, rounded load %, primary flag) for set comparison.
func assignmentTokens(assignments []model.InstructorAssignment) []string {
	tokens := make([]string, len(assignments))
	for i, a := range assignments {
		tokens[i] = fmt.Sprintf("%s:%d:%t", a.PersonID, int(math.Round(a.LoadPercent)), a.Primary)
	}
	sort.Strings(tokens)
	return tokens
}
