// Package match resolves incoming rows against the existing store through
// an ordered strategy cascade. A resolution is either a confident match,
// an explicit no-match, or an explicit ambiguity carrying the ranked
// candidates; the matcher never guesses.
package match

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/campusops/reconcile/pkg/identity"
	"github.com/campusops/reconcile/pkg/model"
	"github.com/campusops/reconcile/pkg/store"
)

// Status classifies a match result.
type Status int

const (
	// StatusMatched is a confident single match.
	StatusMatched Status = iota
	// StatusNone means no existing record could plausibly be the entity.
	StatusNone
	// StatusAmbiguous means more than one record could be the entity, or
	// a single weak signal was not trusted alone.
	StatusAmbiguous
)

// String returns a string representation of the match status.
func (s Status) String() string {
	switch s {
	case StatusMatched:
		return "matched"
	case StatusNone:
		return "none"
	case StatusAmbiguous:
		return "ambiguous"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// PersonResult is the outcome of resolving a person reference.
type PersonResult struct {
	Status     Status
	Person     *model.Person
	Strategy   string
	Reason     string
	Candidates []model.MatchCandidate
}

// SectionResult is the outcome of resolving a section.
type SectionResult struct {
	Status     Status
	Section    *model.Section
	MatchedKey string
	// CollisionWarning is set when more than one stored section shared
	// the matched key and a deterministic preference was applied.
	CollisionWarning string
}

// Config is the injected, immutable lookup configuration. It replaces
// process-wide tables so tenants can carry their own nickname and title
// conventions and tests stay isolated.
type Config struct {
	// Nicknames maps a lowercase given-name variant to its canonical
	// form ("bob" -> "robert").
	Nicknames map[string]string
}

// DefaultConfig returns the stock nickname table.
func DefaultConfig() Config {
	return Config{
		Nicknames: map[string]string{
			"bob":   "robert",
			"rob":   "robert",
			"bill":  "william",
			"will":  "william",
			"liz":   "elizabeth",
			"beth":  "elizabeth",
			"jim":   "james",
			"jamie": "james",
			"mike":  "michael",
			"kate":  "katherine",
			"kathy": "katherine",
			"tom":   "thomas",
			"dick":  "richard",
			"rick":  "richard",
			"peggy": "margaret",
			"meg":   "margaret",
		},
	}
}

// Matcher resolves persons, rooms, and sections against an immutable
// snapshot of the existing store, loaded once per transaction.
type Matcher struct {
	cfg       Config
	snap      *Snapshot
	threshold float64
	logger    *zap.Logger
}

// NewMatcher creates a matcher over a snapshot.
func NewMatcher(cfg Config, snap *Snapshot, threshold float64, logger *zap.Logger) *Matcher {
	if threshold <= 0 {
		threshold = 0.85
	}
	return &Matcher{
		cfg:       cfg,
		snap:      snap,
		threshold: threshold,
		logger:    logger.Named("matcher"),
	}
}

// Snapshot is the existing-entity index for one transaction's preview
// pass. It is built once and never mutated, so concurrent transactions
// can each hold their own without locking.
type Snapshot struct {
	personsByExternalID map[string]*model.Person
	personsByOrgID      map[string]*model.Person
	personsByEmail      map[string]*model.Person
	personsByName       map[string][]*model.Person
	personsBySurname    map[string][]*model.Person
	persons             []*model.Person

	roomsBySpaceKey map[string]*model.Room
	roomsByName     map[string]*model.Room

	// sectionsByKey indexes every identity key each section has ever
	// held, so a section is findable by any key it ever carried.
	sectionsByKey map[string][]*model.Section
}

// LoadSnapshot reads every person, room, and section from the store and
// builds the match indexes.
func LoadSnapshot(ctx context.Context, st store.Store, cfg Config) (*Snapshot, error) {
	snap := &Snapshot{
		personsByExternalID: make(map[string]*model.Person),
		personsByOrgID:      make(map[string]*model.Person),
		personsByEmail:      make(map[string]*model.Person),
		personsByName:       make(map[string][]*model.Person),
		personsBySurname:    make(map[string][]*model.Person),
		roomsBySpaceKey:     make(map[string]*model.Room),
		roomsByName:         make(map[string]*model.Room),
		sectionsByKey:       make(map[string][]*model.Section),
	}

	persons, err := st.List(ctx, model.EntityPerson)
	if err != nil {
		return nil, fmt.Errorf("failed to load persons: %w", err)
	}
	for _, e := range persons {
		snap.indexPerson(e.(*model.Person), cfg)
	}

	rooms, err := st.List(ctx, model.EntityRoom)
	if err != nil {
		return nil, fmt.Errorf("failed to load rooms: %w", err)
	}
	for _, e := range rooms {
		snap.indexRoom(e.(*model.Room))
	}

	sections, err := st.List(ctx, model.EntitySection)
	if err != nil {
		return nil, fmt.Errorf("failed to load sections: %w", err)
	}
	for _, e := range sections {
		snap.indexSection(e.(*model.Section))
	}

	return snap, nil
}

func (s *Snapshot) indexPerson(p *model.Person, cfg Config) {
	s.persons = append(s.persons, p)
	if p.ExternalID != "" {
		s.personsByExternalID[p.ExternalID] = p
	}
	if p.OrgID != "" {
		s.personsByOrgID[p.OrgID] = p
	}
	if p.Email != "" {
		s.personsByEmail[strings.ToLower(p.Email)] = p
	}

	name := normalizeFullName(p.FirstName, p.LastName, cfg)
	if name != "" {
		s.personsByName[name] = append(s.personsByName[name], p)
	}
	if surname := identity.NormalizeName(p.LastName); surname != "" {
		s.personsBySurname[surname] = append(s.personsBySurname[surname], p)
	}
}

func (s *Snapshot) indexRoom(r *model.Room) {
	if r.SpaceKey != "" {
		s.roomsBySpaceKey[r.SpaceKey] = r
	}
	if r.DisplayName != "" {
		s.roomsByName[identity.Slug(r.DisplayName)] = r
	}
}

func (s *Snapshot) indexSection(sec *model.Section) {
	for _, key := range sec.IdentityKeys {
		s.sectionsByKey[key] = append(s.sectionsByKey[key], sec)
	}
}

// normalizeFullName case-folds a name, strips middle initials, and
// canonicalizes nickname variants of the given name.
func normalizeFullName(first, last string, cfg Config) string {
	first = identity.NormalizeName(first)
	last = identity.NormalizeName(last)
	if first == "" && last == "" {
		return ""
	}

	// Drop middle-initial tokens ("jane e" -> "jane").
	tokens := strings.Fields(first)
	kept := tokens[:0]
	for _, t := range tokens {
		t = strings.TrimSuffix(t, ".")
		if len(t) <= 1 {
			continue
		}
		kept = append(kept, t)
	}
	first = strings.Join(kept, " ")

	if canonical, ok := cfg.Nicknames[first]; ok {
		first = canonical
	}

	return strings.TrimSpace(first + " " + last)
}

// rankCandidates orders candidates by descending score, then by id for
// determinism.
func rankCandidates(candidates []model.MatchCandidate) []model.MatchCandidate {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].PersonID < candidates[j].PersonID
	})
	return candidates
}
