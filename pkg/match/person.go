package match

import (
	"fmt"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"go.uber.org/zap"

	"github.com/campusops/reconcile/pkg/identity"
	"github.com/campusops/reconcile/pkg/model"
)

// PersonQuery carries the identity signals of one incoming person
// mention, in decreasing trust order.
type PersonQuery struct {
	ExternalID string
	OrgID      string
	Email      string
	FirstName  string
	LastName   string
	Title      string
}

// MatchKey returns the key ambiguity issues are deduplicated on: the
// normalized email when present, otherwise the normalized full name.
func (q PersonQuery) MatchKey() string {
	if q.Email != "" {
		return "email:" + strings.ToLower(q.Email)
	}
	return "name:" + identity.NormalizeName(strings.TrimSpace(q.FirstName+" "+q.LastName))
}

// MatchPerson runs the person strategy cascade: external-ID exact, org-ID
// exact, email exact, normalized-name exact, fuzzy name similarity with a
// uniqueness check, unique surname, and title disambiguation. A tie at
// any stage is returned as ambiguous, never guessed.
func (m *Matcher) MatchPerson(q PersonQuery) PersonResult {
	if q.ExternalID != "" {
		if p, ok := m.snap.personsByExternalID[q.ExternalID]; ok {
			return matched(p, "externalId")
		}
	}

	if q.OrgID != "" {
		if p, ok := m.snap.personsByOrgID[q.OrgID]; ok {
			return matched(p, "orgId")
		}
	}

	if q.Email != "" {
		if p, ok := m.snap.personsByEmail[strings.ToLower(q.Email)]; ok {
			return matched(p, "email")
		}
	}

	name := normalizeFullName(q.FirstName, q.LastName, m.cfg)
	if name == "" {
		return PersonResult{Status: StatusNone, Reason: "no name signal"}
	}

	if hits := m.snap.personsByName[name]; len(hits) == 1 {
		return matched(hits[0], "exactName")
	} else if len(hits) > 1 {
		return ambiguous(fmt.Sprintf("%d records share the name %q", len(hits), name),
			nameCandidates(hits, 1.0, "exact name match"))
	}

	if res, done := m.fuzzyName(name); done {
		return res
	}

	return m.surname(q, name)
}

// fuzzyName scans the snapshot for names within the similarity threshold.
// Exactly one hit is a match; two or more is an ambiguity.
func (m *Matcher) fuzzyName(name string) (PersonResult, bool) {
	var hits []model.MatchCandidate
	var hitPersons []*model.Person

	for indexed, persons := range m.snap.personsByName {
		score := nameSimilarity(name, indexed)
		if score < m.threshold {
			continue
		}
		for _, p := range persons {
			hits = append(hits, model.MatchCandidate{
				PersonID: p.ID(),
				Display:  p.FullName(),
				Score:    score,
				Reason:   fmt.Sprintf("name similarity %.2f", score),
			})
			hitPersons = append(hitPersons, p)
		}
	}

	switch len(hits) {
	case 0:
		return PersonResult{}, false
	case 1:
		m.logger.Debug("Fuzzy name match",
			zap.String("query", name),
			zap.String("personId", hitPersons[0].ID()),
			zap.Float64("score", hits[0].Score))
		return matched(hitPersons[0], "fuzzyName"), true
	default:
		return ambiguous(
			fmt.Sprintf("%d records within similarity threshold of %q", len(hits), name),
			rankCandidates(hits)), true
	}
}

// surname applies the weakest stages: a unique surname match, then title
// disambiguation among multiple surname matches.
func (m *Matcher) surname(q PersonQuery, name string) PersonResult {
	surname := identity.NormalizeName(q.LastName)
	hits := m.snap.personsBySurname[surname]

	switch len(hits) {
	case 0:
		return PersonResult{Status: StatusNone, Reason: fmt.Sprintf("no record matches %q", name)}
	case 1:
		return matched(hits[0], "uniqueSurname")
	}

	if q.Title != "" {
		var titleHits []*model.Person
		for _, p := range hits {
			if identity.NormalizeName(p.Title) == identity.NormalizeName(q.Title) {
				titleHits = append(titleHits, p)
			}
		}
		if len(titleHits) == 1 {
			return matched(titleHits[0], "surnameTitle")
		}
	}

	return ambiguous(
		fmt.Sprintf("%d records share the surname %q", len(hits), surname),
		nameCandidates(hits, 0.5, "shared surname"))
}

// nameSimilarity is normalized Levenshtein similarity in [0, 1].
func nameSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 0
	}
	dist := fuzzy.LevenshteinDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

func matched(p *model.Person, strategy string) PersonResult {
	return PersonResult{Status: StatusMatched, Person: p, Strategy: strategy}
}

func ambiguous(reason string, candidates []model.MatchCandidate) PersonResult {
	return PersonResult{Status: StatusAmbiguous, Reason: reason, Candidates: candidates}
}

func nameCandidates(persons []*model.Person, score float64, reason string) []model.MatchCandidate {
	out := make([]model.MatchCandidate, 0, len(persons))
	for _, p := range persons {
		out = append(out, model.MatchCandidate{
			PersonID: p.ID(),
			Display:  p.FullName(),
			Score:    score,
			Reason:   reason,
		})
	}
	return rankCandidates(out)
}
