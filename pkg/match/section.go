package match

import (
	"fmt"

	"go.uber.org/zap"
)

// MatchSection tries each candidate identity key, strongest first,
// against the index of every key every stored section has ever held.
// When more than one stored section shares a key, the most recently
// updated one (ties broken by greatest id) is preferred deterministically
// and a collision warning is attached rather than failing the row.
func (m *Matcher) MatchSection(candidateKeys []string) SectionResult {
	for _, key := range candidateKeys {
		hits := m.snap.sectionsByKey[key]
		if len(hits) == 0 {
			continue
		}

		preferred := hits[0]
		for _, s := range hits[1:] {
			if s.UpdatedAt.After(preferred.UpdatedAt) ||
				(s.UpdatedAt.Equal(preferred.UpdatedAt) && s.ID() > preferred.ID()) {
				preferred = s
			}
		}

		result := SectionResult{
			Status:     StatusMatched,
			Section:    preferred,
			MatchedKey: key,
		}

		if len(hits) > 1 {
			result.CollisionWarning = fmt.Sprintf(
				"identity key %q is held by %d sections; using %s (most recently updated)",
				key, len(hits), preferred.ID())
			m.logger.Warn("Identity key collision",
				zap.String("key", key),
				zap.Int("sections", len(hits)),
				zap.String("preferred", preferred.ID()))
		}

		return result
	}

	return SectionResult{Status: StatusNone}
}
