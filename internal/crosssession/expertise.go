package crosssession

import (
	"strings"

	"github.com/Rev4nchist/agent-arch/internal/memory"
)

type Expertise string

const (
	Beginner     Expertise = "beginner"
	Intermediate Expertise = "intermediate"
	Advanced     Expertise = "advanced"
	Expert       Expertise = "expert"
)

func ParseExpertise(v string) (Expertise, bool) {
	switch e := Expertise(strings.ToLower(strings.TrimSpace(v))); e {
	case Beginner, Intermediate, Advanced, Expert:
		return e, true
	default:
		return "", false
	}
}

// ExpertiseThresholds bound the classification buckets. Users between
// BeginnerBelow and AdvancedMinQueries total queries are intermediate.
type ExpertiseThresholds struct {
	BeginnerBelow        int
	AdvancedMinQueries   int
	ExpertMinQueries     int
	ExpertTechnicalRatio float64
}

func DefaultExpertiseThresholds() ExpertiseThresholds {
	return ExpertiseThresholds{
		BeginnerBelow:        10,
		AdvancedMinQueries:   50,
		ExpertMinQueries:     100,
		ExpertTechnicalRatio: 0.6,
	}
}

// Classify maps long-run query counters onto an expertise level.
func (th ExpertiseThresholds) Classify(totalQueries, technicalQueries int) Expertise {
	switch {
	case totalQueries >= th.ExpertMinQueries &&
		float64(technicalQueries)/float64(totalQueries) >= th.ExpertTechnicalRatio:
		return Expert
	case totalQueries < th.BeginnerBelow:
		return Beginner
	case totalQueries >= th.AdvancedMinQueries:
		return Advanced
	default:
		return Intermediate
	}
}

// ClassifyExpertise uses an explicit expertise_level preference when it
// names a known level, otherwise the profile counters. A nil profile is
// intermediate.
func ClassifyExpertise(p *memory.UserProfile, th ExpertiseThresholds) Expertise {
	if p == nil {
		return Intermediate
	}
	if e, ok := ParseExpertise(p.Preferences[memory.PrefExpertiseLevel]); ok {
		return e
	}
	return th.Classify(p.Patterns.TotalQueries, p.Patterns.TechnicalQueries)
}
