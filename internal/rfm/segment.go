package rfm

import (
	"github.com/opensource-finance/heron/internal/domain"
)

// segmentRule pairs a predicate with the label it assigns. The ladder is
// evaluated top to bottom and the first match wins, so a customer matching
// several predicates is classified by the earliest rule only.
type segmentRule struct {
	label string
	match func(s *domain.CustomerScore) bool
}

var bestScores = map[string]bool{
	"444": true,
	"434": true,
	"443": true,
	"433": true,
}

var segmentLadder = []segmentRule{
	{domain.SegmentBest, func(s *domain.CustomerScore) bool { return bestScores[s.RFMScore] }},
	{domain.SegmentRecent, func(s *domain.CustomerScore) bool { return s.RScore == 4 }},
	{domain.SegmentLoyal, func(s *domain.CustomerScore) bool { return s.FScore == 4 }},
	{domain.SegmentSpender, func(s *domain.CustomerScore) bool { return s.MScore == 4 }},
	{domain.SegmentLost, func(s *domain.CustomerScore) bool { return s.RScore == 1 }},
}

// AssignSegments labels every record with exactly one behavioral segment.
// The ladder is total: records matching no rule fall through to the
// average segment.
func (e *Engine) AssignSegments(scores []*domain.CustomerScore) {
	for _, s := range scores {
		s.Segment = segmentFor(s)
	}
}

func segmentFor(s *domain.CustomerScore) string {
	for _, rule := range segmentLadder {
		if rule.match(s) {
			return rule.label
		}
	}
	return domain.SegmentAverage
}
