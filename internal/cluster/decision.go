package cluster

// Decision is the outcome for one processed node.
type Decision int

const (
	DecisionSkippedMissing Decision = iota
	DecisionSkippedLowMass
	DecisionJoined
	DecisionJoinedDominant
	DecisionAggregator
	DecisionSeeded
	DecisionInsufficient
)

var decisionNames = [...]string{
	DecisionSkippedMissing: "skipped_missing",
	DecisionSkippedLowMass: "skipped_low_mass",
	DecisionJoined:         "joined",
	DecisionJoinedDominant: "joined_dominant",
	DecisionAggregator:     "aggregator",
	DecisionSeeded:         "seeded",
	DecisionInsufficient:   "insufficient",
}

func (d Decision) String() string {
	if d < 0 || int(d) >= len(decisionNames) {
		return "unknown"
	}
	return decisionNames[d]
}

// Stats counts clustering decisions.
type Stats struct {
	Processed        int `json:"processed"`
	SkippedMissing   int `json:"skipped_missing"`
	SkippedLowMass   int `json:"skipped_low_mass"`
	Joined           int `json:"joined"`
	JoinedDominant   int `json:"joined_dominant"`
	Aggregators      int `json:"aggregators"`
	Seeded           int `json:"seeded"`
	Insufficient     int `json:"insufficient"`
	Clusters         int `json:"clusters"`
	ReportedClusters int `json:"reported_clusters"`
	ClusteredNodes   int `json:"clustered_nodes"`
}

// record counts one processed node under its decision.
func (s *Stats) record(d Decision) {
	s.Processed++
	switch d {
	case DecisionSkippedMissing:
		s.SkippedMissing++
	case DecisionSkippedLowMass:
		s.SkippedLowMass++
	case DecisionJoined:
		s.Joined++
	case DecisionJoinedDominant:
		s.JoinedDominant++
	case DecisionAggregator:
		s.Aggregators++
	case DecisionSeeded:
		s.Seeded++
	case DecisionInsufficient:
		s.Insufficient++
	}
}

// ByDecision returns the decision counts keyed by decision name.
func (s Stats) ByDecision() map[string]int {
	return map[string]int{
		DecisionSkippedMissing.String(): s.SkippedMissing,
		DecisionSkippedLowMass.String(): s.SkippedLowMass,
		DecisionJoined.String():         s.Joined,
		DecisionJoinedDominant.String(): s.JoinedDominant,
		DecisionAggregator.String():     s.Aggregators,
		DecisionSeeded.String():         s.Seeded,
		DecisionInsufficient.String():   s.Insufficient,
	}
}
