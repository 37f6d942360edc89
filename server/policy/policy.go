package policy

import (
	"fmt"
	"strings"

	"github.com/conect2ai/mmcloud-agent-development/server/models"
)

// Input carries everything the rule scorer looks at for one tick. RadarArea
// and MLScore are optional; nil simply contributes no score.
type Input struct {
	DriverBehavior string
	RoadType       string
	Speed          float64
	RadarArea      *float64
	MLScore        *float64
}

// Score breakpoints for the additive risk score.
const (
	radarAreaHigh     = 6000.0
	radarAreaModerate = 2000.0
	mlScoreHigh       = 0.7
	mlScoreModerate   = 0.5
	citySpeedLimit    = 60.0
	highwaySpeedLimit = 120.0
)

// Assess maps behavior and context onto a PolicyState. It is a pure
// function: deterministic, no I/O, no side effects.
func Assess(in Input) models.PolicyState {
	score := 0
	var reasons []string

	if in.RadarArea != nil {
		switch {
		case *in.RadarArea >= radarAreaHigh:
			score += 2
			reasons = append(reasons, "high radar area")
		case *in.RadarArea >= radarAreaModerate:
			score++
			reasons = append(reasons, "moderate radar area")
		}
	}

	if in.MLScore != nil {
		switch {
		case *in.MLScore >= mlScoreHigh:
			score += 2
			reasons = append(reasons, "high ml score")
		case *in.MLScore >= mlScoreModerate:
			score++
			reasons = append(reasons, "moderate ml score")
		}
	}

	switch strings.ToLower(in.RoadType) {
	case "city":
		if in.Speed > citySpeedLimit {
			score += 2
			reasons = append(reasons, "high speed in city")
		}
	case "highway":
		if in.Speed > highwaySpeedLimit {
			score++
			reasons = append(reasons, "high speed on highway")
		}
	}

	score += behaviorScore(in.DriverBehavior)
	if in.DriverBehavior != "" {
		reasons = append(reasons, fmt.Sprintf("behavior=%s", in.DriverBehavior))
	}

	switch {
	case score >= 5:
		return models.PolicyState{
			Behavior:   "Aggressive",
			Severity:   models.SeverityHigh,
			AdviceCode: models.AdviceReduceSpeed,
			Reasons:    reasons,
		}
	case score >= 3:
		return models.PolicyState{
			Behavior:   "Normal",
			Severity:   models.SeverityMedium,
			AdviceCode: models.AdviceReduceThrottle,
			Reasons:    reasons,
		}
	default:
		return models.PolicyState{
			Behavior:   "Cautious",
			Severity:   models.SeverityLow,
			AdviceCode: models.AdviceMaintain,
			Reasons:    reasons,
		}
	}
}

// behaviorScore weighs the live clustering label. A missing label counts as
// normal; anything else unknown counts as cautious.
func behaviorScore(behavior string) int {
	if behavior == "" {
		behavior = "normal"
	}
	switch strings.ToLower(behavior) {
	case "aggressive":
		return 2
	case "normal":
		return 1
	default:
		return 0
	}
}
