package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/conect2ai/mmcloud-agent-development/server/models"
)

func f(v float64) *float64 { return &v }

func TestAssessTiers(t *testing.T) {
	tests := []struct {
		name       string
		in         Input
		behavior   string
		severity   models.Severity
		adviceCode models.AdviceCode
	}{
		{
			name: "aggressive city speeding with high radar area",
			in: Input{
				DriverBehavior: "aggressive",
				RoadType:       "city",
				Speed:          80,
				RadarArea:      f(7000),
			},
			behavior:   "Aggressive",
			severity:   models.SeverityHigh,
			adviceCode: models.AdviceReduceSpeed,
		},
		{
			name: "moderate signals add up to the middle tier",
			in: Input{
				DriverBehavior: "normal",
				RadarArea:      f(3000),
				MLScore:        f(0.6),
			},
			behavior:   "Normal",
			severity:   models.SeverityMedium,
			adviceCode: models.AdviceReduceThrottle,
		},
		{
			name:       "quiet tick stays cautious",
			in:         Input{DriverBehavior: "normal", RoadType: "city", Speed: 40},
			behavior:   "Cautious",
			severity:   models.SeverityLow,
			adviceCode: models.AdviceMaintain,
		},
		{
			name: "highway speeding scores less than city speeding",
			in: Input{
				DriverBehavior: "normal",
				RoadType:       "highway",
				Speed:          130,
			},
			behavior:   "Cautious",
			severity:   models.SeverityLow,
			adviceCode: models.AdviceMaintain,
		},
		{
			name: "high ml score plus aggressive behavior and city speeding",
			in: Input{
				DriverBehavior: "aggressive",
				RoadType:       "city",
				Speed:          70,
				MLScore:        f(0.9),
			},
			behavior:   "Aggressive",
			severity:   models.SeverityHigh,
			adviceCode: models.AdviceReduceSpeed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Assess(tt.in)
			assert.Equal(t, tt.behavior, out.Behavior)
			assert.Equal(t, tt.severity, out.Severity)
			assert.Equal(t, tt.adviceCode, out.AdviceCode)
		})
	}
}

func TestAssessMissingBehaviorCountsAsNormal(t *testing.T) {
	out := Assess(Input{})

	assert.Equal(t, "Cautious", out.Behavior)
	assert.NotContains(t, out.Reasons, "behavior=")

	// Same score as an explicit normal label.
	explicit := Assess(Input{DriverBehavior: "normal", RadarArea: f(3000), MLScore: f(0.6)})
	implicit := Assess(Input{RadarArea: f(3000), MLScore: f(0.6)})
	assert.Equal(t, explicit.Severity, implicit.Severity)
}

func TestAssessDeterministic(t *testing.T) {
	in := Input{DriverBehavior: "cautious", RoadType: "city", Speed: 90, RadarArea: f(2500)}

	first := Assess(in)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Assess(in))
	}
}
