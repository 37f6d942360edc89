package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/conect2ai/mmcloud-agent-development/server/models"
)

// Result sources. The generator never panics or errors across its boundary:
// expected failure modes surface through Source instead.
const (
	SourceModel    = "model"
	SourceFallback = "fallback"
	SourceTimeout  = "timeout"
	SourceError    = "error"
)

// Result is the outcome of one advice-generation attempt. Message is never
// empty: when the model path fails the deterministic draft takes its place.
type Result struct {
	Message string         `json:"message"`
	Source  string         `json:"source"`
	Meta    map[string]any `json:"meta"`
}

const systemPrompt = "You are an in-car assistant. " +
	"Start with: 'Behavior: %s. PRF zone: %s.' " +
	"Be concise. No extra disclaimers. One short tip."

// Advise produces the advisory message for a policy/alerts pair. With a nil
// runtime it returns the rule-based draft immediately; otherwise it asks the
// completion server and falls back to the draft on timeout, error or empty
// output.
func Advise(ctx context.Context, pol models.PolicyState, alerts []models.Alert, rt *Runtime) Result {
	behavior := capitalize(pol.Behavior)
	risk := riskLabel(alerts)
	draft := ruleDraft(pol, alerts)

	if rt == nil {
		return Result{
			Message: ensureLabels(draft, behavior, risk),
			Source:  SourceFallback,
			Meta:    map[string]any{"agent_inserted_behavior_prf": true},
		}
	}

	prompt := buildPrompt(behavior, risk, draft, pol, alerts)
	start := time.Now()
	text, err := rt.Generate(ctx, prompt)
	latency := time.Since(start)

	if err != nil {
		source := SourceError
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			source = SourceTimeout
		}
		return Result{
			Message: ensureLabels(draft, behavior, risk),
			Source:  source,
			Meta: map[string]any{
				"agent_inserted_behavior_prf": true,
				"latency_ms":                  latency.Milliseconds(),
				"error":                       err.Error(),
			},
		}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return Result{
			Message: ensureLabels(draft, behavior, risk),
			Source:  SourceFallback,
			Meta: map[string]any{
				"agent_inserted_behavior_prf": true,
				"latency_ms":                  latency.Milliseconds(),
			},
		}
	}

	low := strings.ToLower(text)
	inserted := !(strings.Contains(low, "behavior:") && strings.Contains(low, "prf zone"))
	if inserted {
		text = ensureLabels(text, behavior, risk)
	}
	return Result{
		Message: text,
		Source:  SourceModel,
		Meta: map[string]any{
			"agent_inserted_behavior_prf": inserted,
			"latency_ms":                  latency.Milliseconds(),
		},
	}
}

func buildPrompt(behavior, risk, draft string, pol models.PolicyState, alerts []models.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, systemPrompt, behavior, risk)
	fmt.Fprintf(&b, "\nDraft: %s\nSeverity: %s.", draft, severityOrLow(pol))
	if len(alerts) > 0 {
		fmt.Fprintf(&b, " Alert: %s ~%dm %s.", alerts[0].Type, alerts[0].DistanceM, alerts[0].Direction)
	}
	return sanitizeASCII(b.String())
}

func severityOrLow(pol models.PolicyState) models.Severity {
	if pol.Severity == "" {
		return models.SeverityLow
	}
	return pol.Severity
}

// riskLabel summarizes the alert mix as one of "none", "accidents", "fines"
// or "accidents and fines".
func riskLabel(alerts []models.Alert) string {
	var hasAcc, hasFin bool
	for _, a := range alerts {
		switch a.Type {
		case models.AlertAccident:
			hasAcc = true
		case models.AlertFine:
			hasFin = true
		}
	}
	switch {
	case hasAcc && hasFin:
		return "accidents and fines"
	case hasAcc:
		return "accidents"
	case hasFin:
		return "fines"
	default:
		return "none"
	}
}

// ruleDraft is the deterministic advisory used when the model path is
// unavailable, and the seed the model rewrites when it is.
func ruleDraft(pol models.PolicyState, alerts []models.Alert) string {
	beh := strings.ToLower(pol.Behavior)
	if beh == "" {
		beh = "normal"
	}
	risky := riskLabel(alerts) != "none"

	switch {
	case beh == "aggressive" && risky:
		return "Aggressive driving in a risk zone. Slow down and increase space."
	case beh == "aggressive":
		return "Aggressive driving. Ease off throttle and avoid harsh braking."
	case beh == "cautious" && risky:
		return "Cautious driving in a risk zone. Keep attention; good for safety and economy."
	case beh == "cautious":
		return "Cautious driving, good for safety and fuel economy."
	case risky:
		return "Risk zone ahead. Stay alert and adjust speed."
	default:
		return "Driving within expected range. Maintain defensive driving."
	}
}

// ensureLabels guarantees the message starts with the explicit behavior and
// PRF-zone labels, prepending them when missing.
func ensureLabels(text, behavior, risk string) string {
	text = strings.TrimSpace(text)
	low := strings.ToLower(text)
	if strings.Contains(low, "behavior:") && strings.Contains(low, "prf zone:") {
		return text
	}
	prefix := fmt.Sprintf("Behavior: %s. PRF zone: %s.", behavior, risk)
	return strings.TrimSpace(prefix + " " + text)
}

func sanitizeASCII(s string) string {
	return strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		return r
	}, s)
}

func capitalize(s string) string {
	if s == "" {
		return "Normal"
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
