package advisor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conect2ai/mmcloud-agent-development/server/models"
)

func accidentAlert() models.Alert {
	return models.Alert{Type: models.AlertAccident, DistanceM: 120, Direction: models.DirectionAhead, Confidence: 0.85}
}

func fineAlert() models.Alert {
	return models.Alert{Type: models.AlertFine, DistanceM: 340, Direction: models.DirectionAhead, Confidence: 0.75}
}

func TestRiskLabel(t *testing.T) {
	assert.Equal(t, "none", riskLabel(nil))
	assert.Equal(t, "accidents", riskLabel([]models.Alert{accidentAlert()}))
	assert.Equal(t, "fines", riskLabel([]models.Alert{fineAlert()}))
	assert.Equal(t, "accidents and fines", riskLabel([]models.Alert{fineAlert(), accidentAlert()}))
}

func TestRuleDraft(t *testing.T) {
	tests := []struct {
		behavior string
		alerts   []models.Alert
		want     string
	}{
		{"aggressive", []models.Alert{accidentAlert()}, "Aggressive driving in a risk zone. Slow down and increase space."},
		{"Aggressive", nil, "Aggressive driving. Ease off throttle and avoid harsh braking."},
		{"cautious", []models.Alert{fineAlert()}, "Cautious driving in a risk zone. Keep attention; good for safety and economy."},
		{"cautious", nil, "Cautious driving, good for safety and fuel economy."},
		{"normal", []models.Alert{accidentAlert()}, "Risk zone ahead. Stay alert and adjust speed."},
		{"", nil, "Driving within expected range. Maintain defensive driving."},
	}

	for _, tt := range tests {
		got := ruleDraft(models.PolicyState{Behavior: tt.behavior}, tt.alerts)
		assert.Equal(t, tt.want, got, "behavior=%q alerts=%d", tt.behavior, len(tt.alerts))
	}
}

func TestEnsureLabels(t *testing.T) {
	labeled := "Behavior: Normal. PRF zone: none. Drive on."
	assert.Equal(t, labeled, ensureLabels(labeled, "Normal", "none"))

	got := ensureLabels("Drive on.", "Aggressive", "accidents")
	assert.True(t, strings.HasPrefix(got, "Behavior: Aggressive. PRF zone: accidents."), got)
	assert.Contains(t, got, "Drive on.")
}

func TestSanitizeASCII(t *testing.T) {
	assert.Equal(t, "ateno na rodovia", sanitizeASCII("atenção na rodovia"))
	assert.Equal(t, "plain", sanitizeASCII("plain"))
}

func TestCapitalize(t *testing.T) {
	assert.Equal(t, "Normal", capitalize(""))
	assert.Equal(t, "Aggressive", capitalize("aggressive"))
	assert.Equal(t, "Cautious", capitalize("CAUTIOUS"))
}

func TestAdviseNilRuntimeFallsBack(t *testing.T) {
	res := Advise(context.Background(), models.PolicyState{Behavior: "Normal"}, nil, nil)

	assert.Equal(t, SourceFallback, res.Source)
	assert.True(t, strings.HasPrefix(res.Message, "Behavior: Normal. PRF zone: none."), res.Message)
	assert.NotEmpty(t, res.Message)
	assert.Equal(t, true, res.Meta["agent_inserted_behavior_prf"])
}

func TestAdviseModelSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":"Behavior: Normal. PRF zone: accidents. Keep distance."}`))
	}))
	defer srv.Close()

	rt := NewRuntime(RuntimeConfig{URL: srv.URL}, nil)
	res := Advise(context.Background(), models.PolicyState{Behavior: "normal"}, []models.Alert{accidentAlert()}, rt)

	assert.Equal(t, SourceModel, res.Source)
	assert.Equal(t, "Behavior: Normal. PRF zone: accidents. Keep distance.", res.Message)
	assert.Equal(t, false, res.Meta["agent_inserted_behavior_prf"])
	assert.Contains(t, res.Meta, "latency_ms")
}

func TestAdviseModelMissingLabelsGetsPrefixed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":"Keep your distance and ease off."}`))
	}))
	defer srv.Close()

	rt := NewRuntime(RuntimeConfig{URL: srv.URL}, nil)
	res := Advise(context.Background(), models.PolicyState{Behavior: "aggressive"}, []models.Alert{fineAlert()}, rt)

	assert.Equal(t, SourceModel, res.Source)
	assert.True(t, strings.HasPrefix(res.Message, "Behavior: Aggressive. PRF zone: fines."), res.Message)
	assert.Equal(t, true, res.Meta["agent_inserted_behavior_prf"])
}

func TestAdviseEmptyOutputFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":"   "}`))
	}))
	defer srv.Close()

	rt := NewRuntime(RuntimeConfig{URL: srv.URL}, nil)
	res := Advise(context.Background(), models.PolicyState{}, nil, rt)

	assert.Equal(t, SourceFallback, res.Source)
	assert.NotEmpty(t, res.Message)
}

func TestAdviseTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`{"content":"too late"}`))
	}))
	defer srv.Close()

	rt := NewRuntime(RuntimeConfig{URL: srv.URL, Timeout: 30 * time.Millisecond}, nil)
	res := Advise(context.Background(), models.PolicyState{Behavior: "normal"}, nil, rt)

	assert.Equal(t, SourceTimeout, res.Source)
	assert.NotEmpty(t, res.Message, "timeout still carries the draft")
	assert.Contains(t, res.Meta, "error")
}

func TestAdviseServerErrorMapsToErrorSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	rt := NewRuntime(RuntimeConfig{URL: srv.URL}, nil)
	res := Advise(context.Background(), models.PolicyState{}, nil, rt)

	assert.Equal(t, SourceError, res.Source)
	assert.NotEmpty(t, res.Message)
}

func TestGenerateSendsPromptAndStop(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Write([]byte(`{"content":"ok"}`))
	}))
	defer srv.Close()

	rt := NewRuntime(RuntimeConfig{URL: srv.URL, MaxTokens: 32}, nil)
	out, err := rt.Generate(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, "ok", out)
	assert.Contains(t, gotBody, `"prompt":"hello"`)
	assert.Contains(t, gotBody, `"n_predict":32`)
	assert.Contains(t, gotBody, `"</s>"`)
}
