package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"vertex-audit/pkg/causal"
	"vertex-audit/pkg/detection"
	"vertex-audit/pkg/events"
	"vertex-audit/pkg/metrics"
	"vertex-audit/pkg/normalize"
	"vertex-audit/pkg/sigma"
	"vertex-audit/pkg/summarize"
)

func fixture(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "normalize", "testdata", "cloudtrail.json"))
	require.NoError(t, err)
	return data
}

func newService(t *testing.T, correlate bool) *Service {
	t.Helper()
	svc := New(Options{Correlate: correlate, Source: "cli", Metrics: metrics.New(), Logger: zaptest.NewLogger(t)})
	rules, err := sigma.LoadDir(filepath.Join("..", "..", "rules"))
	require.NoError(t, err)
	require.NoError(t, svc.SetRules(rules))
	return svc
}

func TestAnalyzeJSON_CloudTrailFixture(t *testing.T) {
	r, err := newService(t, true).AnalyzeJSON(context.Background(), fixture(t))
	require.NoError(t, err)

	require.Len(t, r.Events, 4)
	assert.Equal(t, []int{0, 1, 2, 3}, r.CriticalIndices)
	assert.Equal(t, events.RiskCritical, r.RiskLevel)
	assert.NotEmpty(t, r.ID)

	require.Len(t, r.AttackChains, 1)
	assert.Equal(t, causal.Edge{From: "node_0", To: "node_1", Relationship: causal.PrivilegeEscalation, Confidence: 0.95}, r.AttackChains[0])
	assert.Len(t, r.Edges, 3)

	assert.Contains(t, r.Narrative, "During a 10 minutes period, 4 security events were flagged for review")
	assert.Contains(t, r.Narrative, "**Privilege escalation attack detected**: alice failed authentication from 203.0.113.5")

	ruleIDs := make([]string, 0, len(r.Alerts))
	for _, a := range r.Alerts {
		ruleIDs = append(ruleIDs, a.RuleID)
	}
	assert.ElementsMatch(t, []string{"aws-failed-login-external", "aws-root-console-login"}, ruleIDs)
}

func TestAnalyze_WithoutCorrelation(t *testing.T) {
	r, err := newService(t, false).AnalyzeJSON(context.Background(), fixture(t))
	require.NoError(t, err)

	assert.Nil(t, r.Edges)
	assert.Nil(t, r.AttackChains)
	assert.Equal(t, events.RiskMedium, r.RiskLevel)
	assert.NotContains(t, r.Narrative, "Privilege escalation attack detected")
	assert.Equal(t, summarize.Narrative(r.Analysis), r.Narrative)
}

func TestAnalyzeJSON_EscalationNarrativeHasOneBanner(t *testing.T) {
	r, err := newService(t, true).AnalyzeJSON(context.Background(), fixture(t))
	require.NoError(t, err)
	require.Equal(t, events.RiskCritical, r.RiskLevel)

	assert.Equal(t, 1, strings.Count(r.Narrative, "**Risk Level:"))
	assert.NotContains(t, r.Narrative, "not correlated")
	assert.NotContains(t, r.Narrative, "Risk Level: MEDIUM")
	assert.True(t, strings.HasSuffix(r.Narrative, "**Risk Level: CRITICAL** - Immediate security response required."), r.Narrative)
	assert.Less(t, strings.Index(r.Narrative, "flagged for review"), strings.Index(r.Narrative, "Privilege escalation attack detected"))
}

func TestAnalyze_BannerFollowsReportRisk(t *testing.T) {
	records := []events.RawRecord{{
		"eventTime":        "2025-04-14T08:00:00Z",
		"eventSource":      "signin.amazonaws.com",
		"eventName":        "ConsoleLogin",
		"sourceIPAddress":  "203.0.113.9",
		"userIdentity":     map[string]interface{}{"type": "Root"},
		"responseElements": map[string]interface{}{"ConsoleLogin": "Failure"},
	}}
	r, err := newService(t, false).Analyze(context.Background(), records)
	require.NoError(t, err)

	require.Equal(t, events.RiskCritical, r.RiskLevel)
	assert.Equal(t, events.RiskMedium, summarize.RiskLevelOf(r.Analysis))
	assert.Equal(t, 1, strings.Count(r.Narrative, "**Risk Level:"))
	assert.Contains(t, r.Narrative, "**Risk Level: CRITICAL**")
}

func TestAnalyze_Empty(t *testing.T) {
	r, err := newService(t, true).AnalyzeJSON(context.Background(), []byte(`{"Records": []}`))
	require.NoError(t, err)
	assert.Empty(t, r.Events)
	assert.Empty(t, r.CriticalIndices)
	assert.Empty(t, r.Alerts)
	assert.Equal(t, events.RiskLow, r.RiskLevel)
	assert.Equal(t, summarize.NoCriticalEvents, r.Narrative)
}

func TestAnalyzeJSON_InvalidPayload(t *testing.T) {
	svc := newService(t, true)
	for _, body := range []string{`not json`, `{"foo": 1}`, `"str"`} {
		_, err := svc.AnalyzeJSON(context.Background(), []byte(body))
		assert.ErrorIs(t, err, normalize.ErrInvalidPayload, body)
	}
}

func TestAnalyze_MaxRecordsAndCancel(t *testing.T) {
	svc := New(Options{MaxRecords: 1})
	_, err := svc.Analyze(context.Background(), []events.RawRecord{{}, {}})
	assert.True(t, errors.Is(err, ErrTooManyRecords))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.Analyze(ctx, []events.RawRecord{{"eventName": "ConsoleLogin"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReportJSONContract(t *testing.T) {
	r, err := newService(t, true).AnalyzeJSON(context.Background(), fixture(t))
	require.NoError(t, err)

	b, err := json.Marshal(r)
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))
	for _, key := range []string{"id", "createdAt", "events", "criticalIndices", "riskLevel", "narrative", "analysis", "edges", "attackChains", "alerts"} {
		assert.Contains(t, m, key)
	}
	assert.Equal(t, "CRITICAL", m["riskLevel"])

	var back Report
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, r.Events, back.Events)
	assert.Equal(t, r.RiskLevel, back.RiskLevel)
}

func TestService_SetRulesRejectsInvalid(t *testing.T) {
	svc := newService(t, true)
	before := len(svc.Rules())
	require.NotZero(t, before)

	bad := detection.Rule{ID: "bad", Cond: detection.Condition{Field: "event", Op: "re", Value: "("}}
	assert.Error(t, svc.SetRules([]detection.Rule{bad}))
	assert.Len(t, svc.Rules(), before)

	require.NoError(t, svc.SetRules(nil))
	assert.Empty(t, svc.Rules())
}

func TestReport_Notable(t *testing.T) {
	assert.False(t, (&Report{RiskLevel: events.RiskMedium}).Notable())
	assert.True(t, (&Report{RiskLevel: events.RiskHigh}).Notable())
	assert.True(t, (&Report{RiskLevel: events.RiskLow, Alerts: []events.Alert{{RuleID: "x"}}}).Notable())

	r, err := newService(t, false).AnalyzeJSON(context.Background(), []byte(`[{"eventName":"DescribeInstances","sourceIPAddress":"10.0.0.1"}]`))
	require.NoError(t, err)
	assert.False(t, r.Notable())
}
