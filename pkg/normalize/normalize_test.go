package normalize

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vertex-audit/pkg/events"
)

func TestDecodeRecords_CloudTrailFixture(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "cloudtrail.json"))
	require.NoError(t, err)

	records, err := DecodeRecords(data)
	require.NoError(t, err)
	require.Len(t, records, 4)

	got := Normalize(records)
	require.Len(t, got, len(records))

	assert.Equal(t, events.LogEvent{
		Timestamp: "2025-04-14T08:00:00Z",
		User:      "alice",
		IP:        "203.0.113.5",
		Event:     events.EventLoginFailed,
		Detail:    "Console login failure for alice: Failed authentication",
		Severity:  events.SeverityHigh,
		Category:  events.CategoryAuthentication,
	}, got[0])

	assert.Equal(t, "Root", got[1].User)
	assert.Equal(t, events.EventLoginSuccess, got[1].Event)
	assert.Equal(t, "Root signed in to the console (MFA used: Yes)", got[1].Detail)

	assert.Equal(t, "ci-session (DeployRole)", got[2].User)
	assert.Equal(t, events.EventRoleAssumed, got[2].Event)
	assert.Equal(t, events.CategoryAuthorization, got[2].Category)

	assert.Equal(t, "cloudtrail.amazonaws.com", got[3].User)
	assert.Equal(t, events.EventLogArchived, got[3].Event)
	assert.Equal(t, events.SeverityLow, got[3].Severity)
}

func TestDecodeRecords_Shapes(t *testing.T) {
	recs, err := DecodeRecords([]byte(`[{"event":"a"},{"event":"b"}]`))
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = DecodeRecords([]byte(`[1, "x", {"user":"bob"}]`))
	require.NoError(t, err)
	require.Len(t, recs, 3)
	evs := Normalize(recs)
	assert.Equal(t, events.UnknownUser, evs[0].User)
	assert.Equal(t, "bob", evs[2].User)

	for _, bad := range []string{`{"foo": 1}`, `"text"`, `not json`, `{"Records": {}}`} {
		_, err := DecodeRecords([]byte(bad))
		assert.True(t, errors.Is(err, ErrInvalidPayload), bad)
	}
}

func TestNormalize_IndexPreservation(t *testing.T) {
	records := []events.RawRecord{
		{"eventName": "CreateBucket", "user": "u0"},
		{},
		{"event": "custom_thing", "user": "u2"},
		nil,
		{"eventName": "RunInstances", "user": "u4"},
	}
	got := Normalize(records)
	require.Len(t, got, len(records))
	assert.Equal(t, "u0", got[0].User)
	assert.Equal(t, "u2", got[2].User)
	assert.Equal(t, "u4", got[4].User)
	assert.Equal(t, events.EventInstanceCreated, got[4].Event)
}

func TestNormalize_FallbackTotality(t *testing.T) {
	got := NormalizeRecord(events.RawRecord{"unrelated": true})
	assert.Equal(t, "", got.Timestamp)
	assert.Equal(t, events.UnknownUser, got.User)
	assert.Equal(t, events.UnknownIP, got.IP)
	assert.Equal(t, events.EventUnknown, got.Event)
	assert.Equal(t, events.SeverityLow, got.Severity)
	assert.Equal(t, events.CategoryAdministrative, got.Category)

	assert.NotPanics(t, func() { NormalizeRecord(nil) })
	assert.NotPanics(t, func() {
		NormalizeRecord(events.RawRecord{
			"userIdentity":      "not-an-object",
			"requestParameters": []interface{}{1, 2},
			"eventName":         "AuthorizeSecurityGroupIngress",
		})
	})
}

func TestNormalizeValue_SingleObject(t *testing.T) {
	got := NormalizeValue(map[string]interface{}{"eventName": "AssumeRole", "user": "carol"})
	require.Len(t, got, 1)
	assert.Equal(t, events.EventRoleAssumed, got[0].Event)
	assert.Equal(t, "Assumed role (unknown role) as session (unnamed)", got[0].Detail)

	assert.Len(t, NormalizeValue([]interface{}{map[string]interface{}{}, 3}), 2)
	assert.Empty(t, NormalizeValue(nil))
}

func TestNormalize_UserExtraction(t *testing.T) {
	cases := []struct {
		name   string
		record events.RawRecord
		want   string
	}{
		{"root type", events.RawRecord{"userIdentity": map[string]interface{}{"type": "Root", "userName": "ignored"}}, "Root"},
		{"iam user", events.RawRecord{"userIdentity": map[string]interface{}{"type": "IAMUser", "userName": "dave"}}, "dave"},
		{"assumed role arn", events.RawRecord{"userIdentity": map[string]interface{}{
			"type": "AssumedRole", "arn": "arn:aws:sts::1:assumed-role/Admin/erin"}}, "erin (Admin)"},
		{"assumed role issuer", events.RawRecord{"userIdentity": map[string]interface{}{
			"type": "AssumedRole", "principalId": "AROAEXAMPLE:frank",
			"sessionContext": map[string]interface{}{"sessionIssuer": map[string]interface{}{"userName": "Ops"}}}}, "frank (Ops)"},
		{"service", events.RawRecord{"userIdentity": map[string]interface{}{"type": "AWSService", "invokedBy": "ec2.amazonaws.com"}}, "ec2.amazonaws.com"},
		{"flat", events.RawRecord{"user": "grace"}, "grace"},
		{"empty identity falls through", events.RawRecord{"userIdentity": map[string]interface{}{}, "user": "heidi"}, "heidi"},
		{"none", events.RawRecord{}, events.UnknownUser},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeRecord(tc.record).User)
		})
	}
}

func TestNormalize_FieldPrecedence(t *testing.T) {
	got := NormalizeRecord(events.RawRecord{
		"eventTime":       "2025-01-01T00:00:00Z",
		"timestamp":       "2024-01-01T00:00:00Z",
		"sourceIPAddress": "198.51.100.7",
		"ip":              "10.0.0.1",
	})
	assert.Equal(t, "2025-01-01T00:00:00Z", got.Timestamp)
	assert.Equal(t, "198.51.100.7", got.IP)

	got = NormalizeRecord(events.RawRecord{"timestamp": "2024-01-01T00:00:00Z", "ip": "10.0.0.1"})
	assert.Equal(t, "2024-01-01T00:00:00Z", got.Timestamp)
	assert.Equal(t, "10.0.0.1", got.IP)
}

func TestNormalize_EventDispatch(t *testing.T) {
	cases := []struct {
		name     string
		record   events.RawRecord
		event    string
		severity events.Severity
		category events.Category
		detail   string
	}{
		{
			name:     "legacy failure name",
			record:   events.RawRecord{"eventName": "ConsoleLoginFailure", "user": "ivan"},
			event:    events.EventLoginFailed,
			severity: events.SeverityHigh,
			category: events.CategoryAuthentication,
			detail:   "Console login failure for ivan: authentication rejected",
		},
		{
			name: "mfa removed",
			record: events.RawRecord{"eventName": "DeactivateMFADevice", "user": "judy",
				"requestParameters": map[string]interface{}{"serialNumber": "arn:aws:iam::1:mfa/judy"}},
			event:    events.EventMFARemoved,
			severity: events.SeverityHigh,
			category: events.CategoryAuthentication,
			detail:   "MFA device arn:aws:iam::1:mfa/judy removed from judy",
		},
		{
			name: "file upload",
			record: events.RawRecord{"eventName": "PutObject", "user": "mallory",
				"requestParameters": map[string]interface{}{"bucketName": "data", "key": "dump.sql"}},
			event:    events.EventFileUploaded,
			severity: events.SeverityMedium,
			category: events.CategoryDataAccess,
			detail:   "Uploaded dump.sql to bucket data",
		},
		{
			name: "key creation",
			record: events.RawRecord{"eventName": "CreateKey",
				"responseElements": map[string]interface{}{"keyMetadata": map[string]interface{}{"keyId": "k-1"}}},
			event:    events.EventKeyCreated,
			severity: events.SeverityHigh,
			category: events.CategoryAdministrative,
			detail:   "Created KMS key k-1 (no description)",
		},
		{
			name: "world open ingress",
			record: events.RawRecord{"eventName": "AuthorizeSecurityGroupIngress",
				"requestParameters": map[string]interface{}{
					"groupId": "sg-123",
					"ipPermissions": map[string]interface{}{"items": []interface{}{
						map[string]interface{}{
							"ipProtocol": "tcp", "fromPort": float64(22), "toPort": float64(22),
							"ipRanges": map[string]interface{}{"items": []interface{}{map[string]interface{}{"cidrIp": "0.0.0.0/0"}}},
						},
					}},
				}},
			event:    events.EventIngressAdded,
			severity: events.SeverityCritical,
			category: events.CategoryInfrastructure,
			detail:   "Opened tcp port 22 to 0.0.0.0/0 on security group sg-123",
		},
		{
			name: "config rule",
			record: events.RawRecord{"eventName": "PutConfigRule",
				"requestParameters": map[string]interface{}{"configRule": map[string]interface{}{"configRuleName": "s3-encryption"}}},
			event:    events.EventComplianceRuleAdded,
			severity: events.SeverityLow,
			category: events.CategoryAdministrative,
			detail:   "Created AWS Config rule s3-encryption",
		},
		{
			name:     "notebook",
			record:   events.RawRecord{"eventName": "CreateNotebookInstance"},
			event:    events.EventNotebookCreated,
			severity: events.SeverityMedium,
			category: events.CategoryInfrastructure,
			detail:   "Created SageMaker notebook (unnamed notebook) (unknown type)",
		},
		{
			name: "policy attach",
			record: events.RawRecord{"eventName": "AttachUserPolicy",
				"requestParameters": map[string]interface{}{"userName": "bob", "policyArn": "arn:aws:iam::aws:policy/AdministratorAccess"}},
			event:    events.EventPolicyChanged,
			severity: events.SeverityHigh,
			category: events.CategoryAuthorization,
			detail:   "Attached policy arn:aws:iam::aws:policy/AdministratorAccess to bob",
		},
		{
			name:     "unmatched name passes through",
			record:   events.RawRecord{"eventName": "DescribeRegions", "message": "listed regions"},
			event:    "DescribeRegions",
			severity: events.SeverityLow,
			category: events.CategoryAdministrative,
			detail:   "listed regions",
		},
		{
			name:     "pre-normalized code keeps its classification",
			record:   events.RawRecord{"event": "login_failed", "detail": "bad password"},
			event:    events.EventLoginFailed,
			severity: events.SeverityHigh,
			category: events.CategoryAuthentication,
			detail:   "bad password",
		},
		{
			name:     "structured detail",
			record:   events.RawRecord{"event": "custom", "detail": map[string]interface{}{"k": "v"}},
			event:    "custom",
			severity: events.SeverityLow,
			category: events.CategoryAdministrative,
			detail:   `{"k":"v"}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NormalizeRecord(tc.record)
			assert.Equal(t, tc.event, got.Event)
			assert.Equal(t, tc.severity, got.Severity)
			assert.Equal(t, tc.category, got.Category)
			assert.Equal(t, tc.detail, got.Detail)
		})
	}
}

func TestNormalize_SpecialShapes(t *testing.T) {
	insight := NormalizeRecord(events.RawRecord{
		"eventType": "AwsCloudTrailInsight",
		"eventTime": "2025-04-14T09:00:00Z",
		"insightDetails": map[string]interface{}{
			"state":       "Start",
			"eventName":   "RunInstances",
			"insightType": "ApiCallRateInsight",
			"insightContext": map[string]interface{}{"statistics": map[string]interface{}{
				"baseline": map[string]interface{}{"average": 0.5},
				"insight":  map[string]interface{}{"average": float64(12)},
			}},
		},
	})
	assert.Equal(t, "CloudTrail Insights", insight.User)
	assert.Equal(t, "AWS Internal", insight.IP)
	assert.Equal(t, events.EventInsightDetected, insight.Event)
	assert.Equal(t, "CloudTrail Insights detected ApiCallRateInsight activity for RunInstances (start): baseline 0.5, observed 12", insight.Detail)

	network := NormalizeRecord(events.RawRecord{
		"eventCategory": "NetworkActivity",
		"eventName":     "GetObject",
		"eventSource":   "s3.amazonaws.com",
		"vpcEndpointId": "vpce-0abc",
		"errorCode":     "VpceAccessDenied",
		"userIdentity":  map[string]interface{}{"type": "AWSAccount", "userName": "ignored"},
	})
	assert.Equal(t, "AWSAccount", network.User)
	assert.Equal(t, "vpce-0abc", network.IP)
	assert.Equal(t, events.EventNetworkActivity, network.Event)
	assert.Equal(t, events.SeverityMedium, network.Severity)
	assert.Contains(t, network.Detail, "VpceAccessDenied")

	data := NormalizeRecord(events.RawRecord{
		"eventCategory":   "Data",
		"eventName":       "GetObject",
		"sourceIPAddress": "198.51.100.4",
		"user":            "ken",
		"resources":       []interface{}{map[string]interface{}{"type": "AWS::S3::Object", "ARN": "arn:aws:s3:::data/report.csv"}},
	})
	assert.Equal(t, events.EventDataAccess, data.Event)
	assert.Equal(t, "GetObject on S3::Object arn:aws:s3:::data/report.csv", data.Detail)
	assert.Equal(t, events.CategoryDataAccess, data.Category)
	assert.Equal(t, "ken", data.User)
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "Uploaded a to b", Humanize(events.LogEvent{Detail: "Uploaded a to b"}))
	assert.Equal(t, "alice from 8.8.8.8 triggered login_success.",
		Humanize(events.LogEvent{User: "alice", IP: "8.8.8.8", Event: events.EventLoginSuccess}))
	assert.Equal(t, "unknown from 0.0.0.0 triggered unknown_event.", Humanize(events.LogEvent{}))
}
