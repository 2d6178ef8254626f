package normalize

import (
	"fmt"
	"strings"

	"vertex-audit/pkg/events"
)

// eventName is a provider event name the normalizer knows how to translate.
type eventName string

const (
	nameConsoleLogin           eventName = "ConsoleLogin"
	nameConsoleLoginFailure    eventName = "ConsoleLoginFailure"
	nameAddMFADevice           eventName = "AddMFADevice"
	nameEnableMFADevice        eventName = "EnableMFADevice"
	nameDeleteMFADevice        eventName = "DeleteMFADevice"
	nameDeactivateMFADevice    eventName = "DeactivateMFADevice"
	nameAssumeRole             eventName = "AssumeRole"
	nameRunInstances           eventName = "RunInstances"
	nameCreateBucket           eventName = "CreateBucket"
	namePutObject              eventName = "PutObject"
	nameCreateKey              eventName = "CreateKey"
	nameGetPolicy              eventName = "GetPolicy"
	nameGetBucketPolicy        eventName = "GetBucketPolicy"
	nameGetKeyPolicy           eventName = "GetKeyPolicy"
	nameAuthorizeSGIngress     eventName = "AuthorizeSecurityGroupIngress"
	namePutConfigRule          eventName = "PutConfigRule"
	nameCreateNotebookInstance eventName = "CreateNotebookInstance"
	nameAttachUserPolicy       eventName = "AttachUserPolicy"
	nameAttachRolePolicy       eventName = "AttachRolePolicy"
	namePutUserPolicy          eventName = "PutUserPolicy"
	namePutRolePolicy          eventName = "PutRolePolicy"
	nameChangePassword         eventName = "ChangePassword"
)

const cloudTrailService = "cloudtrail.amazonaws.com"

type classification struct {
	severity events.Severity
	category events.Category
}

// canonical lists codes that may already appear pre-normalized in flat records
// ({"event": "login_failed"}); they keep their usual severity and category.
var canonical = map[string]classification{
	events.EventLoginSuccess:        {events.SeverityLow, events.CategoryAuthentication},
	events.EventLoginFailed:         {events.SeverityHigh, events.CategoryAuthentication},
	events.EventMFAAdded:            {events.SeverityLow, events.CategoryAuthentication},
	events.EventMFARemoved:          {events.SeverityHigh, events.CategoryAuthentication},
	events.EventPasswordChanged:     {events.SeverityMedium, events.CategoryAuthentication},
	events.EventRoleAssumed:         {events.SeverityMedium, events.CategoryAuthorization},
	events.EventPolicyViewed:        {events.SeverityLow, events.CategoryAuthorization},
	events.EventPolicyChanged:       {events.SeverityHigh, events.CategoryAuthorization},
	events.EventPermissionChanged:   {events.SeverityHigh, events.CategoryAuthorization},
	events.EventInstanceCreated:     {events.SeverityMedium, events.CategoryInfrastructure},
	events.EventBucketCreated:       {events.SeverityMedium, events.CategoryInfrastructure},
	events.EventIngressAdded:        {events.SeverityHigh, events.CategoryInfrastructure},
	events.EventNotebookCreated:     {events.SeverityMedium, events.CategoryInfrastructure},
	events.EventFileUploaded:        {events.SeverityMedium, events.CategoryDataAccess},
	events.EventLogArchived:         {events.SeverityLow, events.CategoryAdministrative},
	events.EventKeyCreated:          {events.SeverityHigh, events.CategoryAdministrative},
	events.EventComplianceRuleAdded: {events.SeverityLow, events.CategoryAdministrative},
}

func dispatch(m map[string]interface{}, ev events.LogEvent) events.LogEvent {
	raw := str(m, "eventName", "event")
	req := object(m, "requestParameters")
	if req == nil {
		req = map[string]interface{}{}
	}

	switch eventName(raw) {
	case nameConsoleLogin, nameConsoleLoginFailure:
		errMsg := str(m, "errorMessage")
		if eventName(raw) == nameConsoleLoginFailure ||
			strings.EqualFold(str(m, "responseElements.ConsoleLogin"), "Failure") || errMsg != "" {
			ev.Event = events.EventLoginFailed
			ev.Detail = fmt.Sprintf("Console login failure for %s: %s", ev.User, or(errMsg, "authentication rejected"))
			return classify(ev, events.SeverityHigh, events.CategoryAuthentication)
		}
		ev.Event = events.EventLoginSuccess
		ev.Detail = fmt.Sprintf("%s signed in to the console (MFA used: %s)", ev.User, or(str(m, "additionalEventData.MFAUsed"), "unknown"))
		return classify(ev, events.SeverityLow, events.CategoryAuthentication)

	case nameAddMFADevice, nameEnableMFADevice:
		ev.Event = events.EventMFAAdded
		ev.Detail = fmt.Sprintf("MFA device %s enabled for %s",
			or(str(req, "serialNumber"), "(unspecified device)"), or(str(req, "userName"), ev.User))
		return classify(ev, events.SeverityLow, events.CategoryAuthentication)

	case nameDeleteMFADevice, nameDeactivateMFADevice:
		ev.Event = events.EventMFARemoved
		ev.Detail = fmt.Sprintf("MFA device %s removed from %s",
			or(str(req, "serialNumber"), "(unspecified device)"), or(str(req, "userName"), ev.User))
		return classify(ev, events.SeverityHigh, events.CategoryAuthentication)

	case nameAssumeRole:
		ev.Event = events.EventRoleAssumed
		ev.Detail = fmt.Sprintf("Assumed role %s as session %s",
			or(str(req, "roleArn"), "(unknown role)"), or(str(req, "roleSessionName"), "(unnamed)"))
		return classify(ev, events.SeverityMedium, events.CategoryAuthorization)

	case nameRunInstances:
		ev.Event = events.EventInstanceCreated
		ev.Detail = fmt.Sprintf("Launched instance %s (%s) from image %s",
			or(str(m, "responseElements.instancesSet.items.0.instanceId"), "(pending)"),
			or(str(req, "instanceType"), "unknown type"),
			or(str(req, "instancesSet.items.0.imageId", "imageId"), "(unknown image)"))
		return classify(ev, events.SeverityMedium, events.CategoryInfrastructure)

	case nameCreateBucket:
		ev.Event = events.EventBucketCreated
		ev.Detail = fmt.Sprintf("Created S3 bucket %s in %s",
			or(str(req, "bucketName"), "(unnamed bucket)"), or(str(m, "awsRegion"), "an unknown region"))
		return classify(ev, events.SeverityMedium, events.CategoryInfrastructure)

	case namePutObject:
		bucket := or(str(req, "bucketName"), "(unknown bucket)")
		key := or(str(req, "key"), "(unnamed object)")
		if isCloudTrailActor(m, ev.User) {
			ev.Event = events.EventLogArchived
			ev.Detail = fmt.Sprintf("CloudTrail delivered log archive %s to bucket %s", key, bucket)
			return classify(ev, events.SeverityLow, events.CategoryAdministrative)
		}
		ev.Event = events.EventFileUploaded
		ev.Detail = fmt.Sprintf("Uploaded %s to bucket %s", key, bucket)
		return classify(ev, events.SeverityMedium, events.CategoryDataAccess)

	case nameCreateKey:
		ev.Event = events.EventKeyCreated
		ev.Detail = fmt.Sprintf("Created KMS key %s (%s)",
			or(str(m, "responseElements.keyMetadata.keyId"), "(unknown id)"), or(str(req, "description"), "no description"))
		return classify(ev, events.SeverityHigh, events.CategoryAdministrative)

	case nameGetPolicy, nameGetBucketPolicy, nameGetKeyPolicy:
		ev.Event = events.EventPolicyViewed
		ev.Detail = fmt.Sprintf("Read policy for %s", or(str(req, "policyArn", "bucketName", "keyId"), "an unspecified resource"))
		return classify(ev, events.SeverityLow, events.CategoryAuthorization)

	case nameAuthorizeSGIngress:
		return ingressEvent(req, ev)

	case namePutConfigRule:
		ev.Event = events.EventComplianceRuleAdded
		ev.Detail = fmt.Sprintf("Created AWS Config rule %s", or(str(req, "configRule.configRuleName"), "(unnamed rule)"))
		return classify(ev, events.SeverityLow, events.CategoryAdministrative)

	case nameCreateNotebookInstance:
		ev.Event = events.EventNotebookCreated
		ev.Detail = fmt.Sprintf("Created SageMaker notebook %s (%s)",
			or(str(req, "notebookInstanceName"), "(unnamed notebook)"), or(str(req, "instanceType"), "unknown type"))
		return classify(ev, events.SeverityMedium, events.CategoryInfrastructure)

	case nameAttachUserPolicy, nameAttachRolePolicy, namePutUserPolicy, namePutRolePolicy:
		ev.Event = events.EventPolicyChanged
		ev.Detail = fmt.Sprintf("Attached policy %s to %s",
			or(str(req, "policyArn", "policyName"), "(unnamed policy)"), or(str(req, "userName", "roleName"), "an unspecified principal"))
		return classify(ev, events.SeverityHigh, events.CategoryAuthorization)

	case nameChangePassword:
		ev.Event = events.EventPasswordChanged
		ev.Detail = fmt.Sprintf("Password changed for %s", ev.User)
		return classify(ev, events.SeverityMedium, events.CategoryAuthentication)

	default:
		ev.Event = or(raw, events.EventUnknown)
		ev.Detail = freeText(m)
		if c, ok := canonical[ev.Event]; ok {
			return classify(ev, c.severity, c.category)
		}
		return classify(ev, events.SeverityLow, events.CategoryAdministrative)
	}
}

func classify(ev events.LogEvent, sev events.Severity, cat events.Category) events.LogEvent {
	ev.Severity = sev
	ev.Category = cat
	return ev
}

func isCloudTrailActor(m map[string]interface{}, user string) bool {
	return user == cloudTrailService ||
		str(m, "userIdentity.invokedBy") == cloudTrailService ||
		str(m, "userIdentity.principalId") == cloudTrailService ||
		str(m, "userAgent") == cloudTrailService
}

func ingressEvent(req map[string]interface{}, ev events.LogEvent) events.LogEvent {
	perm := object(req, "ipPermissions.items.0")
	if perm == nil {
		perm = map[string]interface{}{}
	}
	proto := or(str(perm, "ipProtocol"), "tcp")
	if proto == "-1" {
		proto = "all"
	}
	from, to := str(perm, "fromPort"), str(perm, "toPort")
	ports := "all ports"
	switch {
	case from != "" && (to == "" || to == from):
		ports = "port " + from
	case from != "":
		ports = "ports " + from + "-" + to
	}
	cidr := or(str(perm, "ipRanges.items.0.cidrIp", "ipv6Ranges.items.0.cidrIpv6"), "an unspecified source")

	ev.Event = events.EventIngressAdded
	ev.Detail = fmt.Sprintf("Opened %s %s to %s on security group %s",
		proto, ports, cidr, or(str(req, "groupId", "groupName"), "(unknown group)"))
	sev := events.SeverityHigh
	if cidr == "0.0.0.0/0" || cidr == "::/0" {
		sev = events.SeverityCritical
	}
	return classify(ev, sev, events.CategoryInfrastructure)
}

func freeText(m map[string]interface{}) string {
	if d := text(m["detail"]); d != "" {
		return d
	}
	return str(m, "message", "errorMessage")
}
