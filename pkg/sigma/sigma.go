// Package sigma loads and compiles Sigma-style rules for audit events to detection.Rule format.
package sigma

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"vertex-audit/pkg/detection"
	"vertex-audit/pkg/events"
)

// ErrIncompleteRule is returned for rules without id, title, or a usable condition.
var ErrIncompleteRule = errors.New("sigma: incomplete rule")

// ParseYAML unmarshals YAML into a SigmaRule (or any struct).
func ParseYAML(data string, v interface{}) error {
	return yaml.Unmarshal([]byte(data), v)
}

// SigmaRule is the YAML structure for Sigma rules.
type SigmaRule struct {
	ID        string                 `yaml:"id"`
	Title     string                 `yaml:"title"`
	Level     string                 `yaml:"level"`
	Status    string                 `yaml:"status"`
	Tags      []string               `yaml:"tags"`
	LogSource map[string]string      `yaml:"logsource"`
	Detection map[string]interface{} `yaml:"detection"`
}

// sigmaFieldMap maps CloudTrail field names to LogEvent field names.
var sigmaFieldMap = map[string]string{
	"eventName":             "event",
	"sourceIPAddress":       "ip",
	"userIdentity.userName": "user",
	"userIdentity.UserName": "user",
	"UserName":              "user",
	"errorMessage":          "detail",
	"eventTime":             "timestamp",
}

func mapField(sigmaField string) string {
	if m, ok := sigmaFieldMap[sigmaField]; ok {
		return m
	}
	return strings.ToLower(sigmaField)
}

func levelToSeverity(level string) events.Severity {
	switch strings.ToLower(level) {
	case "critical":
		return events.SeverityCritical
	case "high":
		return events.SeverityHigh
	case "medium":
		return events.SeverityMedium
	case "low", "informational":
		return events.SeverityLow
	default:
		return events.SeverityMedium
	}
}

// tagsToMitre maps Sigma attack tags to MITRE IDs. Technique tags (attack.t1078) are used
// as-is; tactic tags map to the most common cloud technique.
func tagsToMitre(tags []string) []string {
	var out []string
	for _, t := range tags {
		if !strings.HasPrefix(t, "attack.") {
			continue
		}
		name := strings.TrimPrefix(t, "attack.")
		if len(name) > 1 && name[0] == 't' && name[1] >= '0' && name[1] <= '9' {
			out = append(out, strings.ToUpper(name))
			continue
		}
		switch {
		case strings.Contains(name, "initial_access"):
			out = append(out, "T1078.004")
		case strings.Contains(name, "credential_access"):
			out = append(out, "T1110")
		case strings.Contains(name, "persistence"):
			out = append(out, "T1098")
		case strings.Contains(name, "privilege"):
			out = append(out, "T1548")
		case strings.Contains(name, "defense_evasion"):
			out = append(out, "T1562.008")
		case strings.Contains(name, "exfiltration"):
			out = append(out, "T1537")
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// parseSelection converts a Sigma selection (map of field|modifier: value) to Condition.
// List values match if any element matches.
func parseSelection(sel interface{}) *detection.Condition {
	m, ok := sel.(map[string]interface{})
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var children []detection.Condition
	for _, k := range keys {
		parts := strings.SplitN(k, "|", 2)
		field := mapField(parts[0])
		modifier := "contains"
		if len(parts) == 2 {
			modifier = strings.TrimSpace(parts[1])
		}
		var alts []detection.Condition
		for _, v := range values(m[k]) {
			alts = append(alts, detection.Condition{Op: modifier, Field: field, Value: v})
		}
		switch len(alts) {
		case 0:
			continue
		case 1:
			children = append(children, alts[0])
		default:
			children = append(children, detection.Condition{Op: "or", Children: alts})
		}
	}
	return combine("and", children)
}

func values(v interface{}) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []interface{}:
		var out []string
		for _, el := range t {
			out = append(out, values(el)...)
		}
		return out
	case int, float64, bool:
		return []string{fmt.Sprint(t)}
	}
	return nil
}

func combine(op string, children []detection.Condition) *detection.Condition {
	switch len(children) {
	case 0:
		return nil
	case 1:
		return &children[0]
	}
	return &detection.Condition{Op: op, Children: children}
}

// parseCondition parses "selection", "1 of selection*", "all of filter_*", "not x" and flat
// and/or combinations of those. "and" binds tighter than "or"; parentheses are not supported.
func parseCondition(det map[string]interface{}, condStr string) *detection.Condition {
	var anyOf []detection.Condition
	for _, disj := range strings.Split(strings.TrimSpace(condStr), " or ") {
		var allOf []detection.Condition
		for _, term := range strings.Split(disj, " and ") {
			c := parseTerm(det, strings.TrimSpace(term))
			if c == nil {
				return nil
			}
			allOf = append(allOf, *c)
		}
		c := combine("and", allOf)
		if c == nil {
			return nil
		}
		anyOf = append(anyOf, *c)
	}
	return combine("or", anyOf)
}

func parseTerm(det map[string]interface{}, term string) *detection.Condition {
	if strings.HasPrefix(term, "not ") {
		inner := parseTerm(det, strings.TrimSpace(strings.TrimPrefix(term, "not ")))
		if inner == nil {
			return nil
		}
		return &detection.Condition{Op: "not", Children: []detection.Condition{*inner}}
	}
	if strings.Contains(term, " of ") {
		parts := strings.SplitN(term, " of ", 2)
		quant := strings.TrimSpace(parts[0])
		pattern := strings.TrimSpace(parts[1])
		op := "or"
		if quant == "all" {
			op = "and"
		}
		var children []detection.Condition
		for _, k := range selectionNames(det, pattern) {
			if c := parseSelection(det[k]); c != nil {
				children = append(children, *c)
			}
		}
		return combine(op, children)
	}
	if sel, ok := det[term]; ok && term != "condition" {
		return parseSelection(sel)
	}
	return nil
}

// selectionNames resolves a "selection*" style pattern (or "them") against the detection
// keys, sorted.
func selectionNames(det map[string]interface{}, pattern string) []string {
	prefix, wildcard := strings.CutSuffix(pattern, "*")
	if pattern == "them" {
		prefix, wildcard = "", true
	}
	var out []string
	for k := range det {
		if k == "condition" {
			continue
		}
		if (wildcard && strings.HasPrefix(k, prefix)) || k == prefix {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Compile converts a SigmaRule to detection.Rule.
func Compile(sr *SigmaRule) (*detection.Rule, error) {
	if sr.ID == "" || sr.Title == "" {
		return nil, fmt.Errorf("%w: missing id or title", ErrIncompleteRule)
	}
	condStr, ok := sr.Detection["condition"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no condition", ErrIncompleteRule, sr.ID)
	}
	cond := parseCondition(sr.Detection, condStr)
	if cond == nil {
		return nil, fmt.Errorf("%w: %s: cannot resolve condition %q", ErrIncompleteRule, sr.ID, condStr)
	}
	if err := cond.Compile(); err != nil {
		return nil, fmt.Errorf("sigma: %s: %w", sr.ID, err)
	}
	return &detection.Rule{
		ID:       sr.ID,
		Name:     sr.Title,
		Severity: levelToSeverity(sr.Level),
		Cond:     *cond,
		Mitre:    tagsToMitre(sr.Tags),
	}, nil
}

// LoadFile loads and compiles a single Sigma YAML file.
func LoadFile(path string) (*detection.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sr SigmaRule
	if err := yaml.Unmarshal(data, &sr); err != nil {
		return nil, fmt.Errorf("sigma: parse %s: %w", path, err)
	}
	return Compile(&sr)
}

// RuleMeta is metadata for a Sigma rule (for API listing).
type RuleMeta struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Level  string `json:"level"`
	Status string `json:"status"`
	File   string `json:"file"`
}

func ruleFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".yml") || strings.HasSuffix(name, ".yaml") {
			out = append(out, name)
		}
	}
	return out, nil
}

// ListRuleMeta lists rule metadata from a directory without full compilation.
func ListRuleMeta(dir string) ([]RuleMeta, error) {
	names, err := ruleFiles(dir)
	if err != nil {
		return nil, err
	}
	out := make([]RuleMeta, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var sr SigmaRule
		if yaml.Unmarshal(data, &sr) != nil {
			continue
		}
		if sr.ID == "" {
			sr.ID = name
		}
		out = append(out, RuleMeta{
			ID:     sr.ID,
			Title:  sr.Title,
			Level:  sr.Level,
			Status: sr.Status,
			File:   name,
		})
	}
	return out, nil
}

// SkipError lists the rule files LoadDir could not compile.
type SkipError struct {
	Files []string
	Err   error
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("sigma: skipped %d rule file(s): %v", len(e.Files), e.Err)
}

func (e *SkipError) Unwrap() error { return e.Err }

// LoadDir loads all .yml/.yaml files from a directory and returns compiled rules.
// Invalid rules are skipped; when any were, the compiled rules are returned together with a
// *SkipError.
func LoadDir(dir string) ([]detection.Rule, error) {
	names, err := ruleFiles(dir)
	if err != nil {
		return nil, err
	}
	var (
		rules   []detection.Rule
		skipped []string
		errs    []error
	)
	for _, name := range names {
		r, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			skipped = append(skipped, name)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		rules = append(rules, *r)
	}
	if len(skipped) > 0 {
		return rules, &SkipError{Files: skipped, Err: errors.Join(errs...)}
	}
	return rules, nil
}
