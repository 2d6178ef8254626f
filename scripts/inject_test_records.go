// Inject a sample CloudTrail batch (failed login, then root login) to the analyzer over NATS.
// Run: go run scripts/inject_test_records.go [file.json]
// Requires: NATS running and cmd/analyzer subscribed to logs.analyze.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
)

func main() {
	natsURL := "nats://127.0.0.1:4222"
	if u := os.Getenv("NATS_URL"); u != "" {
		natsURL = u
	}
	subject := "logs.analyze"
	if s := os.Getenv("ANALYZE_SUBJECT"); s != "" {
		subject = s
	}

	var payload []byte
	if len(os.Args) > 1 {
		b, err := os.ReadFile(os.Args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "read %s: %v\n", os.Args[1], err)
			os.Exit(1)
		}
		payload = b
	} else {
		payload, _ = json.Marshal(sampleRecords(time.Now().UTC()))
	}

	nc, err := nats.Connect(natsURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "NATS connect: %v\n", err)
		fmt.Fprintf(os.Stderr, "Ensure NATS is running (docker compose up) and port 4222 is exposed.\n")
		os.Exit(1)
	}
	defer nc.Close()

	msg, err := nc.Request(subject, payload, 10*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request %s: %v\n", subject, err)
		os.Exit(1)
	}
	var report struct {
		Error        string            `json:"error"`
		RiskLevel    string            `json:"riskLevel"`
		Narrative    string            `json:"narrative"`
		AttackChains []json.RawMessage `json:"attackChains"`
		Alerts       []json.RawMessage `json:"alerts"`
	}
	if err := json.Unmarshal(msg.Data, &report); err != nil {
		fmt.Fprintf(os.Stderr, "Decode reply: %v\n", err)
		os.Exit(1)
	}
	if report.Error != "" {
		fmt.Fprintf(os.Stderr, "Analyzer error: %s\n", report.Error)
		os.Exit(1)
	}
	fmt.Printf("OK: risk=%s chains=%d alerts=%d\n", report.RiskLevel, len(report.AttackChains), len(report.Alerts))
	fmt.Println(report.Narrative)
}

// sampleRecords simulates a failed external console login followed by a root login from the
// internal network two minutes later.
func sampleRecords(now time.Time) []map[string]interface{} {
	return []map[string]interface{}{
		{
			"eventTime":        now.Add(-2 * time.Minute).Format(time.RFC3339),
			"eventSource":      "signin.amazonaws.com",
			"eventName":        "ConsoleLogin",
			"sourceIPAddress":  "203.0.113.5",
			"userIdentity":     map[string]interface{}{"type": "IAMUser", "userName": "alice"},
			"responseElements": map[string]interface{}{"ConsoleLogin": "Failure"},
			"errorMessage":     "Failed authentication",
		},
		{
			"eventTime":        now.Format(time.RFC3339),
			"eventSource":      "signin.amazonaws.com",
			"eventName":        "ConsoleLogin",
			"sourceIPAddress":  "10.0.0.12",
			"userIdentity":     map[string]interface{}{"type": "Root"},
			"responseElements": map[string]interface{}{"ConsoleLogin": "Success"},
		},
	}
}
