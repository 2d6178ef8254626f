package output

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"
)

// RemoteOutput sends report records to a collector over TCP, TLS or HTTP.
type RemoteOutput struct {
	address       string
	protocol      string
	httpEndpoint  string
	maxRetries    int
	retryInterval time.Duration
	host          string
	client        *http.Client
}

// RemoteOptions configures a RemoteOutput. Zero values take the defaults.
type RemoteOptions struct {
	Address       string
	Protocol      string // tcp, tls, http, https. Default tcp.
	HTTPEndpoint  string
	MaxRetries    int // Default 5.
	RetryInterval time.Duration
	Host          string
}

// NewRemoteOutput creates a remote output. Call Send() for each report.
func NewRemoteOutput(opts RemoteOptions) *RemoteOutput {
	if opts.Protocol == "" {
		opts.Protocol = "tcp"
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 10 * time.Second
	}
	return &RemoteOutput{
		address:       opts.Address,
		protocol:      opts.Protocol,
		httpEndpoint:  opts.HTTPEndpoint,
		maxRetries:    opts.MaxRetries,
		retryInterval: opts.RetryInterval,
		host:          opts.Host,
		client:        &http.Client{Timeout: 15 * time.Second},
	}
}

// Envelope wraps a report record with the sender identity.
type Envelope struct {
	Host   string          `json:"host"`
	Record json.RawMessage `json:"record"`
}

// Send delivers one report record to the collector. Retries on failure.
func (r *RemoteOutput) Send(ctx context.Context, payload []byte) error {
	body, err := json.Marshal(Envelope{Host: r.host, Record: payload})
	if err != nil {
		return err
	}
	body = append(body, '\n')

	var lastErr error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.retryInterval):
			}
		}
		switch r.protocol {
		case "tls":
			lastErr = r.sendTCP(ctx, body, true)
		case "http", "https":
			lastErr = r.sendHTTP(ctx, body)
		default:
			lastErr = r.sendTCP(ctx, body, false)
		}
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("remote send after %d retries: %w", r.maxRetries, lastErr)
}

func (r *RemoteOutput) sendTCP(ctx context.Context, body []byte, useTLS bool) error {
	dialer := net.Dialer{Timeout: 10 * time.Second}
	var conn net.Conn
	var err error
	if useTLS {
		td := tls.Dialer{NetDialer: &dialer, Config: &tls.Config{MinVersion: tls.VersionTLS12}}
		conn, err = td.DialContext(ctx, "tcp", r.address)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", r.address)
	}
	if err != nil {
		return err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	_, err = conn.Write(body)
	return err
}

func (r *RemoteOutput) sendHTTP(ctx context.Context, body []byte) error {
	scheme := "http"
	if r.protocol == "https" {
		scheme = "https"
	}
	url := scheme + "://" + r.address + r.httpEndpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Vertex-Host", r.host)
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote returned %s", resp.Status)
	}
	return nil
}
