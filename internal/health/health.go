package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ReadyValue is the body status a gateway reports once it can serve traffic.
const ReadyValue = "ready"

// maxBody bounds how much of a health response is read.
const maxBody = 1 << 20

var tracer = otel.Tracer("github.com/benaskins/gateboot/internal/health")

// Result is the outcome of a single health probe.
type Result struct {
	OK         bool
	HTTPStatus *int    // nil when no response arrived
	Readiness  *string // body "status" field, nil when absent or unparseable
	Err        error   // transport or timeout failure
	Latency    time.Duration
}

// String renders the result for logs and the CLI.
func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("unreachable: %v", r.Err)
	}
	s := "no response"
	if r.HTTPStatus != nil {
		s = fmt.Sprintf("http %d", *r.HTTPStatus)
	}
	if r.Readiness != nil {
		s += fmt.Sprintf(" status=%q", *r.Readiness)
	}
	if r.OK {
		s += " (ready)"
	}
	return s
}

// Prober issues HTTP health probes.
type Prober struct {
	client *http.Client
	logger *slog.Logger
}

// NewProber creates a prober. A nil client gets a fresh one without a
// client-level timeout; each Check bounds its own request.
func NewProber(client *http.Client, logger *slog.Logger) *Prober {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{client: client, logger: logger}
}

// Check performs one GET against url, aborted after timeout.
func (p *Prober) Check(ctx context.Context, url string, timeout time.Duration) Result {
	ctx, span := tracer.Start(ctx, "health.check")
	defer span.End()
	span.SetAttributes(attribute.String("url", url))

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	res := p.check(ctx, url)
	res.Latency = time.Since(start)

	if res.Err != nil {
		span.SetStatus(codes.Error, res.Err.Error())
		p.logger.Debug("health probe failed", "url", url, "error", res.Err)
		return res
	}
	span.SetAttributes(attribute.Int("http.status", *res.HTTPStatus), attribute.Bool("ready", res.OK))
	return res
}

func (p *Prober) check(ctx context.Context, url string) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Err: fmt.Errorf("creating request: %w", err)}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	res := Result{HTTPStatus: &status}

	// A body that cannot be read or parsed leaves readiness to the status code.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	res.Readiness = readiness(body)

	res.OK = Interpret(status, res.Readiness)
	return res
}

// Interpret decides readiness: HTTP 200 and either no status field or a
// status field equal to "ready".
func Interpret(status int, readiness *string) bool {
	if status != http.StatusOK {
		return false
	}
	return readiness == nil || *readiness == ReadyValue
}

func readiness(body []byte) *string {
	if len(body) == 0 {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil
	}
	s, ok := doc["status"].(string)
	if !ok {
		return nil
	}
	return &s
}

// PortOpen reports whether something accepts TCP connections on
// 127.0.0.1:port within timeout.
func PortOpen(ctx context.Context, port int, timeout time.Duration) bool {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
