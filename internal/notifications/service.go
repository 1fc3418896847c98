package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gitloop/internal/config"
	"gitloop/internal/ledger"
	"gitloop/internal/runner"
)

const userAgent = "gitloop-notify/0.1"

// Service is the notification surface used by the CLI.
type Service interface {
	// NotifyRunCompleted summarizes the phases of one invocation.
	NotifyRunCompleted(ctx context.Context, summaries []runner.Summary, took time.Duration) error
	// NotifyError reports a run that aborted before producing a summary.
	NotifyError(ctx context.Context, err error, label string) error
}

// NewService builds an ntfy-backed service, or a no-op one without a topic.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint:     topic,
		client:       &http.Client{Timeout: timeout},
		onlyProblems: cfg.Notifications.OnlyProblems,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint     string
	client       *http.Client
	onlyProblems bool
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, summaries []runner.Summary, took time.Duration) error {
	var created, failed, problems int
	var lines []string
	fatal := false
	for _, summary := range summaries {
		c, _, f := summary.Totals()
		created += c
		failed += f
		for _, report := range summary.Sources {
			if report.Status == ledger.StatusOK {
				continue
			}
			problems++
			lines = append(lines, fmt.Sprintf("%s %s: %s", summary.Phase, report.SourceKey, report.Status))
		}
		fatal = fatal || summary.Fatal()
	}
	if n.onlyProblems && problems == 0 {
		return nil
	}

	took = took.Round(time.Second)
	if took < 0 {
		took = 0
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d new, %d errors in %s", created, failed, took)
	for _, line := range lines {
		b.WriteString("\n")
		b.WriteString(line)
	}

	data := payload{
		title:   "gitloop - Run complete",
		message: b.String(),
		tags:    []string{"gitloop", "run", "completed"},
	}
	switch {
	case fatal:
		data.title = "gitloop - Run aborted"
		data.tags = []string{"gitloop", "run", "error"}
		data.priority = "high"
	case problems > 0:
		data.title = "gitloop - Run complete (with errors)"
		data.tags = []string{"gitloop", "run", "warning"}
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, label string) error {
	var b strings.Builder
	b.WriteString("Error")
	if label = strings.TrimSpace(label); label != "" {
		b.WriteString(" during ")
		b.WriteString(label)
	}
	b.WriteString(": ")
	if err != nil {
		b.WriteString(strings.TrimSpace(err.Error()))
	} else {
		b.WriteString("unknown")
	}
	return n.send(ctx, payload{
		title:    "gitloop - Error",
		message:  b.String(),
		tags:     []string{"gitloop", "error"},
		priority: "high",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyRunCompleted(context.Context, []runner.Summary, time.Duration) error {
	return nil
}

func (noopService) NotifyError(context.Context, error, string) error { return nil }
