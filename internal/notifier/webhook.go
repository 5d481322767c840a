package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/snowflake-tools/credit-sentinel/internal/config"
	"github.com/snowflake-tools/credit-sentinel/internal/model"
)

// WebhookNotifier posts a markdown summary of each report to a generic
// JSON webhook (Slack-compatible payload shape).
type WebhookNotifier struct {
	webhookURL string
	retries    int
	retryDelay time.Duration
	client     *http.Client
}

// webhookMessage is the posted payload.
type webhookMessage struct {
	Text string `json:"text"`
}

// NewWebhookNotifier creates a new webhook notifier.
func NewWebhookNotifier(cfg *config.NotifierConfig) (*WebhookNotifier, error) {
	retryDelay, err := cfg.RetryDelayParsed()
	if err != nil {
		retryDelay = time.Second
	}

	return &WebhookNotifier{
		webhookURL: cfg.WebhookURL,
		retries:    cfg.Retries,
		retryDelay: retryDelay,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Name returns the notifier name.
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// Send posts the report summary to the webhook.
func (w *WebhookNotifier) Send(ctx context.Context, report *model.Report) error {
	msg := webhookMessage{Text: w.formatMessage(report)}
	return w.sendWithRetry(ctx, msg)
}

// formatMessage creates a markdown summary from the report.
func (w *WebhookNotifier) formatMessage(report *model.Report) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("## %s Credit Sentinel Report\n\n", statusEmoji(report)))

	if report.NoData {
		sb.WriteString("No query history in the analysis window. ")
		sb.WriteString("Check ACCOUNT_USAGE privileges or widen the window.\n")
		sb.WriteString(fmt.Sprintf("\n*Run ID: %s*\n", report.RunID))
		return sb.String()
	}

	sb.WriteString("### 📊 Overview\n")
	sb.WriteString(fmt.Sprintf("> **Window**: %s ~ %s\n",
		report.Window.Start.Format("2006-01-02 15:04"),
		report.Window.End.Format("2006-01-02 15:04")))
	sb.WriteString(fmt.Sprintf("> **Queries Analyzed**: %d\n", report.Stats.QueryCount))
	sb.WriteString(fmt.Sprintf("> **Credits Used**: %.2f\n\n", report.Stats.TotalCredits))

	if report.TotalIssues > 0 {
		sb.WriteString("**Issues Found**:\n")
		sb.WriteString(fmt.Sprintf("- 🔴 %d total (%d critical)\n", report.TotalIssues, report.CriticalIssues))
		sb.WriteString(fmt.Sprintf("- SQL anti-patterns: %d | Performance: %d | Operational: %d\n\n",
			report.Categories.SQL, report.Categories.Performance, report.Categories.Operational))

		sb.WriteString("### 💡 Findings\n")
		lines := SummaryLines(report)
		for i, line := range lines {
			if i >= 8 {
				sb.WriteString(fmt.Sprintf("... and %d more detectors with findings\n", len(lines)-8))
				break
			}
			sb.WriteString(line + "\n")
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("✅ No issues detected; queries are running efficiently.\n\n")
	}

	if len(report.TopQueries) > 0 {
		sb.WriteString("### ⏱ Top Queries\n")
		for i, q := range report.TopQueries {
			if i >= 3 {
				sb.WriteString(fmt.Sprintf("... and %d more\n", len(report.TopQueries)-3))
				break
			}
			sb.WriteString(fmt.Sprintf("**%d.** `%s` — %.1fs, %.2f GB (%s)\n",
				i+1, q.QueryID, q.ExecutionSec, q.BytesScannedGB, q.WarehouseName))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("---\n")
	sb.WriteString(fmt.Sprintf("*Run ID: %s*\n", report.RunID))

	return sb.String()
}

// sendWithRetry sends the message with exponential backoff retry.
func (w *WebhookNotifier) sendWithRetry(ctx context.Context, msg webhookMessage) error {
	var lastErr error
	delay := w.retryDelay

	for attempt := 0; attempt <= w.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				delay *= 2 // Exponential backoff
			}
		}

		err := w.send(ctx, msg)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d retries: %w", w.retries, lastErr)
}

// send performs the actual HTTP request.
func (w *WebhookNotifier) send(ctx context.Context, msg webhookMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

func statusEmoji(report *model.Report) string {
	switch {
	case report.NoData:
		return "⚪"
	case report.CriticalIssues > 0:
		return "🔴"
	case report.TotalIssues > 0:
		return "⚠️"
	default:
		return "✅"
	}
}
