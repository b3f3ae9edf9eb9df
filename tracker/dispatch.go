package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/squint-dev/squint/issue"
)

// maxSummaryLen is the tracker's hard cap on summary length.
const maxSummaryLen = 255

// defaultSubmitDelay spaces successive submissions to stay under the
// tracker's rate limits.
const defaultSubmitDelay = 500 * time.Millisecond

// Created records one issue that became a ticket.
type Created struct {
	Issue  issue.Issue
	Ticket Ticket
}

// Failure records one issue that could not be ticketed.
type Failure struct {
	Issue issue.Issue
	Err   error
}

// DispatchResult is the full accounting of one bulk dispatch.
type DispatchResult struct {
	Total     int
	Succeeded int
	Failed    int
	Created   []Created
	Failures  []Failure
}

// Dispatcher submits issues one at a time, spacing submissions by a fixed
// delay. A failed submission is recorded in the result and never stops
// the remaining submissions.
type Dispatcher struct {
	client *Client
	delay  time.Duration
	logger *slog.Logger
}

// NewDispatcher wraps a Client. A non-positive delay falls back to the
// default spacing.
func NewDispatcher(client *Client, delay time.Duration, logger *slog.Logger) *Dispatcher {
	if delay <= 0 {
		delay = defaultSubmitDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{client: client, delay: delay, logger: logger}
}

// Dispatch files a ticket per issue. attachment, when set and readable,
// is uploaded against every created ticket as supporting evidence.
// Context cancellation stops the loop; issues not yet submitted are
// recorded as failures so the accounting stays complete.
func (d *Dispatcher) Dispatch(ctx context.Context, issues []issue.Issue, assignee, attachment string) DispatchResult {
	res := DispatchResult{Total: len(issues)}

	for i, is := range issues {
		if err := ctx.Err(); err != nil {
			for _, rest := range issues[i:] {
				res.Failures = append(res.Failures, Failure{Issue: rest, Err: err})
				res.Failed++
			}
			return res
		}
		if i > 0 {
			select {
			case <-time.After(d.delay):
			case <-ctx.Done():
			}
		}

		ticket, err := d.submit(ctx, is, assignee)
		if err != nil {
			d.logger.Warn("tracker: submission failed",
				"category", is.Category, "subcategory", is.Subcategory, "error", err)
			res.Failures = append(res.Failures, Failure{Issue: is, Err: err})
			res.Failed++
			continue
		}
		res.Created = append(res.Created, Created{Issue: is, Ticket: ticket})
		res.Succeeded++
		d.logger.Info("tracker: ticket created", "key", ticket.Key, "category", is.Category)

		if attachment != "" {
			if _, statErr := os.Stat(attachment); statErr == nil {
				if attErr := d.client.Attach(ctx, ticket.Key, attachment); attErr != nil {
					d.logger.Warn("tracker: attachment failed", "key", ticket.Key, "error", attErr)
				}
			}
		}
	}
	return res
}

func (d *Dispatcher) submit(ctx context.Context, is issue.Issue, assignee string) (Ticket, error) {
	summary := Summary(is)
	description := Description(is)
	labels := Labels(is)
	return d.client.CreateIssue(ctx, summary, description, is.Severity.String(), labels, assignee)
}

// Summary builds the ticket summary line, truncated to the tracker's cap
// on a rune boundary so a multi-byte character is never split.
func Summary(is issue.Issue) string {
	s := fmt.Sprintf("[Design QA] %s - %s: %s", is.Category, is.Subcategory, is.Description)
	if len(s) <= maxSummaryLen {
		return s
	}
	cut := maxSummaryLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Description builds the structured wiki-markup description block.
func Description(is issue.Issue) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*Category:* %s\n", is.Category)
	fmt.Fprintf(&sb, "*Subcategory:* %s\n", is.Subcategory)
	fmt.Fprintf(&sb, "*Severity:* %s\n\n", is.Severity)
	fmt.Fprintf(&sb, "*Description:*\n%s\n\n", is.Description)
	fmt.Fprintf(&sb, "*Expected Behavior:*\n%s\n\n", orNA(is.Expected))
	fmt.Fprintf(&sb, "*Actual Behavior:*\n%s\n\n", orNA(is.Actual))
	fmt.Fprintf(&sb, "*Element Locator:*\n%s\n\n", orNA(is.Locator))
	fmt.Fprintf(&sb, "*Rule:*\n%s\n\n", orNA(is.Rule))
	sb.WriteString("----\n_Created automatically by the design QA pipeline on ")
	sb.WriteString(time.Now().UTC().Format("2006-01-02 15:04:05 UTC"))
	sb.WriteString("_\n")
	return sb.String()
}

// Labels derives the ticket labels, including a slug of the category.
func Labels(is issue.Issue) []string {
	slug := strings.ReplaceAll(strings.ToLower(string(is.Category)), " ", "-")
	return []string{"design-qa", "automated-testing", slug}
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
