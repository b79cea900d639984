package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SlackNotifier sends notifications to Slack via webhook
type SlackNotifier struct {
	webhookURL string
	channel    string
	username   string
	iconEmoji  string
	client     *http.Client
	now        func() time.Time
}

// SlackOption is a functional option for SlackNotifier
type SlackOption func(*SlackNotifier)

// WithSlackChannel sets the Slack channel
func WithSlackChannel(channel string) SlackOption {
	return func(s *SlackNotifier) {
		s.channel = channel
	}
}

// WithSlackUsername sets the Slack bot username
func WithSlackUsername(username string) SlackOption {
	return func(s *SlackNotifier) {
		s.username = username
	}
}

// WithSlackIconEmoji sets the Slack bot icon emoji
func WithSlackIconEmoji(emoji string) SlackOption {
	return func(s *SlackNotifier) {
		s.iconEmoji = emoji
	}
}

// WithSlackHTTPClient replaces the HTTP client used to post messages.
func WithSlackHTTPClient(c *http.Client) SlackOption {
	return func(s *SlackNotifier) {
		s.client = c
	}
}

// NewSlackNotifier creates a new Slack notifier
func NewSlackNotifier(webhookURL string, opts ...SlackOption) *SlackNotifier {
	s := &SlackNotifier{
		webhookURL: webhookURL,
		username:   "hitsuite",
		iconEmoji:  ":test_tube:",
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *SlackNotifier) Name() string {
	return "slack"
}

type slackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields,omitempty"`
	Footer string       `json:"footer,omitempty"`
	TS     int64        `json:"ts,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Notify sends a notification to Slack
func (s *SlackNotifier) Notify(ctx context.Context, summary *RunSummary) error {
	return postJSON(ctx, s.client, s.webhookURL, s.message(summary))
}

func (s *SlackNotifier) message(summary *RunSummary) slackMessage {
	color := "good"
	title := fmt.Sprintf("%s passed", testName(summary))
	emoji := ":white_check_mark:"

	switch {
	case !summary.Passed():
		color = "danger"
		title = fmt.Sprintf("%s: %d request(s) failed", testName(summary), summary.Failed)
		emoji = ":x:"
	case summary.IsRecovery:
		title = fmt.Sprintf("%s recovered", testName(summary))
		emoji = ":tada:"
	}

	fields := []slackField{
		{Title: "Started", Value: fmt.Sprintf("%d", summary.Started), Short: true},
		{Title: "Succeeded", Value: fmt.Sprintf("%d", summary.Succeeded), Short: true},
		{Title: "Failed", Value: fmt.Sprintf("%d", summary.Failed), Short: true},
		{Title: "Duration", Value: summary.Duration.Round(time.Millisecond).String(), Short: true},
	}
	if summary.Environment != "" {
		fields = append(fields, slackField{Title: "Environment", Value: summary.Environment, Short: true})
	}

	var text strings.Builder
	if len(summary.FailedResults) > 0 {
		text.WriteString("*Failed requests:*\n")
		for _, f := range summary.FailedResults {
			fmt.Fprintf(&text, "• `%s` (#%s)\n", f.Name, f.Index)
			if f.Error != "" {
				fmt.Fprintf(&text, "  - %s\n", f.Error)
			}
		}
	}

	return slackMessage{
		Channel:   s.channel,
		Username:  s.username,
		IconEmoji: s.iconEmoji,
		Attachments: []slackAttachment{{
			Color:  color,
			Title:  emoji + " " + title,
			Text:   text.String(),
			Fields: fields,
			Footer: "hitsuite run " + summary.RunID,
			TS:     s.now().Unix(),
		}},
	}
}

func testName(s *RunSummary) string {
	if s.Test == "" {
		return "Run"
	}
	return s.Test
}
