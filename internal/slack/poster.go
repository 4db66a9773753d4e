package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

// Digest is what an ended meeting contributes to the channel post.
type Digest struct {
	MeetingID       string
	Title           string
	MeetingType     string
	MeetingNumber   int
	Duration        time.Duration
	Summary         string
	KeyPoints       []string
	ActionItems     []string
	MissedQuestions []string
	QuestionsUsed   int
	XPEarned        int
	LeveledUp       bool
	NewLevel        int
	Fallback        bool
}

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// PostMeetingDigest posts an ended meeting's summary. Returns the message
// timestamp.
func (p *Poster) PostMeetingDigest(ctx context.Context, d Digest) (string, error) {
	text := formatDigest(d)

	body, err := json.Marshal(map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": fmt.Sprintf("meeting `%s`", d.MeetingID),
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}

	p.logger.Info("posted meeting digest to slack", "ts", slackResp.TS, "meeting_id", d.MeetingID)
	return slackResp.TS, nil
}

func formatDigest(d Digest) string {
	var sb strings.Builder

	title := d.Title
	if title == "" {
		title = "Untitled meeting"
	}
	fmt.Fprintf(&sb, "*Meeting:* %s (%s #%d, %s)\n", title, d.MeetingType, d.MeetingNumber, d.Duration.Round(time.Second))
	if d.Fallback {
		sb.WriteString("_AI summary unavailable, local digest below._\n")
	}
	fmt.Fprintf(&sb, "%s\n\n", d.Summary)

	writeList(&sb, "Key points", d.KeyPoints)
	writeList(&sb, "Action items", d.ActionItems)
	writeList(&sb, "Missed questions", d.MissedQuestions)

	fmt.Fprintf(&sb, "*Questions used:* %d | *XP:* +%d", d.QuestionsUsed, d.XPEarned)
	if d.LeveledUp {
		fmt.Fprintf(&sb, " | :tada: reached level %d", d.NewLevel)
	}
	return sb.String()
}

func writeList(sb *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "*%s: %d*\n", heading, len(items))
	for i, it := range items {
		fmt.Fprintf(sb, "%d. %s\n", i+1, it)
	}
	sb.WriteString("\n")
}
