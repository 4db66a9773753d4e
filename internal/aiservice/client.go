package aiservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Client talks to the speech-to-text and question generation service.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type Segment struct {
	Text        string   `json:"text"`
	Speaker     string   `json:"speaker,omitempty"`
	SpeakerRole string   `json:"speakerRole,omitempty"`
	StartTime   *float64 `json:"startTime,omitempty"`
}

type Transcription struct {
	Text          string    `json:"text"`
	FormattedText string    `json:"formatted_text,omitempty"`
	Segments      []Segment `json:"segments,omitempty"`
	Latency       *float64  `json:"latency,omitempty"`
	Provider      string    `json:"provider,omitempty"`
}

type Question struct {
	Text     string `json:"text"`
	Category string `json:"category,omitempty"`
	Priority Priority `json:"priority,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// Priority is a question's urgency on a 1-10 scale. The service sends
// either a number or one of the labels in priorityLabels.
type Priority int

var priorityLabels = map[string]Priority{
	"critical":  9,
	"important": 6,
	"follow_up": 3,
}

func (p *Priority) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*p = 0
		return nil
	}
	var label string
	if err := json.Unmarshal(b, &label); err == nil {
		label = strings.ToLower(strings.TrimSpace(label))
		if n, err := strconv.ParseFloat(label, 64); err == nil {
			*p = Priority(math.Round(n))
			return nil
		}
		// Unknown labels map to 0.
		*p = priorityLabels[strings.ReplaceAll(label, "-", "_")]
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("priority: %w", err)
	}
	*p = Priority(math.Round(n))
	return nil
}

type RecentMeeting struct {
	Date         string   `json:"date"`
	Summary      string   `json:"summary"`
	KeyQuestions []string `json:"keyQuestions"`
}

type RelationshipContext struct {
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	Industry       string          `json:"industry,omitempty"`
	Stage          string          `json:"stage,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	StructuredData map[string]any  `json:"structured_data"`
	MeetingNumber  int             `json:"meeting_number"`
	RecentMeetings []RecentMeeting `json:"recent_meetings"`
}

type GenerateRequest struct {
	Transcript   string               `json:"transcript"`
	Relationship *RelationshipContext `json:"relationship,omitempty"`
	Persona      string               `json:"persona,omitempty"`
}

type questionsResponse struct {
	Questions []Question `json:"questions"`
}

type SummaryTranscript struct {
	Text        string   `json:"text"`
	Speaker     string   `json:"speaker,omitempty"`
	SpeakerRole string   `json:"speakerRole,omitempty"`
	StartTime   *float64 `json:"startTime,omitempty"`
}

type SummaryQuestion struct {
	Text     string `json:"text"`
	Category string `json:"category,omitempty"`
	IsUsed   bool   `json:"isUsed"`
}

type SummaryRelationship struct {
	Name           string         `json:"name"`
	Type           string         `json:"type"`
	Industry       string         `json:"industry,omitempty"`
	Stage          string         `json:"stage,omitempty"`
	StructuredData map[string]any `json:"structuredData,omitempty"`
}

type SummaryRequest struct {
	Transcripts         []SummaryTranscript  `json:"transcripts"`
	Questions           []SummaryQuestion    `json:"questions"`
	RelationshipContext *SummaryRelationship `json:"relationship_context,omitempty"`
}

type Summary struct {
	Summary              string         `json:"summary"`
	KeyPoints            []string       `json:"keyPoints"`
	Decisions            []string       `json:"decisions"`
	ActionItems          []string       `json:"actionItems"`
	KeyQuestions         []string       `json:"keyQuestions"`
	MissedQuestions      []string       `json:"missedQuestions"`
	SuggestedDataUpdates map[string]any `json:"suggestedDataUpdates,omitempty"`
	NextMeetingAgenda    []string       `json:"nextMeetingAgenda"`
}

// envelope is the {success, data} wrapper some endpoints use.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

// Transcribe uploads one audio chunk as multipart field "audio".
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (*Transcription, error) {
	if filename == "" {
		filename = "chunk.webm"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("write audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	respBody, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var t Transcription
	if err := json.Unmarshal(respBody, &t); err != nil {
		return nil, fmt.Errorf("unmarshal transcription: %w", err)
	}
	return &t, nil
}

// GenerateQuestions calls the basic generator with the transcript only.
func (c *Client) GenerateQuestions(ctx context.Context, req GenerateRequest) ([]Question, error) {
	req.Relationship = nil
	var resp questionsResponse
	if err := c.postJSON(ctx, "/questions/generate", req, &resp); err != nil {
		return nil, err
	}
	return resp.Questions, nil
}

// GenerateWithRelationship calls the context-aware generator.
func (c *Client) GenerateWithRelationship(ctx context.Context, req GenerateRequest) ([]Question, error) {
	if req.Relationship == nil {
		return nil, fmt.Errorf("relationship context is required")
	}
	var resp questionsResponse
	if err := c.postJSON(ctx, "/questions/generate-with-relationship", req, &resp); err != nil {
		return nil, err
	}
	return resp.Questions, nil
}

// Summarize accepts the summary either bare or wrapped in {success, data}.
func (c *Client) Summarize(ctx context.Context, req SummaryRequest) (*Summary, error) {
	var raw json.RawMessage
	if err := c.postJSON(ctx, "/summary/generate", req, &raw); err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Success != nil {
		if !*env.Success {
			return nil, fmt.Errorf("summary failed: %s", env.Error)
		}
		raw = env.Data
	}

	var s Summary
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("unmarshal summary: %w", err)
	}
	if s.Summary == "" {
		return nil, fmt.Errorf("empty summary")
	}
	return &s, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	respBody, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil {
			if msg := errResp.Detail + errResp.Error; msg != "" {
				return nil, fmt.Errorf("api error %d: %s", resp.StatusCode, msg)
			}
		}
		return nil, fmt.Errorf("api error %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
