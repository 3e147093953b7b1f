package civicdesksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal CivicDesk HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	ActorName   string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Action is one audit-trail entry on a complaint.
type Action struct {
	Action    string `json:"action"`
	Timestamp string `json:"timestamp"`
	By        string `json:"by"`
}

// Complaint mirrors the decorated complaint the API returns.
type Complaint struct {
	ID          string   `json:"id"`
	UserID      string   `json:"userId"`
	UserName    string   `json:"userName"`
	Mobile      string   `json:"mobile"`
	Description string   `json:"description"`
	Lat         *float64 `json:"lat"`
	Lng         *float64 `json:"lng"`
	Address     string   `json:"address"`
	ImagePath   string   `json:"imagePath"`
	Department  string   `json:"department"`
	Priority    string   `json:"priority"`
	Status      string   `json:"status"`
	Deadline    string   `json:"deadline"`
	CreatedAt   string   `json:"createdAt"`
	LastUpdated string   `json:"lastUpdated"`
	Actions     []Action `json:"actions"`
	TimePassed  string   `json:"timePassed"`
	HoursPassed int      `json:"hoursPassed"`
	IsOverdue   bool     `json:"isOverdue"`
}

// Overview is the admin projection over all complaints.
type Overview struct {
	Items      []Complaint            `json:"items"`
	Recent     []Complaint            `json:"recent"`
	ByPriority map[string][]Complaint `json:"byPriority"`
	AnyOverdue bool                   `json:"anyOverdue"`
}

// StatusMessage is the generic {success, message} acknowledgement.
type StatusMessage struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SubmitOptions are the multipart fields of a new complaint.
type SubmitOptions struct {
	UserID      string
	UserName    string
	Mobile      string
	Description string
	Lat         *float64
	Lng         *float64
	ImageName   string
	Image       io.Reader
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// SubmitComplaint files a complaint, optionally with a photo attachment.
func (c *Client) SubmitComplaint(ctx context.Context, opts SubmitOptions) (StatusMessage, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"userId":      opts.UserID,
		"userName":    opts.UserName,
		"mobile":      opts.Mobile,
		"description": opts.Description,
	}
	if opts.Lat != nil {
		fields["lat"] = strconv.FormatFloat(*opts.Lat, 'f', -1, 64)
	}
	if opts.Lng != nil {
		fields["lng"] = strconv.FormatFloat(*opts.Lng, 'f', -1, 64)
	}
	for key, val := range fields {
		if val == "" {
			continue
		}
		if err := mw.WriteField(key, val); err != nil {
			return StatusMessage{}, err
		}
	}
	if opts.Image != nil {
		part, err := mw.CreateFormFile("image", opts.ImageName)
		if err != nil {
			return StatusMessage{}, err
		}
		if _, err := io.Copy(part, opts.Image); err != nil {
			return StatusMessage{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return StatusMessage{}, err
	}
	var resp StatusMessage
	err := c.doRaw(ctx, http.MethodPost, "v0/submit-complaint", &buf, mw.FormDataContentType(), &resp)
	return resp, err
}

// UpdateStatus moves a complaint through the lifecycle.
func (c *Client) UpdateStatus(ctx context.Context, complaintID, status, adminName string, forced bool) (StatusMessage, error) {
	body := map[string]any{
		"complaintId": complaintID,
		"status":      status,
	}
	if adminName != "" {
		body["adminName"] = adminName
	}
	if forced {
		body["forced"] = true
	}
	var resp StatusMessage
	err := c.do(ctx, http.MethodPost, "v0/update-complaint-status", body, &resp)
	return resp, err
}

// Classify assigns a department and priority, which sets the SLA deadline.
func (c *Client) Classify(ctx context.Context, complaintID, department, priority, adminName string) (StatusMessage, error) {
	body := map[string]any{
		"complaintId": complaintID,
		"department":  department,
		"priority":    priority,
	}
	if adminName != "" {
		body["adminName"] = adminName
	}
	var resp StatusMessage
	err := c.do(ctx, http.MethodPost, "v0/classify-complaint", body, &resp)
	return resp, err
}

// Complaints returns the admin overview, optionally filtered by department.
func (c *Client) Complaints(ctx context.Context, department string) (Overview, error) {
	endpoint := "v0/complaints"
	if department != "" {
		endpoint += "?department=" + url.QueryEscape(department)
	}
	var resp Overview
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Complaint fetches one decorated complaint.
func (c *Client) Complaint(ctx context.Context, id string) (Complaint, error) {
	var resp Complaint
	err := c.do(ctx, http.MethodGet, "v0/complaints/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// MyComplaints lists a citizen's complaints, newest first.
func (c *Client) MyComplaints(ctx context.Context, userID string) ([]Complaint, error) {
	var resp struct {
		Items []Complaint `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v0/my-complaints?userId="+url.QueryEscape(userID), nil, &resp)
	return resp.Items, err
}

// BotQuery asks the FAQ responder.
func (c *Client) BotQuery(ctx context.Context, message string) (string, error) {
	var resp struct {
		Reply string `json:"reply"`
	}
	err := c.do(ctx, http.MethodPost, "v0/bot-query", map[string]any{"message": message}, &resp)
	return resp.Reply, err
}

// BotCheckStatus asks the bot about a citizen's complaints.
func (c *Client) BotCheckStatus(ctx context.Context, userID, message string) (string, error) {
	var resp struct {
		Reply string `json:"reply"`
	}
	body := map[string]any{"userId": userID, "message": message}
	err := c.do(ctx, http.MethodPost, "v0/bot-check-status", body, &resp)
	return resp.Reply, err
}

// Health pings the service.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "v0/health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	return c.doRaw(ctx, method, endpoint, &buf, "application/json", out)
}

func (c *Client) doRaw(ctx context.Context, method, endpoint string, body io.Reader, contentType string, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorName != "":
		req.Header.Set("X-Actor-Name", c.ActorName)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
