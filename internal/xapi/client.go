// Package xapi is a minimal X (Twitter) API v2 client covering the two
// calls the bot needs: reading a post's text and posting a reply.
package xapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dghubble/oauth1"
)

const defaultBaseURL = "https://api.twitter.com/2"

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIError is a non-2xx answer from the platform.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("x api: status %d: %s", e.StatusCode, e.Detail)
}

// RateLimited reports whether the platform asked us to back off.
func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Permanent reports whether retrying the same request is pointless
// (rejected content, missing permissions, deleted post). Throttling and
// timeouts are not permanent.
func (e *APIError) Permanent() bool {
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout {
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// Client calls the X API v2 with OAuth1 user-context signing.
type Client struct {
	httpClient HTTPClient
	baseURL    string
}

// New creates a Client that signs requests with the given user credentials.
func New(consumerKey, consumerSecret, accessToken, accessSecret string) *Client {
	config := oauth1.NewConfig(consumerKey, consumerSecret)
	token := oauth1.NewToken(accessToken, accessSecret)
	httpClient := config.Client(oauth1.NoContext, token)
	httpClient.Timeout = 30 * time.Second
	return &Client{httpClient: httpClient, baseURL: defaultBaseURL}
}

// NewWithClient creates a Client with a caller-supplied HTTP client and
// base URL, for tests.
func NewWithClient(client HTTPClient, baseURL string) *Client {
	return &Client{httpClient: client, baseURL: baseURL}
}

type postData struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type lookupResponse struct {
	Data   postData     `json:"data"`
	Errors []apiProblem `json:"errors"`
}

type apiProblem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// GetPost returns the text of a post. Deleted, protected and otherwise
// unreadable posts come back as errors.
func (c *Client) GetPost(ctx context.Context, postID string) (string, error) {
	url := fmt.Sprintf("%s/tweets/%s?tweet.fields=text", c.baseURL, postID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("get post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp.StatusCode, body)
	}

	var parsed lookupResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	// Lookups report missing or protected posts inside a 200 answer.
	if len(parsed.Errors) > 0 {
		return "", fmt.Errorf("post %s unreadable: %s", postID, problemText(parsed.Errors))
	}
	if parsed.Data.Text == "" {
		return "", fmt.Errorf("post %s has no text", postID)
	}
	return parsed.Data.Text, nil
}

type replyTarget struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

type createRequest struct {
	Text  string       `json:"text"`
	Reply *replyTarget `json:"reply,omitempty"`
}

type createResponse struct {
	Data postData `json:"data"`
}

// PostReply publishes text as a reply to postID and returns the new
// post's ID.
func (c *Client) PostReply(ctx context.Context, postID, text string) (string, error) {
	payload, err := json.Marshal(createRequest{
		Text:  text,
		Reply: &replyTarget{InReplyToTweetID: postID},
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tweets", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post reply: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", apiError(resp.StatusCode, body)
	}

	var parsed createResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.Data.ID == "" {
		return "", fmt.Errorf("reply to %s: response carries no post ID", postID)
	}
	return parsed.Data.ID, nil
}

func apiError(status int, body []byte) error {
	detail := struct {
		Title  string       `json:"title"`
		Detail string       `json:"detail"`
		Errors []apiProblem `json:"errors"`
	}{}
	_ = json.Unmarshal(body, &detail)

	msg := detail.Detail
	if msg == "" {
		msg = detail.Title
	}
	if msg == "" && len(detail.Errors) > 0 {
		msg = problemText(detail.Errors)
	}
	if msg == "" {
		msg = truncate(string(body), 200)
	}
	return &APIError{StatusCode: status, Detail: msg}
}

func problemText(problems []apiProblem) string {
	if len(problems) == 0 {
		return "unknown error"
	}
	p := problems[0]
	if p.Detail != "" {
		return p.Detail
	}
	if p.Title != "" {
		return p.Title
	}
	return "unknown error"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
