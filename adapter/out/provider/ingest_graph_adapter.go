// Package provider contains remote mail API adapters.
package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"

	"ingest_server/core/domain"
	"ingest_server/core/port/out"
	"ingest_server/pkg/httputil"
	"ingest_server/pkg/logger"
	"ingest_server/pkg/resilience"
)

const (
	defaultGraphBaseURL = "https://graph.microsoft.com/v1.0"
	providerName        = "graph"
	folderPageSize      = 100
)

// messageListSelect keeps folder listings light; bodies and headers are
// only fetched per message.
const (
	messageListSelect   = "id,subject,from,receivedDateTime,hasAttachments"
	messageDetailSelect = "id,subject,from,receivedDateTime,body,hasAttachments,internetMessageHeaders"
)

// GraphAdapter implements out.MailProvider against the Microsoft Graph
// mail API. Transient failures (5xx, 429, network) are retried with
// backoff; sustained failures trip a circuit breaker so a dead upstream
// fails fast instead of burning the retry budget on every message.
type GraphAdapter struct {
	baseURL     string
	client      *http.Client
	tokens      out.TokenProvider
	mailbox     string
	callTimeout time.Duration
	retry       *resilience.RetryConfig
	cb          *gobreaker.CircuitBreaker
	log         *logger.Logger
}

// GraphConfig holds Graph adapter configuration.
type GraphConfig struct {
	Mailbox     string
	CallTimeout time.Duration
	BaseURL     string       // override for tests, defaults to the public endpoint
	HTTPClient  *http.Client // override for tests
	Retry       *resilience.RetryConfig
}

// NewGraphAdapter creates a Graph mail adapter.
func NewGraphAdapter(cfg *GraphConfig, tokens out.TokenProvider) *GraphAdapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGraphBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = httputil.GraphClient()
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	retry := cfg.Retry
	if retry == nil {
		retry = resilience.DefaultRetryConfig()
	}

	log := logger.WithField("adapter", providerName)

	cbSettings := gobreaker.Settings{
		Name:        "graph-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state change")
		},
	}

	return &GraphAdapter{
		baseURL:     baseURL,
		client:      client,
		tokens:      tokens,
		mailbox:     cfg.Mailbox,
		callTimeout: callTimeout,
		retry:       retry,
		cb:          gobreaker.NewCircuitBreaker(cbSettings),
		log:         log,
	}
}

// =============================================================================
// MailProvider
// =============================================================================

// ListRootFolders returns the mailbox's top-level folders, following
// server paging until exhausted.
func (a *GraphAdapter) ListRootFolders(ctx context.Context) ([]out.MailFolder, error) {
	return a.listFolders(ctx, fmt.Sprintf("/users/%s/mailFolders", url.PathEscape(a.mailbox)))
}

// ListChildFolders returns the direct children of a folder.
func (a *GraphAdapter) ListChildFolders(ctx context.Context, folderID string) ([]out.MailFolder, error) {
	return a.listFolders(ctx, fmt.Sprintf("/users/%s/mailFolders/%s/childFolders",
		url.PathEscape(a.mailbox), url.PathEscape(folderID)))
}

func (a *GraphAdapter) listFolders(ctx context.Context, path string) ([]out.MailFolder, error) {
	params := url.Values{}
	params.Set("$top", strconv.Itoa(folderPageSize))
	next := path + "?" + params.Encode()

	var folders []out.MailFolder
	for next != "" {
		var resp struct {
			Value []struct {
				ID               string `json:"id"`
				DisplayName      string `json:"displayName"`
				ChildFolderCount int    `json:"childFolderCount"`
			} `json:"value"`
			NextLink string `json:"@odata.nextLink"`
		}
		if err := a.get(ctx, next, &resp); err != nil {
			return nil, err
		}
		for _, f := range resp.Value {
			folders = append(folders, out.MailFolder{
				ID:               f.ID,
				DisplayName:      f.DisplayName,
				ChildFolderCount: f.ChildFolderCount,
			})
		}
		next = a.relativize(resp.NextLink)
	}
	return folders, nil
}

// ListMessages returns up to max message summaries from a folder,
// newest first.
func (a *GraphAdapter) ListMessages(ctx context.Context, folderID string, max int) ([]out.MessageSummary, error) {
	params := url.Values{}
	params.Set("$top", strconv.Itoa(max))
	params.Set("$orderby", "receivedDateTime desc")
	params.Set("$select", messageListSelect)

	var resp struct {
		Value []graphMessage `json:"value"`
	}
	path := fmt.Sprintf("/users/%s/mailFolders/%s/messages?%s",
		url.PathEscape(a.mailbox), url.PathEscape(folderID), params.Encode())
	if err := a.get(ctx, path, &resp); err != nil {
		return nil, err
	}

	summaries := make([]out.MessageSummary, 0, len(resp.Value))
	for _, m := range resp.Value {
		received, _ := time.Parse(time.RFC3339, m.ReceivedDateTime)
		summaries = append(summaries, out.MessageSummary{
			ID:             m.ID,
			Subject:        m.Subject,
			SenderEmail:    m.From.EmailAddress.Address,
			ReceivedAt:     received,
			HasAttachments: m.HasAttachments,
		})
	}
	return summaries, nil
}

// GetMessage fetches the full message body and internet headers.
func (a *GraphAdapter) GetMessage(ctx context.Context, messageID string) (*domain.RawMessage, error) {
	params := url.Values{}
	params.Set("$select", messageDetailSelect)

	var msg graphMessage
	path := fmt.Sprintf("/users/%s/messages/%s?%s",
		url.PathEscape(a.mailbox), url.PathEscape(messageID), params.Encode())
	if err := a.get(ctx, path, &msg); err != nil {
		return nil, err
	}

	received, _ := time.Parse(time.RFC3339, msg.ReceivedDateTime)

	raw := &domain.RawMessage{
		MessageID:             msg.ID,
		Subject:               msg.Subject,
		SenderName:            msg.From.EmailAddress.Name,
		SenderEmail:           msg.From.EmailAddress.Address,
		ReceivedAt:            received,
		BodyHTML:              msg.Body.Content,
		BodyContentType:       strings.ToLower(msg.Body.ContentType),
		AuthenticationResults: headerValue(msg.InternetMessageHeaders, "Authentication-Results"),
	}
	return raw, nil
}

// GetAttachments fetches all attachments of a message with their
// payloads decoded.
func (a *GraphAdapter) GetAttachments(ctx context.Context, messageID string) ([]domain.Attachment, error) {
	var resp struct {
		Value []graphAttachment `json:"value"`
	}
	path := fmt.Sprintf("/users/%s/messages/%s/attachments",
		url.PathEscape(a.mailbox), url.PathEscape(messageID))
	if err := a.get(ctx, path, &resp); err != nil {
		return nil, err
	}

	attachments := make([]domain.Attachment, 0, len(resp.Value))
	for _, ga := range resp.Value {
		// Reference and item attachments carry no contentBytes.
		if ga.ContentBytes == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(ga.ContentBytes)
		if err != nil {
			return nil, out.NewProviderError(providerName, out.ProviderErrMalformed,
				fmt.Sprintf("attachment %s: invalid base64 payload", ga.Name), err, false)
		}
		attachments = append(attachments, domain.Attachment{
			ID:          ga.ID,
			Name:        ga.Name,
			ContentID:   ga.ContentID,
			ContentType: ga.ContentType,
			Size:        ga.Size,
			IsInline:    ga.IsInline,
			Data:        data,
		})
	}
	return attachments, nil
}

// =============================================================================
// HTTP plumbing
// =============================================================================

func (a *GraphAdapter) get(ctx context.Context, path string, result interface{}) error {
	return resilience.Do(ctx, a.retry, func() error {
		return a.callOnce(ctx, path, result)
	})
}

func (a *GraphAdapter) callOnce(ctx context.Context, path string, result interface{}) error {
	_, err := a.cb.Execute(func() (interface{}, error) {
		if err := a.doRequest(ctx, path, result); err != nil {
			// Only upstream outages should trip the breaker; caller
			// mistakes and auth problems are wrapped so they pass
			// through without opening the circuit.
			if !resilience.IsRetryable(err) {
				return nil, &nonCircuitError{err: err}
			}
			return nil, err
		}
		return nil, nil
	})

	if nce, ok := err.(*nonCircuitError); ok {
		return nce.err
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return out.NewProviderError(providerName, out.ProviderErrServer,
			"circuit breaker open", err, false)
	}
	return err
}

func (a *GraphAdapter) doRequest(ctx context.Context, path string, result interface{}) error {
	token, err := a.tokens.AccessToken(ctx)
	if err != nil {
		return out.NewProviderError(providerName, out.ProviderErrAuth,
			"failed to acquire access token", err, false)
	}

	ctx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", a.baseURL+path, nil)
	if err != nil {
		return out.NewProviderError(providerName, out.ProviderErrMalformed,
			"failed to build request", err, false)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return out.NewProviderError(providerName, out.ProviderErrServer,
			"request failed", err, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return a.wrapHTTPError(resp)
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return out.NewProviderError(providerName, out.ProviderErrMalformed,
				"failed to decode response", err, false)
		}
	}
	return nil
}

func (a *GraphAdapter) wrapHTTPError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))

	var apiErr struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	detail := apiErr.Error.Message
	if detail == "" {
		detail = strings.TrimSpace(string(body))
	}
	msg := fmt.Sprintf("graph API error %d: %s", resp.StatusCode, detail)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return out.NewProviderError(providerName, out.ProviderErrTokenExpired, msg, nil, false)
	case http.StatusForbidden:
		return out.NewProviderError(providerName, out.ProviderErrAuth, msg, nil, false)
	case http.StatusNotFound, http.StatusGone:
		return out.NewProviderError(providerName, out.ProviderErrNotFound, msg, nil, false)
	case http.StatusTooManyRequests:
		perr := out.NewProviderError(providerName, out.ProviderErrRateLimit, msg, nil, true)
		if d := parseRetryAfter(resp.Header.Get("Retry-After")); d > 0 {
			perr = perr.WithRetryAfter(d)
		}
		return perr
	default:
		if resp.StatusCode >= 500 {
			return out.NewProviderError(providerName, out.ProviderErrServer, msg, nil, true)
		}
		return out.NewProviderError(providerName, out.ProviderErrMalformed, msg, nil, false)
	}
}

// relativize strips the base URL from a server-provided @odata.nextLink
// so paging stays on the configured endpoint.
func (a *GraphAdapter) relativize(nextLink string) string {
	if nextLink == "" {
		return ""
	}
	if strings.HasPrefix(nextLink, a.baseURL) {
		return strings.TrimPrefix(nextLink, a.baseURL)
	}
	u, err := url.Parse(nextLink)
	if err != nil {
		return ""
	}
	rel := u.Path
	if i := strings.Index(rel, "/users/"); i >= 0 {
		rel = rel[i:]
	}
	if u.RawQuery != "" {
		rel += "?" + u.RawQuery
	}
	return rel
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func headerValue(headers []graphHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string { return e.err.Error() }

// =============================================================================
// Graph API types
// =============================================================================

type graphMessage struct {
	ID                     string         `json:"id"`
	Subject                string         `json:"subject"`
	From                   graphRecipient `json:"from"`
	Body                   graphBody      `json:"body"`
	HasAttachments         bool           `json:"hasAttachments"`
	ReceivedDateTime       string         `json:"receivedDateTime"`
	InternetMessageHeaders []graphHeader  `json:"internetMessageHeaders"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphRecipient struct {
	EmailAddress graphEmailAddress `json:"emailAddress"`
}

type graphEmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type graphHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type graphAttachment struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentID    string `json:"contentId"`
	Size         int64  `json:"size"`
	IsInline     bool   `json:"isInline"`
	ContentBytes string `json:"contentBytes"`
}

var _ out.MailProvider = (*GraphAdapter)(nil)
