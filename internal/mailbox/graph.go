package mailbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/marandu/sifen-ingest/pkg/models"
)

// DefaultGraphBaseURL is the production Microsoft Graph endpoint.
const DefaultGraphBaseURL = "https://graph.microsoft.com/v1.0"

// graphSource reads one Microsoft 365 mailbox through the Graph API.
// The oauth2 transport handles the client-credentials token exchange
// and refresh. "Deletion" is an archival move to the deleteditems
// folder, performed for all flagged messages at Close time.
type graphSource struct {
	httpClient *http.Client
	baseURL    string
	username   string
	window     Window
	max        int
	logger     *slog.Logger

	listed    map[string]graphMessage
	processed []string
}

type graphMessage struct {
	ID             string `json:"id"`
	Subject        string `json:"subject"`
	ReceivedAt     string `json:"receivedDateTime"`
	HasAttachments bool   `json:"hasAttachments"`
	From           struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
}

type graphAttachment struct {
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

// newGraphSource builds an authenticated Graph session for the account.
func newGraphSource(ctx context.Context, account *models.Account, baseURL string, window Window, max int, logger *slog.Logger) *graphSource {
	creds := &clientcredentials.Config{
		ClientID:     account.ClientID,
		ClientSecret: account.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", account.TenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}

	if baseURL == "" {
		baseURL = DefaultGraphBaseURL
	}

	return &graphSource{
		httpClient: creds.Client(ctx),
		baseURL:    baseURL,
		username:   account.Username,
		window:     window,
		max:        max,
		logger:     logger.With("username", account.Username),
		listed:     make(map[string]graphMessage),
	}
}

// List queries the inbox filtered server-side by received time.
func (s *graphSource) List(ctx context.Context) ([]string, error) {
	filter := fmt.Sprintf("receivedDateTime ge %s and receivedDateTime lt %s",
		s.window.Since.UTC().Format(time.RFC3339),
		s.window.Before.UTC().Format(time.RFC3339))

	u := fmt.Sprintf("%s/users/%s/mailFolders/inbox/messages?$filter=%s&$top=%d&$select=id,subject,from,receivedDateTime,hasAttachments",
		s.baseURL, url.PathEscape(s.username), url.QueryEscape(filter), s.max)

	var resp struct {
		Value []graphMessage `json:"value"`
	}
	if err := s.get(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	ids := make([]string, 0, len(resp.Value))
	for _, m := range resp.Value {
		s.listed[m.ID] = m
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// Fetch returns the message with its attachments. Messages without
// attachments skip the follow-up call entirely.
func (s *graphSource) Fetch(ctx context.Context, id string) (*Message, error) {
	meta, ok := s.listed[id]
	if !ok {
		return nil, fmt.Errorf("message %s was not listed in this session", id)
	}

	msg := &Message{
		Subject: meta.Subject,
		Sender:  meta.From.EmailAddress.Address,
	}
	if t, err := time.Parse(time.RFC3339, meta.ReceivedAt); err == nil {
		msg.ReceivedAt = &t
	}

	if !meta.HasAttachments {
		return msg, nil
	}

	u := fmt.Sprintf("%s/users/%s/messages/%s/attachments",
		s.baseURL, url.PathEscape(s.username), url.PathEscape(id))

	var resp struct {
		Value []graphAttachment `json:"value"`
	}
	if err := s.get(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}

	for _, att := range resp.Value {
		if att.Name == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(att.ContentBytes)
		if err != nil {
			s.logger.Warn("failed to decode attachment content", "filename", att.Name, "error", err)
			continue
		}
		mimeType := att.ContentType
		if mimeType == "" {
			mimeType = "application/xml"
		}
		msg.Attachments = append(msg.Attachments, Attachment{
			Filename: att.Name,
			MIMEType: mimeType,
			Data:     data,
		})
	}

	return msg, nil
}

// MarkProcessed flags a message for the archival move at Close time.
func (s *graphSource) MarkProcessed(id string) {
	s.processed = append(s.processed, id)
}

// Close moves every flagged message to deleteditems. A failed move is
// logged and the rest of the batch continues; the message simply stays
// in the inbox for the next cycle, which is safe because ingestion is
// idempotent.
func (s *graphSource) Close(ctx context.Context) error {
	for _, id := range s.processed {
		if err := s.archive(ctx, id); err != nil {
			s.logger.Warn("failed to archive message", "message_id", id, "error", err)
		}
	}
	if len(s.processed) > 0 {
		s.logger.Info("archived processed messages", "count", len(s.processed))
	}
	return nil
}

func (s *graphSource) archive(ctx context.Context, id string) error {
	u := fmt.Sprintf("%s/users/%s/messages/%s/move",
		s.baseURL, url.PathEscape(s.username), url.PathEscape(id))

	body, err := json.Marshal(map[string]string{"destinationId": "deleteditems"})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("graph API returned HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// get performs an authenticated GET and decodes the JSON response.
func (s *graphSource) get(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("graph API returned HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
