// Package upstream is the typed WhatsApp Cloud API client (spec.md
// §4.3), generalizing internal/core/whatsapp/cloud_api.go: same base
// URL construction, same Bearer-token sendRequest helper and sendRequest
// shape, expanded with the interactive/reaction/media operations the
// teacher's provider interface never needed and a process-wide
// concurrency semaphore.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// Envelope is the raw upstream response to a send call; the Message
// Processor extracts the assigned upstream_id from Messages[0].ID.
type Envelope struct {
	MessagingProduct string `json:"messaging_product,omitempty"`
	Messages         []struct {
		ID string `json:"id"`
	} `json:"messages,omitempty"`
	Contacts []struct {
		Input string `json:"input,omitempty"`
		WaID  string `json:"wa_id,omitempty"`
	} `json:"contacts,omitempty"`
}

// UpstreamID returns the first assigned message id, or "" if absent.
func (e Envelope) UpstreamID() string {
	if len(e.Messages) == 0 {
		return ""
	}
	return e.Messages[0].ID
}

// Error is a typed non-2xx response, carrying status and body so
// callers can log/propagate per spec.md §7.
type Error struct {
	Status int
	Body   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream: status %d: %s", e.Status, e.Body)
}

// Client is the sole collaborator for the WhatsApp Cloud API; every
// method returns the raw envelope (or typed Error) rather than
// swallowing the response, per spec.md §4.3.
type Client struct {
	baseURL     string
	mediaBase   string
	accessToken string
	httpClient  *http.Client
	sem         chan struct{}
}

// Config mirrors internal/core/whatsapp/cloud_api.go's CloudAPIConfig,
// plus the concurrency tunable named in spec.md §4.3/§5.
type Config struct {
	PhoneNumberID string
	AccessToken   string
	APIVersion    string
	MaxConcurrency int
}

func New(cfg Config) (*Client, error) {
	if cfg.PhoneNumberID == "" {
		return nil, fmt.Errorf("upstream: phone_number_id is required")
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("upstream: access_token is required")
	}
	version := cfg.APIVersion
	if version == "" {
		version = "v19.0"
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	return &Client{
		baseURL:     fmt.Sprintf("https://graph.facebook.com/%s/%s", version, cfg.PhoneNumberID),
		mediaBase:   fmt.Sprintf("https://graph.facebook.com/%s", version),
		accessToken: cfg.AccessToken,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		sem:         make(chan struct{}, cfg.MaxConcurrency),
	}, nil
}

func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() { <-c.sem }

func cleanRecipient(to string) string {
	return strings.TrimSuffix(strings.TrimSuffix(to, "@c.us"), "@s.whatsapp.net")
}

// SendText sends a text message, optionally quoting replyTo.
func (c *Client) SendText(ctx context.Context, to, body, replyTo string) (Envelope, error) {
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                cleanRecipient(to),
		"type":              "text",
		"text":              map[string]interface{}{"preview_url": false, "body": body},
	}
	if replyTo != "" {
		payload["context"] = map[string]string{"message_id": replyTo}
	}
	return c.post(ctx, "/messages", payload)
}

// MediaRef is either an uploaded media handle (ID) or a public link.
type MediaRef struct {
	ID  string
	Link string
}

func mediaPayload(ref MediaRef, caption string) map[string]interface{} {
	m := map[string]interface{}{}
	if ref.ID != "" {
		m["id"] = ref.ID
	} else {
		m["link"] = ref.Link
	}
	if caption != "" {
		m["caption"] = caption
	}
	return m
}

// SendMedia sends image/video/audio/document/sticker media, by
// uploaded handle or public URL.
func (c *Client) SendMedia(ctx context.Context, to, mediaType string, ref MediaRef, caption string) (Envelope, error) {
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                cleanRecipient(to),
		"type":              mediaType,
		mediaType:           mediaPayload(ref, caption),
	}
	return c.post(ctx, "/messages", payload)
}

// SendInteractiveProduct sends a single-product interactive message.
func (c *Client) SendInteractiveProduct(ctx context.Context, to, catalogID, retailerID, bodyText string) (Envelope, error) {
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                cleanRecipient(to),
		"type":              "interactive",
		"interactive": map[string]interface{}{
			"type": "product",
			"body": map[string]string{"text": bodyText},
			"action": map[string]interface{}{
				"catalog_id":          catalogID,
				"product_retailer_id": retailerID,
			},
		},
	}
	return c.post(ctx, "/messages", payload)
}

// ProductItem is one row of an interactive product list section.
type ProductItem struct {
	RetailerID string
}

const productListChunkSize = 30

// ChunkProductList splits items into chunks of at most 30 (spec.md
// §4.3's "Part X/Y" pagination). It returns only the chunks;
// SendInteractiveProductList builds each chunk's bilingual header and
// item-range body text.
func ChunkProductList(items []ProductItem) [][]ProductItem {
	var chunks [][]ProductItem
	for i := 0; i < len(items); i += productListChunkSize {
		end := i + productListChunkSize
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[i:end])
	}
	return chunks
}

// SendInteractiveProductList sends one chunk of a paginated product
// list, part index/total are 1-based.
func (c *Client) SendInteractiveProductList(ctx context.Context, to, catalogID, sectionTitle string, chunk []ProductItem, part, total, startIdx int) (Envelope, error) {
	endIdx := startIdx + len(chunk) - 1
	header := fmt.Sprintf("Part %d/%d · Partie %d/%d", part, total, part, total)
	body := fmt.Sprintf("Items %d-%d / Articles %d-%d", startIdx, endIdx, startIdx, endIdx)

	rows := make([]map[string]string, len(chunk))
	for i, item := range chunk {
		rows[i] = map[string]string{"product_retailer_id": item.RetailerID}
	}

	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                cleanRecipient(to),
		"type":              "interactive",
		"interactive": map[string]interface{}{
			"type":   "product_list",
			"header": map[string]string{"type": "text", "text": header},
			"body":   map[string]string{"text": body},
			"action": map[string]interface{}{
				"catalog_id": catalogID,
				"sections": []map[string]interface{}{
					{"title": truncate(sectionTitle, 24), "product_items": rows},
				},
			},
		},
	}
	return c.post(ctx, "/messages", payload)
}

// Button is one reply button; Title is truncated to 20 chars per
// spec.md's "Bit-level notes".
type Button struct {
	ID    string
	Title string
}

// SendInteractiveButtons sends every given reply button; the number of
// buttons is not checked here.
func (c *Client) SendInteractiveButtons(ctx context.Context, to, bodyText string, buttons []Button) (Envelope, error) {
	rows := make([]map[string]interface{}, len(buttons))
	for i, b := range buttons {
		rows[i] = map[string]interface{}{
			"type":  "reply",
			"reply": map[string]string{"id": b.ID, "title": truncate(b.Title, 20)},
		}
	}
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                cleanRecipient(to),
		"type":              "interactive",
		"interactive": map[string]interface{}{
			"type":   "button",
			"body":   map[string]string{"text": bodyText},
			"action": map[string]interface{}{"buttons": rows},
		},
	}
	return c.post(ctx, "/messages", payload)
}

// ListRow is one row of an interactive list section.
type ListRow struct {
	ID, Title, Description string
}

// ListSection is one section of an interactive list.
type ListSection struct {
	Title string
	Rows  []ListRow
}

// SendInteractiveList sends a sectioned list message; section titles
// truncate to 24 chars, row titles to 24, descriptions to 72.
func (c *Client) SendInteractiveList(ctx context.Context, to, bodyText, buttonText string, sections []ListSection) (Envelope, error) {
	apiSections := make([]map[string]interface{}, len(sections))
	for i, s := range sections {
		rows := make([]map[string]string, len(s.Rows))
		for j, r := range s.Rows {
			rows[j] = map[string]string{
				"id":          r.ID,
				"title":       truncate(r.Title, 24),
				"description": truncate(r.Description, 72),
			}
		}
		apiSections[i] = map[string]interface{}{"title": truncate(s.Title, 24), "rows": rows}
	}
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                cleanRecipient(to),
		"type":              "interactive",
		"interactive": map[string]interface{}{
			"type": "list",
			"body": map[string]string{"text": bodyText},
			"action": map[string]interface{}{
				"button":   buttonText,
				"sections": apiSections,
			},
		},
	}
	return c.post(ctx, "/messages", payload)
}

// SendReaction sends (or clears, when emoji=="") a reaction to
// targetUpstreamID.
func (c *Client) SendReaction(ctx context.Context, to, targetUpstreamID, emoji string) (Envelope, error) {
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                cleanRecipient(to),
		"type":              "reaction",
		"reaction": map[string]string{
			"message_id": targetUpstreamID,
			"emoji":      emoji,
		},
	}
	return c.post(ctx, "/messages", payload)
}

// MarkRead marks an inbound message as read.
func (c *Client) MarkRead(ctx context.Context, upstreamID string) error {
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        upstreamID,
	}
	_, err := c.post(ctx, "/messages", payload)
	return err
}

// UploadMedia uploads raw bytes and returns the assigned media handle.
func (c *Client) UploadMedia(ctx context.Context, filename, mimeType string, data []byte) (string, error) {
	if err := c.acquire(ctx); err != nil {
		return "", err
	}
	defer c.release()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("messaging_product", "whatsapp"); err != nil {
		return "", err
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", mimeType)
	part, err := w.CreatePart(header)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/media", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upstream: upload media: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Error{Status: resp.StatusCode, Body: string(body)}
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("upstream: decode upload response: %w", err)
	}
	return out.ID, nil
}

// GetMediaURL resolves a media id to its short-lived download URL.
func (c *Client) GetMediaURL(ctx context.Context, mediaID string) (string, error) {
	if err := c.acquire(ctx); err != nil {
		return "", err
	}
	defer c.release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.mediaBase+"/"+mediaID, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upstream: get media url: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Error{Status: resp.StatusCode, Body: string(body)}
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("upstream: decode media url response: %w", err)
	}
	return out.URL, nil
}

// DownloadMedia performs the two-step download: resolve the URL, then
// fetch the bytes, returning the content-type alongside.
func (c *Client) DownloadMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	mediaURL, err := c.GetMediaURL(ctx, mediaID)
	if err != nil {
		return nil, "", err
	}

	if err := c.acquire(ctx); err != nil {
		return nil, "", err
	}
	defer c.release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("upstream: download media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, "", &Error{Status: resp.StatusCode, Body: string(body)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// Ping confirms the phone-number-id endpoint is reachable with the
// configured access token, by fetching its metadata. It issues no send
// and costs nothing against the messaging rate limit, so /health can
// call it on every probe.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upstream: ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return &Error{Status: resp.StatusCode, Body: string(body)}
	}
	return nil
}

// post is the shared send-and-decode helper, generalizing
// internal/core/whatsapp/cloud_api.go's sendRequest to return the
// envelope instead of discarding it, gated by the concurrency semaphore.
func (c *Client) post(ctx context.Context, path string, payload interface{}) (Envelope, error) {
	if err := c.acquire(ctx); err != nil {
		return Envelope{}, err
	}
	defer c.release()

	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("upstream: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return Envelope{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Envelope{}, fmt.Errorf("upstream: request failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Envelope{}, &Error{Status: resp.StatusCode, Body: string(body)}
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("upstream: decode response: %w", err)
	}
	return env, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
