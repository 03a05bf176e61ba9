package aralia

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// maxResponseSize caps planet response bodies to prevent memory exhaustion.
const maxResponseSize = 32 * 1024 * 1024 // 32MB

const (
	searchPageSize  = 50
	explorePageSize = 1000
)

// Credentials configures access to a planet federation: the SSO realm that
// issues tokens and the galaxy host used for dataset discovery.
type Credentials struct {
	SSOURL       string
	GalaxyURL    string
	ClientID     string
	ClientSecret string
}

// APIError is a non-200 response from a planet endpoint.
type APIError struct {
	Status int
	URL    string
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("planet API %s returned %d: %s", e.URL, e.Status, e.Body)
}

// Client talks to Aralia planets. A bearer token is obtained lazily via the
// client-credentials grant and refreshed transparently when a request is
// rejected. Safe for concurrent use.
type Client struct {
	creds      Credentials
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.Mutex
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates a planet client. No network calls are made until the
// first request.
func NewClient(creds Credentials, opts ...Option) *Client {
	c := &Client{
		creds: creds,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Login obtains a fresh bearer token from the SSO realm.
func (c *Client) Login(ctx context.Context) error {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.creds.ClientID},
		"client_secret": {c.creds.ClientSecret},
	}

	endpoint := strings.TrimSuffix(c.creds.SSOURL, "/") + "/realms/stellar/protocol/openid-connect/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sso login: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read login response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, URL: endpoint, Body: truncateBody(body)}
	}

	var grant struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &grant); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if grant.AccessToken == "" {
		return fmt.Errorf("sso login: no access token in response")
	}

	c.mu.Lock()
	c.token = grant.AccessToken
	c.mu.Unlock()

	c.logger.Debug("planet login succeeded", "sso", c.creds.SSOURL)
	return nil
}

// SearchDatasets queries the galaxy catalog by keyword. Source URLs are
// truncated at their "/admin" segment so they address the planet API root.
func (c *Client) SearchDatasets(ctx context.Context, keyword string, pageSize int) ([]*Dataset, error) {
	if pageSize <= 0 {
		pageSize = searchPageSize
	}

	query := url.Values{
		"keyword":  {keyword},
		"pageSize": {strconv.Itoa(pageSize)},
	}
	raw, err := c.call(ctx, http.MethodGet, c.creds.GalaxyURL+"/api/galaxy/dataset", query, nil)
	if err != nil {
		return nil, fmt.Errorf("search datasets: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var hits []*Dataset
	if err := json.Unmarshal(raw, &hits); err != nil {
		return nil, fmt.Errorf("decode dataset search: %w", err)
	}
	for _, d := range hits {
		d.SourceURL, _, _ = strings.Cut(d.SourceURL, "/admin")
	}

	c.logger.Debug("dataset search", "keyword", keyword, "hits", len(hits))
	return hits, nil
}

// wireColumn is the planet's column record; transport-only keys are dropped
// when building the domain Column.
type wireColumn struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"displayName"`
	Type        ColumnType `json:"type"`
	Format      string     `json:"format,omitempty"`
	Visible     bool       `json:"visible"`
}

// DatasetMetadata fetches the column catalog for a dataset: its visible,
// typed columns merged with any virtual variables the planet defines. A nil
// map with nil error means the planet had no metadata for the dataset.
func (c *Client) DatasetMetadata(ctx context.Context, datasetID, sourceURL string) (map[string]*Column, error) {
	raw, err := c.call(ctx, http.MethodGet, sourceURL+"/api/dataset/"+datasetID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("dataset metadata %s: %w", datasetID, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var meta struct {
		Columns []wireColumn `json:"columns"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode dataset metadata %s: %w", datasetID, err)
	}
	if len(meta.Columns) == 0 {
		return nil, nil
	}

	columns := make(map[string]*Column, len(meta.Columns))
	for _, wc := range meta.Columns {
		if wc.Type == TypeUndefined || !wc.Visible {
			continue
		}
		columns[wc.ID] = &Column{
			ColumnID:    wc.ID,
			DisplayName: wc.DisplayName,
			Type:        wc.Type,
			Format:      wc.Format,
		}
	}

	// Virtual variables extend the catalog; losing them is not fatal.
	if raw, err := c.call(ctx, http.MethodGet, sourceURL+"/api/dataset/"+datasetID+"/virtual-variables", nil, nil); err != nil {
		c.logger.Debug("virtual variables unavailable", "dataset", datasetID, "error", err)
	} else if len(raw) > 0 {
		var virtuals []wireColumn
		if err := json.Unmarshal(raw, &virtuals); err != nil {
			c.logger.Debug("virtual variables undecodable", "dataset", datasetID, "error", err)
		} else {
			for _, wc := range virtuals {
				columns[wc.ID] = &Column{
					ColumnID:    wc.ID,
					DisplayName: wc.DisplayName,
					Type:        wc.Type,
					Format:      wc.Format,
				}
			}
		}
	}

	return columns, nil
}

// FilterOptions fills each field's Values with the distinct value domain
// reported by the planet. A field whose fetch fails keeps empty Values; the
// remaining fields are still resolved.
func (c *Client) FilterOptions(ctx context.Context, datasetID, sourceURL string, fields []*FilterField) error {
	endpoint := sourceURL + "/api/exploration/" + datasetID + "/filter-options"
	for _, field := range fields {
		if err := ctx.Err(); err != nil {
			return err
		}

		body := map[string][]*FilterField{"x": {field}}
		raw, err := c.call(ctx, http.MethodPost, endpoint, pageQuery(0, explorePageSize), body)
		if err != nil {
			c.logger.Warn("filter options unavailable", "dataset", datasetID, "column", field.ColumnID, "error", err)
			field.Values = nil
			continue
		}

		var rows []Row
		if err := json.Unmarshal(raw, &rows); err != nil {
			c.logger.Warn("filter options undecodable", "dataset", datasetID, "column", field.ColumnID, "error", err)
			field.Values = nil
			continue
		}

		values := make([]string, 0, len(rows))
		for _, row := range rows {
			if len(row.X) > 0 && len(row.X[0]) > 0 {
				values = append(values, stringifyValue(row.X[0][0]))
			}
		}
		field.Values = values
	}
	return nil
}

// explorationRequest is the wire form of a chart spec. The exploration
// endpoint expects filter fields nested one level deeper than the in-memory
// model, as a single group.
type explorationRequest struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	SourceURL   string           `json:"sourceURL"`
	X           []*AxisField     `json:"x"`
	Y           []*AxisField     `json:"y"`
	Filter      [][]*FilterField `json:"filter"`
}

func newExplorationRequest(chart *ChartSpec) explorationRequest {
	group := chart.Filter
	if group == nil {
		group = []*FilterField{}
	}
	return explorationRequest{
		ID:          chart.ID,
		Name:        chart.Name,
		Description: chart.Description,
		SourceURL:   chart.SourceURL,
		X:           chart.X,
		Y:           chart.Y,
		Filter:      [][]*FilterField{group},
	}
}

// Exploration executes a chart query and returns its grouped rows. Only the
// first page is fetched (pageSize 1000).
func (c *Client) Exploration(ctx context.Context, chart *ChartSpec) ([]Row, error) {
	endpoint := chart.SourceURL + "/api/exploration/" + chart.ID
	raw, err := c.call(ctx, http.MethodPost, endpoint, pageQuery(0, explorePageSize), newExplorationRequest(chart))
	if err != nil {
		return nil, fmt.Errorf("explore %s: %w", chart.ID, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var rows []Row
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode exploration rows: %w", err)
	}
	return rows, nil
}

// call sends an authenticated request, retrying once with a fresh token when
// the planet rejects it, and unwraps the response envelope.
func (c *Client) call(ctx context.Context, method, rawURL string, query url.Values, body any) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.ensureToken(ctx); err != nil {
			lastErr = err
			continue
		}

		req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build planet request: %w", err)
		}
		if query != nil {
			req.URL.RawQuery = query.Encode()
		}
		req.Header.Set("Authorization", "Bearer "+c.bearer())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("planet request: %w", err)
			continue
		}

		data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			if readErr != nil {
				lastErr = fmt.Errorf("read planet response: %w", readErr)
				continue
			}
			return unwrapEnvelope(data)
		}

		lastErr = &APIError{Status: resp.StatusCode, URL: req.URL.String(), Body: truncateBody(data)}
		c.logger.Warn("planet request rejected",
			"method", method,
			"url", req.URL.Redacted(),
			"status", resp.StatusCode,
			"attempt", attempt+1)

		// A rejected token is refreshed before the next attempt.
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
	}

	return nil, lastErr
}

func (c *Client) ensureToken(ctx context.Context) error {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		return nil
	}
	return c.Login(ctx)
}

func (c *Client) bearer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// unwrapEnvelope extracts the payload from the planet's {"data": ...}
// envelope. When data carries a "list" field, the list is the payload.
func unwrapEnvelope(body []byte) (json.RawMessage, error) {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode planet envelope: %w", err)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil, nil
	}

	var inner struct {
		List json.RawMessage `json:"list"`
	}
	if err := json.Unmarshal(envelope.Data, &inner); err == nil &&
		len(inner.List) > 0 && string(inner.List) != "null" {
		return inner.List, nil
	}
	return envelope.Data, nil
}

func pageQuery(start, pageSize int) url.Values {
	return url.Values{
		"start":    {strconv.Itoa(start)},
		"pageSize": {strconv.Itoa(pageSize)},
	}
}

func stringifyValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
