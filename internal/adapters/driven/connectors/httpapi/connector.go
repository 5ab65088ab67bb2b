// Package httpapi fetches records from paginated JSON read APIs, the shape
// most CRM-style systems expose: bearer-token auth, page tokens, and a
// modified-since filter for incremental pulls.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
)

// Ensure Connector implements the interface.
var _ driven.Connector = (*Connector)(nil)

const (
	defaultPageSize = 100
	defaultTimeout  = 30 * time.Second

	// defaultModifiedParam is used when the endpoint does not name its own
	// incremental filter field.
	defaultModifiedParam = "modified_since"
)

// pageEnvelope is the response shape the connector expects:
// a data array plus an opaque token for the next page.
type pageEnvelope struct {
	Data     []map[string]any `json:"data"`
	NextPage string           `json:"next_page"`
}

// Connector fetches one endpoint of an HTTP API source.
type Connector struct {
	source     string
	endpoint   domain.Endpoint
	baseURL    string
	authToken  string
	pageSize   int
	httpClient *http.Client
}

// NewConnector creates a connector scoped to one endpoint of a source.
func NewConnector(source *domain.Source, endpoint domain.Endpoint) (*Connector, error) {
	if source.Config.BaseURL == "" {
		return nil, fmt.Errorf("%w: source %s has no base_url", domain.ErrConfiguration, source.Name)
	}

	pageSize := source.Config.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	return &Connector{
		source:     source.Name,
		endpoint:   endpoint,
		baseURL:    strings.TrimSuffix(source.Config.BaseURL, "/"),
		authToken:  source.Config.AuthToken,
		pageSize:   pageSize,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}, nil
}

// Kind returns the source kind this connector serves.
func (c *Connector) Kind() domain.SourceKind {
	return domain.SourceKindHTTPAPI
}

// FetchPage fetches one page of records from the endpoint.
func (c *Connector) FetchPage(ctx context.Context, cursor string, filter driven.PageFilter) ([]domain.RawRecord, string, error) {
	env, err := c.getPage(ctx, cursor, filter)
	if err != nil {
		return nil, "", err
	}

	records := make([]domain.RawRecord, 0, len(env.Data))
	for _, data := range env.Data {
		records = append(records, domain.RawRecord{
			Source:   c.source,
			Endpoint: c.endpoint.Name,
			Data:     data,
		})
	}

	return records, env.NextPage, nil
}

// TestConnection fetches a single-record page to verify reachability and
// credentials before a run commits to fetching everything.
func (c *Connector) TestConnection(ctx context.Context) error {
	probe := driven.PageFilter{PageSize: 1}
	_, err := c.getPage(ctx, "", probe)
	return err
}

func (c *Connector) getPage(ctx context.Context, cursor string, filter driven.PageFilter) (*pageEnvelope, error) {
	reqURL, err := c.buildURL(cursor, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		// Timeouts, refused connections, resets.
		return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrTransient, c.source, c.endpoint.Name, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, c.source, c.endpoint.Name); err != nil {
		io.Copy(io.Discard, resp.Body)
		return nil, err
	}

	var env pageEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode page from %s/%s: %w", c.source, c.endpoint.Name, err)
	}
	return &env, nil
}

func (c *Connector) buildURL(cursor string, filter driven.PageFilter) (string, error) {
	u, err := url.Parse(c.baseURL + "/" + strings.TrimPrefix(c.endpoint.Path, "/"))
	if err != nil {
		return "", err
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = c.pageSize
	}

	q := u.Query()
	q.Set("page_size", strconv.Itoa(pageSize))
	if cursor != "" {
		q.Set("page", cursor)
	}

	// The source-side filter is the later of the watermark and an explicit
	// window start. The window end is enforced by the engine.
	if since := lowerBound(filter); since != nil {
		param := c.endpoint.ModifiedParam
		if param == "" {
			param = defaultModifiedParam
		}
		q.Set(param, since.UTC().Format(time.RFC3339))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

func lowerBound(filter driven.PageFilter) *time.Time {
	since := filter.ModifiedAfter
	if filter.WindowStart != nil && (since == nil || filter.WindowStart.After(*since)) {
		since = filter.WindowStart
	}
	return since
}

// classifyStatus maps HTTP status codes onto the error taxonomy: auth
// problems are configuration errors, throttling and server trouble are
// transient, everything else fails the run outright.
func classifyStatus(code int, source, endpoint string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %s/%s returned %d, check credentials", domain.ErrConfiguration, source, endpoint, code)
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return fmt.Errorf("%w: %s/%s returned %d", domain.ErrTransient, source, endpoint, code)
	default:
		return fmt.Errorf("%s/%s returned unexpected status %d", source, endpoint, code)
	}
}
