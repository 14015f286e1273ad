// Path: internal/scraper/loki.go
package scraper

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/gzhttp"
	"golang.org/x/time/rate"

	"loki-downloader/internal/config"
	"loki-downloader/internal/domain"
)

const queryRangePath = "/loki/api/v1/query_range"

// maxEntriesMessage is how Loki reports a limit above its max_entries_limit_per_query.
const maxEntriesMessage = "max entries limit per query exceeded"

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 4 << 10

// Client is a client for the Loki query_range API.
type Client struct {
	baseURL   string
	client    *http.Client
	limiter   *rate.Limiter
	headers   http.Header
	queryTags string
	username  string
	password  string
	logger    *log.Logger
}

// NewClient creates and configures a new Client.
func NewClient(cfg config.LokiConfig, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	headers := make(http.Header)
	for _, h := range cfg.Headers {
		name, value, _ := strings.Cut(h, ":")
		headers.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	if cfg.OrgID != "" {
		headers.Set("X-Scope-OrgID", cfg.OrgID)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: gzhttp.Transport(http.DefaultTransport),
		},
		limiter:   rate.NewLimiter(limit, 1),
		headers:   headers,
		queryTags: strings.Join(cfg.QueryTags, ","),
		username:  cfg.Username,
		password:  cfg.Password,
		logger:    logger,
	}
}

// --- Wire format ---

type queryResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Data   struct {
		ResultType string        `json:"resultType"`
		Result     []queryResult `json:"result"`
	} `json:"data"`
}

// queryResult is one stream (log queries) or one series (metric queries).
type queryResult struct {
	Stream map[string]string   `json:"stream"`
	Metric map[string]string   `json:"metric"`
	Values [][]json.RawMessage `json:"values"`
}

// Fetch runs one query_range call and returns the records of every stream merged in
// traversal order. Cancelling ctx aborts the request in flight.
func (c *Client) Fetch(ctx context.Context, req domain.FetchRequest) ([]domain.Record, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("query", req.Query)
	params.Set("limit", strconv.Itoa(req.Limit))
	params.Set("start", req.Start.String())
	params.Set("end", req.End.String())
	params.Set("direction", req.Direction.Upper())
	endpoint := c.baseURL + queryRangePath + "?" + params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header = c.headers.Clone()
	httpReq.Header.Set("Accept", "application/json")
	if c.queryTags != "" {
		httpReq.Header.Set("X-Query-Tags", c.queryTags)
	}
	if c.username != "" || c.password != "" {
		httpReq.SetBasicAuth(c.username, c.password)
	}

	c.logger.Debug("GET", "endpoint", queryRangePath, "start", req.Start, "end", req.End, "limit", req.Limit, "direction", req.Direction)
	started := time.Now()

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &domain.RemoteQueryError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		text := strings.TrimSpace(string(body))
		c.logger.Debug("API error", "status", resp.StatusCode, "response", text)
		if strings.Contains(text, maxEntriesMessage) {
			return nil, fmt.Errorf("%w (limit %d)", domain.ErrMaxResultWindowExceeded, req.Limit)
		}
		return nil, &domain.RemoteQueryError{StatusCode: resp.StatusCode, Body: text}
	}

	var payload queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &domain.RemoteQueryError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if payload.Status != "" && payload.Status != "success" {
		return nil, &domain.RemoteQueryError{StatusCode: resp.StatusCode, Body: payload.Error}
	}

	records, err := decodeResults(payload.Data.ResultType, payload.Data.Result)
	if err != nil {
		return nil, &domain.RemoteQueryError{StatusCode: resp.StatusCode, Err: err}
	}
	sortRecords(records, req.Direction)
	if req.Limit > 0 && len(records) > req.Limit {
		records = records[:req.Limit]
	}

	c.logger.Debug("Page fetched", "records", len(records), "streams", len(payload.Data.Result), "took", time.Since(started))
	return records, nil
}

func decodeResults(resultType string, results []queryResult) ([]domain.Record, error) {
	var records []domain.Record
	for _, res := range results {
		labels := res.Stream
		if resultType == "matrix" {
			labels = res.Metric
		}
		for _, value := range res.Values {
			if len(value) < 2 {
				return nil, fmt.Errorf("value has %d elements, want at least 2", len(value))
			}
			var raw domain.Cursor
			var err error
			switch resultType {
			case "streams":
				raw, err = parseNanos(value[0])
			case "matrix":
				raw, err = parseSeconds(value[0])
			default:
				return nil, fmt.Errorf("unsupported result type %q", resultType)
			}
			if err != nil {
				return nil, err
			}
			var line string
			if err := json.Unmarshal(value[1], &line); err != nil {
				return nil, fmt.Errorf("invalid value: %w", err)
			}
			records = append(records, domain.Record{
				Timestamp:    raw.Time(),
				RawTimestamp: raw,
				Content:      line,
				Labels:       labels,
			})
		}
	}
	return records, nil
}

// parseNanos reads a stream timestamp: a string of nanoseconds since the epoch.
func parseNanos(raw json.RawMessage) (domain.Cursor, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("invalid stream timestamp %s: %w", raw, err)
	}
	return domain.ParseCursor(s)
}

// parseSeconds reads a matrix timestamp: decimal seconds, possibly fractional.
// The digits are converted directly so no precision is lost to float64.
func parseSeconds(raw json.RawMessage) (domain.Cursor, error) {
	s := strings.Trim(string(raw), `"`)
	whole, frac, _ := strings.Cut(s, ".")
	sec, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid matrix timestamp %s: %w", raw, err)
	}
	if len(frac) > 9 {
		frac = frac[:9]
	}
	var nanos int64
	if frac != "" {
		nanos, err = strconv.ParseInt(frac+strings.Repeat("0", 9-len(frac)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid matrix timestamp %s: %w", raw, err)
		}
	}
	return domain.Cursor(sec*int64(time.Second) + nanos), nil
}

// sortRecords orders records the way the window is traversed. Streams come back as
// separate arrays, so their entries have to be interleaved by timestamp.
func sortRecords(records []domain.Record, direction domain.Direction) {
	slices.SortStableFunc(records, func(a, b domain.Record) int {
		if direction == domain.DirectionForward {
			return cmp.Compare(a.RawTimestamp, b.RawTimestamp)
		}
		return cmp.Compare(b.RawTimestamp, a.RawTimestamp)
	})
}

// IsRetryable reports whether a failed Fetch may succeed if the run is started again.
func IsRetryable(err error) bool {
	var rq *domain.RemoteQueryError
	return errors.As(err, &rq) && !domain.IsUnrecoverable(err)
}
