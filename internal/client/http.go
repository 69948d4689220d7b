package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	logx "dayong/pkg/logx"

	"github.com/imroc/req/v3"
	"golang.org/x/time/rate"
)

var _ Client = (*HTTPClient)(nil)

// HTTPClient is a Client backed by an HTTP API.
type HTTPClient struct {
	cli     *req.Client
	limiter *rate.Limiter
	log     logx.Logger
}

const maxErrBody = 512

// NewHTTP builds an HTTP content client.
func NewHTTP(cfg Config, log logx.Logger) (*HTTPClient, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, errors.New("client: base_url is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	cli := req.C().SetBaseURL(base)
	if cfg.Timeout > 0 {
		cli.SetTimeout(cfg.Timeout)
	}
	if cfg.UserAgent != "" {
		cli.SetUserAgent(cfg.UserAgent)
	}
	if cfg.Token != "" {
		cli.SetCommonBearerAuthToken(cfg.Token)
	}

	var lim *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &HTTPClient{cli: cli, limiter: lim, log: log.With(logx.String("comp", "client"))}, nil
}

// GetContent issues a GET for args[0] with optional query args[1].
//
// JSON bodies are decoded into any; other bodies are returned as string.
func (c *HTTPClient) GetContent(ctx context.Context, args ...any) (any, error) {
	path, query, err := parseArgs(args)
	if err != nil {
		return nil, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("client: rate limit wait: %w", err)
		}
	}

	c.log.Debug("get content", logx.String("path", path), logx.Int("query", len(query)))
	resp, err := c.cli.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("client: send request failed: %w", err)
	}
	body, err := resp.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("client: read body: %w", err)
	}
	if resp.IsErrorState() || resp.StatusCode >= 300 {
		s := string(body)
		if len(s) > maxErrBody {
			s = s[:maxErrBody]
		}
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status, Body: s}
	}

	if strings.Contains(strings.ToLower(resp.GetContentType()), "json") {
		var out any
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("client: decode %s: %w", path, err)
		}
		return out, nil
	}
	return string(body), nil
}

func parseArgs(args []any) (string, map[string]string, error) {
	if len(args) == 0 {
		return "", nil, fmt.Errorf("%w: path required", ErrBadArgs)
	}
	path, ok := args[0].(string)
	if !ok || strings.TrimSpace(path) == "" {
		return "", nil, fmt.Errorf("%w: path must be a non-empty string, got %T", ErrBadArgs, args[0])
	}
	if len(args) == 1 || args[1] == nil {
		return path, nil, nil
	}
	query, ok := args[1].(map[string]string)
	if !ok {
		return "", nil, fmt.Errorf("%w: query must be map[string]string, got %T", ErrBadArgs, args[1])
	}
	return path, query, nil
}
