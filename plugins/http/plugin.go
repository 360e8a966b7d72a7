// Package http lets validation scripts call project services, for example
// to look up reference results or report credit decisions.
package http

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/go-resty/resty/v2"

	"github.com/BDNK1/scriptval/runtime/plugin"
)

// Config holds the HTTP plugin configuration with declarative tags
type Config struct {
	BaseURL     string            `yaml:"base_url" validate:"omitempty,url"`
	Headers     map[string]string `yaml:"headers"`
	Timeout     time.Duration     `yaml:"timeout" default:"30s" validate:"gte=1s"`
	MaxRetries  int               `yaml:"max_retries" default:"3" validate:"gte=0,lte=10"`
	Debug       bool              `yaml:"debug" default:"false"`
	RetryWaitMS int               `yaml:"retry_wait_ms" default:"100" validate:"gte=0,lte=10000"`
}

// RequestInput defines the typed input for HTTP requests
type RequestInput struct {
	URL         string            `json:"url" validate:"required"`
	Method      string            `json:"method" validate:"omitempty,oneof=GET POST PUT PATCH DELETE HEAD get post put patch delete head"`
	Headers     map[string]string `json:"headers"`
	QueryParams map[string]string `json:"query_parameters"`
	Body        any               `json:"body"`
	Form        map[string]any    `json:"form"`
	// Select extracts a dotted path from a JSON response, e.g. "result.credit".
	Select string `json:"select"`
}

// RequestOutput defines the typed output for HTTP requests
type RequestOutput struct {
	Status     string `json:"status"`
	StatusCode int    `json:"status_code"`
	IsError    bool   `json:"is_error"`
	Body       any    `json:"body"`
	Selected   any    `json:"selected,omitempty"`
	Found      bool   `json:"found"`
}

// HTTPPlugin implements HTTP request functionality as a plugin
type HTTPPlugin struct {
	Config Config // Exported so the CLI can set it during initialization
	client *resty.Client
}

// Initialize implements the plugin.Initializer interface
// Config is already validated by the framework before this is called
func (h *HTTPPlugin) Initialize(ctx context.Context) error {
	h.client = resty.New().
		SetTimeout(h.Config.Timeout).
		SetRetryCount(h.Config.MaxRetries).
		SetRetryWaitTime(time.Duration(h.Config.RetryWaitMS) * time.Millisecond).
		SetDebug(h.Config.Debug).
		SetHeaders(h.Config.Headers)

	if h.Config.BaseURL != "" {
		h.client.SetBaseURL(h.Config.BaseURL)
	}
	return nil
}

// Request executes an HTTP request. JSON responses are decoded; other
// bodies are returned as strings.
func (h *HTTPPlugin) Request(inv *plugin.Invocation, input RequestInput) (RequestOutput, error) {
	if h.client == nil {
		return RequestOutput{}, fmt.Errorf("http plugin not initialized")
	}

	method := strings.ToUpper(input.Method)
	if method == "" {
		method = "GET"
	}

	req := h.client.R().
		SetContext(inv).
		SetHeaders(input.Headers).
		SetQueryParams(input.QueryParams)

	switch {
	case input.Form != nil:
		req.SetFormData(flattenToFormData(input.Form, ""))
	case input.Body != nil:
		req.SetBody(input.Body)
	}

	resp, err := req.Execute(method, input.URL)
	if err != nil {
		return RequestOutput{}, fmt.Errorf("HTTP request failed: %w", err)
	}

	output := RequestOutput{
		Status:     resp.Status(),
		StatusCode: resp.StatusCode(),
		IsError:    resp.IsError(),
		Body:       string(resp.Body()),
	}

	parsed, err := gabs.ParseJSON(resp.Body())
	if err != nil {
		if input.Select != "" {
			return output, fmt.Errorf("select %q: response is not JSON: %w", input.Select, err)
		}
		return output, nil
	}
	output.Body = parsed.Data()

	if input.Select != "" {
		if parsed.ExistsP(input.Select) {
			output.Selected = parsed.Path(input.Select).Data()
			output.Found = true
		}
	}
	return output, nil
}

// Shutdown implements the plugin.Shutdowner interface
func (h *HTTPPlugin) Shutdown(ctx context.Context) error {
	h.client = nil
	return nil
}

// flattenToFormData encodes nested maps and lists with bracket keys:
// {"meta": {"host": "a"}, "ids": [1]} -> meta[host]=a, ids[0]=1.
func flattenToFormData(data map[string]any, prefix string) map[string]string {
	out := make(map[string]string)

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		key := k
		if prefix != "" {
			key = fmt.Sprintf("%s[%s]", prefix, k)
		}
		flattenValue(out, key, data[k])
	}
	return out
}

func flattenValue(out map[string]string, key string, v any) {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range flattenToFormData(val, key) {
			out[k] = item
		}
	case []any:
		for i, item := range val {
			flattenValue(out, fmt.Sprintf("%s[%d]", key, i), item)
		}
	case nil:
		out[key] = ""
	default:
		out[key] = fmt.Sprint(val)
	}
}
