package tool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
)

const previewChars = 2000

type fetcher struct {
	client *http.Client
}

func (f *fetcher) get(ctx context.Context, args map[string]any) (map[string]any, error) {
	url := args["url"].(string)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, networkError("network.get", fmt.Errorf("create request: %w", err))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, networkError("network.get", fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	body, err := readText(resp)
	if err != nil {
		return nil, networkError("network.get", err)
	}

	return map[string]any{
		"url":         url,
		"status_code": resp.StatusCode,
		"preview":     preview(body, previewChars),
		"chars":       utf8.RuneCountInString(body),
	}, nil
}

// readText decodes the body to UTF-8 using the declared or sniffed charset.
func readText(resp *http.Response) (string, error) {
	reader, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return "", fmt.Errorf("decode body: %w", err)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	if !utf8.Valid(data) {
		return "", fmt.Errorf("decode body: not valid text")
	}

	return string(data), nil
}

func preview(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
