package hoststack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ContextPath is the host endpoint that merges POSTed JSON into the context
// of later requests and answers with the merged result.
const ContextPath = "/__appmock/context"

// maxErrorBody caps how much of a failed response ends up in an error.
const maxErrorBody = 1024

// MockContext merges data into the mocked request context of the app, or of
// every worker, and returns the merged context of the first one.
func (s *Stack) MockContext(ctx context.Context, data map[string]any) (map[string]any, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode mock context: %w", err)
	}

	var first map[string]any
	for i, p := range s.procs() {
		merged, err := postContext(ctx, p.URL()+ContextPath, body)
		if err != nil {
			return nil, fmt.Errorf("mock context on %s: %w", p.Name(), err)
		}
		if i == 0 {
			first = merged
		}
	}
	if first == nil {
		return nil, fmt.Errorf("mock context: %w", ErrStopped)
	}
	return first, nil
}

func postContext(ctx context.Context, url string, body []byte) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var merged map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&merged); err != nil {
		return nil, fmt.Errorf("decode mock context: %w", err)
	}
	return merged, nil
}
