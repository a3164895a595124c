package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/pullpilot/internal/fleet"
)

// DefaultIndex is used when the DSN names no index.
const DefaultIndex = "update-history"

// Sink sends history records to OpenSearch via HTTP.
// Each record is indexed as baseURL/index/_doc/<id>, so re-sending a
// record overwrites the same document.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

type document struct {
	ID        int64              `json:"id"`
	Status    fleet.RecordStatus `json:"status"`
	Timestamp time.Time          `json:"timestamp"`
	Summary   string             `json:"summary"`
	Details   map[string]any     `json:"details"`
}

func New(baseURL, index string) *Sink {
	if index == "" {
		index = DefaultIndex
	}
	c := &http.Client{Timeout: 5 * time.Second}
	return &Sink{client: c, baseURL: strings.TrimRight(baseURL, "/"), index: index}
}

func (s *Sink) Send(ctx context.Context, rec fleet.HistoryRecord) error {
	u := fmt.Sprintf("%s/%s/_doc/%d", s.baseURL, s.index, rec.ID)
	b, err := json.Marshal(document{
		ID:        rec.ID,
		Status:    rec.Status,
		Timestamp: rec.Timestamp.UTC(),
		Summary:   rec.Summary,
		Details:   rec.Details.Map(),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("opensearch sink status %d", resp.StatusCode)
	}
	return nil
}
