package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"whatsapp-alert/internal/alert"
)

// History writes fired alerts to an index and reads the latest ones back.
type History struct {
	client *Client
	index  string
}

func NewHistory(client *Client, index string) *History {
	return &History{client: client, index: index}
}

// Record indexes one fired alert under a fresh document id.
func (h *History) Record(ctx context.Context, rec alert.Record) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(rec); err != nil {
		return err
	}
	res, err := h.client.Index(ctx, h.index, uuid.NewString(), &buf)
	if err != nil {
		return fmt.Errorf("index alert: %w", err)
	}
	if res.IsError() {
		return fmt.Errorf("index error: %s", res.String())
	}
	return nil
}

// Recent returns up to n alerts, newest first. An optional tag filters on
// tag_name.
func (h *History) Recent(ctx context.Context, n int, tag string) ([]alert.Record, error) {
	if n <= 0 {
		n = 20
	}
	query := map[string]any{"match_all": map[string]any{}}
	if tag = strings.TrimSpace(tag); tag != "" {
		query = map[string]any{
			"bool": map[string]any{
				"filter": []any{
					map[string]any{"term": map[string]any{"tag_name.keyword": tag}},
				},
			},
		}
	}
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(map[string]any{"query": query})

	res, err := h.client.Search(ctx, h.index, &buf, n, "fired_at:desc")
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search error: %s", res.String())
	}
	var parsed struct {
		Hits struct {
			Hits []struct {
				Source alert.Record `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	out := make([]alert.Record, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		out = append(out, hit.Source)
	}
	return out, nil
}
