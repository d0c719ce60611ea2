package cache

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

func fetchSnapshot(ctx context.Context, client *http.Client, url string) (map[Key][]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %s: %s", resp.Status, body)
	}
	return decode(resp.Body)
}
