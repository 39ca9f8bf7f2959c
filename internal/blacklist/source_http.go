package blacklist

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// HTTPSource reads each list from an endpoint serving the scraped documents
// as a JSON array of {id, name?, reason?} objects.
type HTTPSource struct {
	UsersURL  string
	GroupsURL string
	Client    *http.Client
}

func (s *HTTPSource) FetchUsers(ctx context.Context) ([]Entry, error) {
	return s.fetch(ctx, s.UsersURL)
}

func (s *HTTPSource) FetchGroups(ctx context.Context) ([]Entry, error) {
	return s.fetch(ctx, s.GroupsURL)
}

func (s *HTTPSource) fetch(ctx context.Context, url string) ([]Entry, error) {
	if url == "" {
		return nil, fmt.Errorf("blacklist source URL not configured")
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch blacklist: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("blacklist source returned status %d", resp.StatusCode)
	}

	var entries []Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode blacklist: %w", err)
	}
	return entries, nil
}
