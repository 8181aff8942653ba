package chainsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DurableStore is the off-system storage that holds record payloads. Upload
// must be idempotent per payload; Fetch must return exactly the stored bytes.
type DurableStore interface {
	Upload(ctx context.Context, payload []byte) (Upload, error)
	Fetch(ctx context.Context, id string) ([]byte, error)
}

// HTTPDurableStore talks to a durable-storage gateway over its REST API.
type HTTPDurableStore struct {
	baseURL string
	http    *http.Client
}

func NewHTTPDurableStore(baseURL string, timeout time.Duration) *HTTPDurableStore {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPDurableStore{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

func (s *HTTPDurableStore) Upload(ctx context.Context, payload []byte) (Upload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/objects", bytes.NewReader(payload))
	if err != nil {
		return Upload{}, fmt.Errorf("chainsync: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return Upload{}, fmt.Errorf("chainsync: upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Upload{}, fmt.Errorf("chainsync: upload: gateway returned %d", resp.StatusCode)
	}

	var out struct {
		ID   string `json:"id"`
		URL  string `json:"url"`
		Cost string `json:"cost,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Upload{}, fmt.Errorf("chainsync: decode upload receipt: %w", err)
	}

	up := Upload{ID: out.ID, URL: out.URL}
	if out.Cost != "" {
		fmt.Sscan(out.Cost, &up.Cost)
	}
	return up, nil
}

func (s *HTTPDurableStore) Fetch(ctx context.Context, id string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/objects/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("chainsync: build fetch request: %w", err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chainsync: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("chainsync: fetch %s: %w", id, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chainsync: fetch %s: gateway returned %d", id, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// MemoryDurableStore keeps payloads in-process.
type MemoryDurableStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	// FailUploads makes the next N uploads fail, for exercising retries.
	FailUploads int
	// Corrupt mutates stored bytes so integrity checks fail.
	Corrupt bool
}

func NewMemoryDurableStore() *MemoryDurableStore {
	return &MemoryDurableStore{objects: make(map[string][]byte)}
}

func (s *MemoryDurableStore) Upload(_ context.Context, payload []byte) (Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUploads > 0 {
		s.FailUploads--
		return Upload{}, fmt.Errorf("chainsync: upload: gateway returned 503")
	}
	stored := make([]byte, len(payload))
	copy(stored, payload)
	if s.Corrupt {
		stored = append(stored[:0:0], []byte(`{"corrupted":true}`)...)
	}
	id := uuid.NewString()
	s.objects[id] = stored
	return Upload{ID: id, URL: "memory://" + id}, nil
}

func (s *MemoryDurableStore) Fetch(_ context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.objects[id]
	if !ok {
		return nil, fmt.Errorf("chainsync: fetch %s: %w", id, ErrNotFound)
	}
	out := make([]byte, len(stored))
	copy(out, stored)
	return out, nil
}
