package store

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"balance-service/internal/domain"
	"balance-service/internal/errors"
)

// GitHubStore persists documents as files in a GitHub repository through the
// contents API. A read returns the file content plus its blob SHA; a write is
// a PUT conditioned on that SHA, which GitHub rejects when the file changed
// since the read. That rejection is the store's only serialization point.
type GitHubStore struct {
	client  *http.Client
	baseURL string
	repo    string
	token   string
	logger  *slog.Logger
}

// NewGitHubStore creates a store writing to the given "owner/repo". baseURL
// is overridable for tests; pass "" for api.github.com.
func NewGitHubStore(repo, token, baseURL string, logger *slog.Logger) *GitHubStore {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &GitHubStore{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
		repo:    repo,
		token:   token,
		logger:  logger,
	}
}

type githubContent struct {
	Content string `json:"content"`
	SHA     string `json:"sha"`
}

func (s *GitHubStore) Read(ctx context.Context, key string) ([]byte, string, error) {
	url := fmt.Sprintf("%s/repos/%s/contents/%s", s.baseURL, s.repo, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", errors.ErrStoreUnavailable.WithDetails(err.Error())
	}
	req.Header.Set("Authorization", "token "+s.token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", errors.ErrStoreUnavailable.WithDetails(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", errors.ErrStoreUnavailable.WithDetails(fmt.Sprintf("github read: status %d", resp.StatusCode))
	}

	var file githubContent
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return nil, "", errors.ErrStoreUnavailable.WithDetails("github read: " + err.Error())
	}

	// The contents API wraps base64 at 60 columns; strip before decoding.
	raw, err := base64.StdEncoding.DecodeString(stripNewlines(file.Content))
	if err != nil {
		return nil, "", errors.ErrStoreUnavailable.WithDetails("github read: bad content encoding")
	}
	return raw, file.SHA, nil
}

func (s *GitHubStore) Write(ctx context.Context, key string, doc []byte, expectedVersion, note string) error {
	payload := map[string]string{
		"message": note,
		"content": base64.StdEncoding.EncodeToString(doc),
	}
	if expectedVersion != "" {
		payload["sha"] = expectedVersion
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.ErrStoreUnavailable.WithDetails(err.Error())
	}

	url := fmt.Sprintf("%s/repos/%s/contents/%s", s.baseURL, s.repo, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return errors.ErrStoreUnavailable.WithDetails(err.Error())
	}
	req.Header.Set("Authorization", "token "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.ErrStoreUnavailable.WithDetails(err.Error())
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return nil
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity:
		// The SHA no longer matches: another writer committed since our read.
		return errors.ErrStoreConflict
	default:
		return errors.ErrStoreUnavailable.WithDetails(fmt.Sprintf("github write: status %d", resp.StatusCode))
	}
}

func stripNewlines(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' || s[i] == '\r' {
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}

var _ domain.VersionedStore = (*GitHubStore)(nil)
