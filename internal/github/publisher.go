// Package github publishes report files to a repository as one atomic
// commit through the git data API: blobs, one tree, one commit, then a
// single ref update. The branch only moves at the very last step, so a
// failure anywhere earlier leaves the repository untouched.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/Develata/rss-ai-news/internal/config"
)

const defaultAPIBase = "https://api.github.com"

// ErrNotConfigured signals that token or repository are missing; the caller
// decides whether that is fatal for the run.
var ErrNotConfigured = errors.New("github publishing not configured")

// File is one path/content pair to publish.
type File struct {
	Path    string
	Content string
}

// Publisher pushes batches of files to one repository's default branch.
type Publisher struct {
	client       *http.Client
	apiBase      string
	token        string
	repo         string
	targetFolder string
}

// New builds a Publisher from GitHub settings, reading the token from the
// configured environment variable. Returns ErrNotConfigured when token or
// repo are absent.
func New(cfg config.GitHub, timeout time.Duration) (*Publisher, error) {
	token := os.Getenv(cfg.TokenEnv)
	if token == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNotConfigured, cfg.TokenEnv)
	}
	if cfg.Repo == "" {
		return nil, fmt.Errorf("%w: github.repo is empty", ErrNotConfigured)
	}

	apiBase := strings.TrimRight(cfg.APIBase, "/")
	if apiBase == "" {
		apiBase = defaultAPIBase
	}

	return &Publisher{
		client:       &http.Client{Timeout: timeout},
		apiBase:      apiBase,
		token:        token,
		repo:         cfg.Repo,
		targetFolder: cfg.TargetFolder,
	}, nil
}

type refObject struct {
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

type treeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

// Publish pushes all files as one commit on the default branch. Any step
// failing aborts the whole batch; no partial publish is observable.
func (p *Publisher) Publish(ctx context.Context, files []File, message string) error {
	if len(files) == 0 {
		return nil
	}

	var repoInfo struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := p.call(ctx, http.MethodGet, "", nil, &repoInfo); err != nil {
		return fmt.Errorf("resolving repository: %w", err)
	}
	branch := repoInfo.DefaultBranch

	var ref refObject
	if err := p.call(ctx, http.MethodGet, "/git/ref/heads/"+branch, nil, &ref); err != nil {
		return fmt.Errorf("resolving branch head: %w", err)
	}
	headSHA := ref.Object.SHA

	var head struct {
		Tree struct {
			SHA string `json:"sha"`
		} `json:"tree"`
	}
	if err := p.call(ctx, http.MethodGet, "/git/commits/"+headSHA, nil, &head); err != nil {
		return fmt.Errorf("resolving head commit: %w", err)
	}

	entries := make([]treeEntry, 0, len(files))
	for _, f := range files {
		var blob struct {
			SHA string `json:"sha"`
		}
		req := map[string]string{"content": f.Content, "encoding": "utf-8"}
		if err := p.call(ctx, http.MethodPost, "/git/blobs", req, &blob); err != nil {
			return fmt.Errorf("creating blob for %s: %w", f.Path, err)
		}
		entries = append(entries, treeEntry{
			Path: p.fullPath(f.Path),
			Mode: "100644",
			Type: "blob",
			SHA:  blob.SHA,
		})
	}

	var tree struct {
		SHA string `json:"sha"`
	}
	treeReq := map[string]any{"base_tree": head.Tree.SHA, "tree": entries}
	if err := p.call(ctx, http.MethodPost, "/git/trees", treeReq, &tree); err != nil {
		return fmt.Errorf("creating tree: %w", err)
	}

	var commit struct {
		SHA string `json:"sha"`
	}
	commitReq := map[string]any{
		"message": message,
		"tree":    tree.SHA,
		"parents": []string{headSHA},
	}
	if err := p.call(ctx, http.MethodPost, "/git/commits", commitReq, &commit); err != nil {
		return fmt.Errorf("creating commit: %w", err)
	}

	refReq := map[string]any{"sha": commit.SHA}
	if err := p.call(ctx, http.MethodPatch, "/git/refs/heads/"+branch, refReq, nil); err != nil {
		return fmt.Errorf("updating branch ref: %w", err)
	}

	slog.Info("published report batch", "files", len(files), "commit", shortSHA(commit.SHA))
	return nil
}

// fullPath joins the configured target folder with a repository-relative
// path, normalizing to forward slashes.
func (p *Publisher) fullPath(rel string) string {
	rel = strings.TrimLeft(strings.TrimSpace(rel), "/\\")
	if p.targetFolder != "" {
		rel = path.Join(p.targetFolder, rel)
	}
	return strings.Trim(rel, "/")
}

// call performs one API request against /repos/{repo}{endpoint}, decoding a
// JSON response into out when non-nil.
func (p *Publisher) call(ctx context.Context, method, endpoint string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	url := p.apiBase + "/repos/" + p.repo + endpoint
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(method, endpoint, resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, endpoint, err)
	}
	return nil
}

func apiError(method, endpoint string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Message string `json:"message"`
	}
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &payload) == nil && payload.Message != "" {
		msg = payload.Message
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("authentication failed, check the token: %s", msg)
	case http.StatusForbidden:
		return fmt.Errorf("insufficient permissions, token needs repo write access: %s", msg)
	case http.StatusNotFound:
		return fmt.Errorf("not found, check the repository name: %s %s", method, endpoint)
	default:
		return fmt.Errorf("api status %d on %s %s: %s", resp.StatusCode, method, endpoint, msg)
	}
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
