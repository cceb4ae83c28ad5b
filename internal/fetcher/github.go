package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ragserv/internal/retry"
)

const (
	githubTimeout    = 30 * time.Second
	githubRawHost    = "raw.githubusercontent.com"
	githubAPIHost    = "https://api.github.com"
	githubMaxBytes   = 8 << 20
)

var readmeCandidates = []string{"README.md", "README.markdown", "readme.md", "Readme.md"}

// GitHubAdapter fetches blob/raw URLs directly and falls back to a repo's
// README when given a bare repository URL.
type GitHubAdapter struct {
	client *http.Client
	policy retry.Policy
}

// NewGitHubAdapter constructs a GitHubAdapter.
func NewGitHubAdapter() *GitHubAdapter {
	return &GitHubAdapter{
		client: &http.Client{Timeout: githubTimeout},
		policy: retry.Policy{MaxAttempts: 3},
	}
}

// Fetch implements Adapter.
func (g *GitHubAdapter) Fetch(ctx context.Context, rawURL string) (Document, error) {
	owner, repo, ref, path, ok := parseGitHubURL(rawURL)
	if !ok {
		return Document{}, fmt.Errorf("fetcher: not a github URL: %s", rawURL)
	}
	if path == "" {
		return g.fetchREADME(ctx, owner, repo, ref)
	}
	return g.fetchRawFile(ctx, owner, repo, ref, path)
}

// DiscoverMarkdown walks a repository's git tree and returns the raw-fetch
// URLs of every .md/.markdown file.
func (g *GitHubAdapter) DiscoverMarkdown(ctx context.Context, owner, repo, ref string) ([]string, error) {
	if ref == "" {
		ref = "HEAD"
	}
	apiURL := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1", githubAPIHost, owner, repo, ref)

	var tree struct {
		Tree []struct {
			Path string `json:"path"`
			Type string `json:"type"`
		} `json:"tree"`
	}
	if err := g.getJSON(ctx, apiURL, &tree); err != nil {
		return nil, err
	}

	var out []string
	for _, entry := range tree.Tree {
		if entry.Type != "blob" {
			continue
		}
		lower := strings.ToLower(entry.Path)
		if strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".markdown") {
			out = append(out, rawURLFor(owner, repo, ref, entry.Path))
		}
	}
	return out, nil
}

func (g *GitHubAdapter) fetchREADME(ctx context.Context, owner, repo, ref string) (Document, error) {
	if ref == "" {
		ref = "HEAD"
	}
	var lastErr error
	for _, name := range readmeCandidates {
		doc, err := g.fetchRawFile(ctx, owner, repo, ref, name)
		if err == nil {
			return doc, nil
		}
		lastErr = err
	}
	return Document{}, fmt.Errorf("fetcher: no README found for %s/%s: %w", owner, repo, lastErr)
}

func (g *GitHubAdapter) fetchRawFile(ctx context.Context, owner, repo, ref, path string) (Document, error) {
	rawURL := rawURLFor(owner, repo, ref, path)

	var body []byte
	err := retry.Do(ctx, g.policy, func(ctx context.Context) error {
		b, ferr := g.get(ctx, rawURL)
		if ferr != nil {
			return ferr
		}
		body = b
		return nil
	})
	if err != nil {
		return Document{}, err
	}

	text := string(body)
	title := path
	if strings.HasSuffix(strings.ToLower(path), ".md") || strings.HasSuffix(strings.ToLower(path), ".markdown") {
		if h := firstHeading(text); h != "" {
			title = h
		}
	} else if looksLikeHTML(text) {
		if t, md, _, err := extractArticle(text, rawURL); err == nil {
			title, text = t, md
		}
	}

	return Document{
		Title:    title,
		Text:     text,
		FinalURL: rawURL,
		Metadata: map[string]string{"owner": owner, "repo": repo, "ref": ref, "path": path},
	}, nil
}

func (g *GitHubAdapter) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetcher: %s returned status %d", rawURL, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, githubMaxBytes))
}

func (g *GitHubAdapter) getJSON(ctx context.Context, apiURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("fetcher: github api %s returned status %d", apiURL, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func rawURLFor(owner, repo, ref, path string) string {
	return fmt.Sprintf("https://%s/%s/%s/%s/%s", githubRawHost, owner, repo, ref, path)
}

// parseGitHubURL recognizes github.com blob/tree/repo URLs and raw.githubusercontent.com
// URLs, returning (owner, repo, ref, path, ok). path is "" for a bare repo URL.
func parseGitHubURL(rawURL string) (owner, repo, ref, path string, ok bool) {
	const ghPrefix = "https://github.com/"
	const rawPrefix = "https://raw.githubusercontent.com/"

	switch {
	case strings.HasPrefix(rawURL, rawPrefix):
		parts := strings.SplitN(strings.TrimPrefix(rawURL, rawPrefix), "/", 4)
		if len(parts) < 4 {
			return "", "", "", "", false
		}
		return parts[0], parts[1], parts[2], parts[3], true

	case strings.HasPrefix(rawURL, ghPrefix):
		parts := strings.SplitN(strings.TrimPrefix(rawURL, ghPrefix), "/", 5)
		if len(parts) < 2 {
			return "", "", "", "", false
		}
		owner, repo = parts[0], parts[1]
		if len(parts) >= 5 && (parts[2] == "blob" || parts[2] == "raw") {
			return owner, repo, parts[3], parts[4], true
		}
		return owner, repo, "", "", true

	default:
		return "", "", "", "", false
	}
}

func firstHeading(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}

func looksLikeHTML(s string) bool {
	trimmed := strings.TrimSpace(s)
	lower := strings.ToLower(trimmed)
	return strings.HasPrefix(lower, "<!doctype html") || strings.HasPrefix(lower, "<html")
}
