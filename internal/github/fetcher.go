package github

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/google/go-github/v81/github"

	"github.com/bull/drugbot/internal/corpus"
	"github.com/bull/drugbot/internal/drug"
)

// FetchedFile is a corpus file downloaded from a repository.
type FetchedFile struct {
	Path    string // Relative to the fetcher's base path
	Content string
	SHA     string // Git blob SHA
}

// Fetcher reads corpus files (JSON, CSV, markdown) below a repository path.
type Fetcher struct {
	client   *Client
	owner    string
	repo     string
	ref      string
	basePath string
}

var _ corpus.Source = (*Fetcher)(nil)

// NewFetcher creates a fetcher. An empty ref means the default branch.
func NewFetcher(client *Client, owner, repo, ref, basePath string) *Fetcher {
	return &Fetcher{
		client:   client,
		owner:    owner,
		repo:     repo,
		ref:      ref,
		basePath: strings.Trim(basePath, "/"),
	}
}

func (f *Fetcher) contentOptions() *github.RepositoryContentGetOptions {
	if f.ref == "" {
		return nil
	}
	return &github.RepositoryContentGetOptions{Ref: f.ref}
}

// ListFiles recursively lists corpus files, sorted by path.
func (f *Fetcher) ListFiles(ctx context.Context) ([]string, error) {
	files, err := f.listRecursive(ctx, f.basePath, "")
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func (f *Fetcher) listRecursive(ctx context.Context, fullPath, relativePath string) ([]string, error) {
	fileContent, dirContents, _, err := f.client.Repositories.GetContents(
		ctx, f.owner, f.repo, fullPath, f.contentOptions(),
	)
	if err != nil {
		return nil, fmt.Errorf("get contents of %s: %w", fullPath, err)
	}

	// The base path may name a single file.
	if fileContent != nil {
		if !corpus.IsCorpusFile(fileContent.GetName()) {
			return nil, fmt.Errorf("%s: %w: unsupported corpus file", fullPath, drug.ErrValidation)
		}
		return []string{""}, nil
	}

	var files []string
	for _, item := range dirContents {
		itemRelPath := path.Join(relativePath, item.GetName())

		switch item.GetType() {
		case "file":
			if corpus.IsCorpusFile(item.GetName()) {
				files = append(files, itemRelPath)
			}
		case "dir":
			sub, err := f.listRecursive(ctx, path.Join(fullPath, item.GetName()), itemRelPath)
			if err != nil {
				return nil, err
			}
			files = append(files, sub...)
		}
	}
	return files, nil
}

// FetchFile downloads one corpus file.
func (f *Fetcher) FetchFile(ctx context.Context, relativePath string) (*FetchedFile, error) {
	fullPath := path.Join(f.basePath, relativePath)

	fileContent, _, _, err := f.client.Repositories.GetContents(
		ctx, f.owner, f.repo, fullPath, f.contentOptions(),
	)
	if err != nil {
		return nil, fmt.Errorf("get content of %s: %w", fullPath, err)
	}
	if fileContent == nil {
		return nil, fmt.Errorf("%s is a directory", fullPath)
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode content of %s: %w", fullPath, err)
	}

	return &FetchedFile{
		Path:    relativePath,
		Content: content,
		SHA:     fileContent.GetSHA(),
	}, nil
}

// LatestCommitSHA returns the most recent commit touching the base path.
func (f *Fetcher) LatestCommitSHA(ctx context.Context) (string, error) {
	commits, _, err := f.client.Repositories.ListCommits(ctx, f.owner, f.repo, &github.CommitsListOptions{
		SHA:         f.ref,
		Path:        f.basePath,
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return "", fmt.Errorf("get latest commit: %w", err)
	}
	if len(commits) == 0 || commits[0].GetSHA() == "" {
		return "", fmt.Errorf("no commits found for path %s", f.basePath)
	}
	return commits[0].GetSHA(), nil
}

// Provenance identifies records loaded at the given commit.
func (f *Fetcher) Provenance(sha string) string {
	if len(sha) > 7 {
		sha = sha[:7]
	}
	return fmt.Sprintf("github:%s/%s@%s", f.owner, f.repo, sha)
}

// Records downloads and parses every corpus file. Records without their
// own provenance are tagged with the repository and commit.
func (f *Fetcher) Records(ctx context.Context) ([]drug.Record, error) {
	sha, err := f.LatestCommitSHA(ctx)
	if err != nil {
		return nil, err
	}
	files, err := f.ListFiles(ctx)
	if err != nil {
		return nil, err
	}

	provenance := f.Provenance(sha)
	var records []drug.Record
	for _, p := range files {
		file, err := f.FetchFile(ctx, p)
		if err != nil {
			return nil, err
		}
		name := p
		if name == "" {
			name = path.Base(f.basePath)
		}
		recs, err := corpus.Parse(name, strings.NewReader(file.Content), provenance)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path.Join(f.basePath, p), err)
		}
		records = append(records, recs...)
	}
	return records, nil
}
