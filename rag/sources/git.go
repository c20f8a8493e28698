package sources

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/mudler/ragscope/rag/types"
)

// GetGitRepositoryContent shallow-clones a repository and returns one
// document per text file. privateKey is an optional base64 encoded SSH key.
func GetGitRepositoryContent(ctx context.Context, url string, privateKey string) ([]types.Document, error) {
	tempDir, err := os.MkdirTemp("", "git-repo-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tempDir)

	cloneOptions := &git.CloneOptions{
		URL:           url,
		Depth:         1,
		SingleBranch:  true,
		ReferenceName: plumbing.HEAD,
	}

	if privateKey != "" {
		keyBytes, err := base64.StdEncoding.DecodeString(privateKey)
		if err != nil {
			return nil, fmt.Errorf("decoding git private key: %w", err)
		}

		auth, err := ssh.NewPublicKeys("git", keyBytes, "")
		if err != nil {
			return nil, err
		}
		cloneOptions.Auth = auth
	}

	if _, err := git.PlainCloneContext(ctx, tempDir, false, cloneOptions); err != nil {
		return nil, fmt.Errorf("cloning %s: %w", url, err)
	}

	base := strings.TrimSuffix(url, ".git")
	var docs []types.Document
	err = filepath.Walk(tempDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() && info.Name() == ".git" {
			return filepath.SkipDir
		}

		if info.IsDir() || !isTextFile(path) {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(tempDir, path)
		if err != nil {
			return err
		}
		source := base + "/" + filepath.ToSlash(rel)
		docs = append(docs, types.Document{
			ID:      source,
			Content: string(content),
			Metadata: map[string]string{
				"source": source,
				"repo":   url,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return docs, nil
}

// isTextFile checks if a file is likely to be a text file
func isTextFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	textExtensions := map[string]bool{
		".txt": true, ".md": true, ".go": true, ".py": true, ".js": true,
		".ts": true, ".html": true, ".css": true, ".json": true, ".yaml": true,
		".yml": true, ".xml": true, ".sh": true, ".bash": true, ".c": true,
		".cpp": true, ".h": true, ".hpp": true, ".java": true, ".rb": true,
		".php": true, ".rs": true, ".swift": true, ".kt": true, ".scala": true,
		".sql": true, ".proto": true, ".toml": true, ".ini": true, ".conf": true,
		".csv": true, ".rst": true, ".tex": true, ".adoc": true,
	}

	return textExtensions[ext]
}
