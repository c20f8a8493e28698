package sources

import (
	"context"
	"strings"

	"github.com/mudler/ragscope/rag/types"
	"github.com/mudler/xlog"
)

// Loader routes a source string to the matching loader.
type Loader struct {
	// GitPrivateKey is a base64 encoded SSH key used for git sources.
	GitPrivateKey string
}

// Load loads a source with a zero Loader.
func Load(ctx context.Context, src string) ([]types.Document, error) {
	return (&Loader{}).Load(ctx, src)
}

// Load accepts a git repository (git@… or http(s)://….git), a sitemap
// (….sitemap.xml), a web page (http(s)://…) or a local directory.
func (l *Loader) Load(ctx context.Context, src string) ([]types.Document, error) {
	xlog.Info("Loading documents", "source", src)

	switch {
	case isGitRepository(src):
		return GetGitRepositoryContent(ctx, src, l.GitPrivateKey)
	case isURL(src) && strings.HasSuffix(src, "sitemap.xml"):
		docs, err := GetWebSitemapContent(ctx, src)
		if err != nil {
			return nil, err
		}
		xlog.Info("Downloaded all content from sitemap", "url", src, "pages", len(docs))
		return docs, nil
	case isURL(src):
		doc, err := GetWebPage(ctx, src)
		if err != nil {
			return nil, err
		}
		return []types.Document{doc}, nil
	}

	return LoadDirectory(src)
}

func isURL(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

func isGitRepository(src string) bool {
	return strings.HasPrefix(src, "git@") || (isURL(src) && strings.HasSuffix(src, ".git"))
}
