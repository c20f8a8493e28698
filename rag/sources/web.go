package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/mudler/ragscope/rag/types"
	"github.com/mudler/xlog"
	sitemap "github.com/oxffaa/gopher-parse-sitemap"
	"jaytaylor.com/html2text"
)

// GetWebPage fetches a page and converts its HTML to plain text.
func GetWebPage(ctx context.Context, url string) (types.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.Document{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return types.Document{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return types.Document{}, fmt.Errorf("fetching %s: %s", url, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Document{}, err
	}
	text, err := html2text.FromString(string(body), html2text.Options{PrettyTables: true})
	if err != nil {
		return types.Document{}, err
	}

	return types.Document{
		ID:       url,
		Content:  text,
		Metadata: map[string]string{"source": url},
	}, nil
}

// GetWebSitemapContent fetches every page listed in a sitemap. Pages that
// fail to load are skipped.
func GetWebSitemapContent(ctx context.Context, url string) (res []types.Document, err error) {
	err = sitemap.ParseFromSite(url, func(e sitemap.Entry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		xlog.Info("Sitemap page", "url", e.GetLocation())
		doc, err := GetWebPage(ctx, e.GetLocation())
		if err != nil {
			xlog.Warn("Skipping sitemap page", "url", e.GetLocation(), "error", err)
			return nil
		}
		res = append(res, doc)
		return nil
	})
	return
}
