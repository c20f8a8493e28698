package sources

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dslipak/pdf"
	"github.com/mudler/ragscope/rag/types"
	"github.com/mudler/xlog"
)

// LoadDirectory loads every .txt, .md and .pdf file below dir. Text files
// come first, then PDFs (one document per page), each group in lexical
// order. Files that cannot be read are skipped. A missing directory yields
// no documents.
func LoadDirectory(dir string) ([]types.Document, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	var textFiles, pdfFiles []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			xlog.Warn("Skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".txt", ".md":
			textFiles = append(textFiles, path)
		case ".pdf":
			pdfFiles = append(pdfFiles, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(textFiles)
	sort.Strings(pdfFiles)

	var docs []types.Document
	for _, path := range textFiles {
		doc, err := loadTextFile(path)
		if err != nil {
			xlog.Warn("Skipping file", "path", path, "error", err)
			continue
		}
		docs = append(docs, doc)
	}
	for _, path := range pdfFiles {
		pages, err := loadPDF(path)
		if err != nil {
			xlog.Warn("Skipping file", "path", path, "error", err)
			continue
		}
		docs = append(docs, pages...)
	}

	xlog.Debug("Loaded directory", "dir", dir, "text_files", len(textFiles), "pdf_files", len(pdfFiles), "documents", len(docs))
	return docs, nil
}

func loadTextFile(path string) (types.Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return types.Document{}, err
	}
	return types.Document{
		ID:       path,
		Content:  string(content),
		Metadata: map[string]string{"source": path},
	}, nil
}

func loadPDF(path string) (docs []types.Document, err error) {
	// the pdf reader panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}

	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pageNumber := strconv.Itoa(i)
		docs = append(docs, types.Document{
			ID:      path + "#p" + pageNumber,
			Content: text,
			Metadata: map[string]string{
				"source": path,
				"page":   pageNumber,
			},
		})
	}

	return docs, nil
}
