package sources

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"bireport/internal/core"
)

var localExtensions = map[string]core.SourceType{
	".pdf":      core.SourceTypePDF,
	".html":     core.SourceTypeWeb,
	".htm":      core.SourceTypeWeb,
	".txt":      core.SourceTypeText,
	".md":       core.SourceTypeText,
	".markdown": core.SourceTypeText,
	".docx":     core.SourceTypeDoc,
}

// LocalExtractor reads supported files below a directory. Files are returned
// in lexical path order.
type LocalExtractor struct {
	maxFileSize int64
}

func NewLocalExtractor() *LocalExtractor {
	return &LocalExtractor{maxFileSize: DefaultMaxBodySize}
}

func (e *LocalExtractor) Name() string { return "local" }

func (e *LocalExtractor) ListDocuments(ctx context.Context, ref string) ([]core.RawDocument, error) {
	root, err := filepath.Abs(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrSourceUnavailable, ref, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrSourceUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", core.ErrSourceUnavailable, root)
	}

	var paths []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := localExtensions[strings.ToLower(filepath.Ext(p))]; ok {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walk %s: %w", core.ErrSourceUnavailable, root, err)
	}
	sort.Strings(paths)

	docs := make([]core.RawDocument, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fi, err := os.Stat(p)
		if err != nil || fi.Size() > e.maxFileSize {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", core.ErrSourceUnavailable, p, err)
		}
		ext := strings.ToLower(filepath.Ext(p))
		docs = append(docs, core.RawDocument{
			Name:        filepath.Base(p),
			URI:         "file://" + filepath.ToSlash(p),
			ContentType: mime.TypeByExtension(ext),
			SourceType:  localExtensions[ext],
			Bytes:       data,
		})
	}
	return docs, nil
}
