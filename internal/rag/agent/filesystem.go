package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/teeksss/modularmind-rag/internal/rag/docparse"
	"github.com/teeksss/modularmind-rag/internal/rag/model"
	"github.com/teeksss/modularmind-rag/internal/rag/rerr"
)

var errMaxItemsReached = errors.New("max_items reached")

// FilesystemAgent recursively walks source_url, grounded on the
// teacher's rag.Loader.LoadDir walk (rag/load.go), generalized from
// "copy each file to a temp dir" to "read each matching file into a
// Document" with an mtime-based incremental mode.
type FilesystemAgent struct{}

func (a *FilesystemAgent) Run(ctx context.Context, cfg model.AgentConfig) ([]*model.Document, error) {
	extensions := stringSliceOption(cfg, "extensions")
	checkMtime := boolOption(cfg, "check_mtime", false)

	var docs []*model.Document
	err := filepath.Walk(cfg.SourceURL, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.IsDir() {
			return nil
		}
		if cfg.MaxItems > 0 && len(docs) >= cfg.MaxItems {
			return errMaxItemsReached
		}
		if len(extensions) > 0 && !hasAnyExt(path, extensions) {
			return nil
		}
		if checkMtime && !cfg.LastRun.IsZero() && !info.ModTime().After(cfg.LastRun) {
			return nil
		}

		text, fileType, err := docparse.Extract(path)
		if err != nil {
			return nil // skip unparseable files, continue the walk
		}
		docs = append(docs, &model.Document{
			ID:   path,
			Text: text,
			Metadata: map[string]interface{}{
				"source":    "filesystem",
				"path":      path,
				"file_type": fileType,
				"mtime":     info.ModTime().Format("2006-01-02T15:04:05Z07:00"),
			},
		})
		return nil
	})
	if err != nil && !errors.Is(err, errMaxItemsReached) {
		return nil, rerr.New("filesystem.Run", rerr.Transient, err)
	}
	return capMaxItems(docs, cfg.MaxItems), nil
}

func hasAnyExt(path string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, want := range extensions {
		if !strings.HasPrefix(want, ".") {
			want = "." + want
		}
		if strings.ToLower(want) == ext {
			return true
		}
	}
	return false
}
