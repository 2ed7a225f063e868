package agent

import (
	"context"
	"fmt"

	"github.com/mmcdole/gofeed"

	"github.com/teeksss/modularmind-rag/internal/rag/model"
	"github.com/teeksss/modularmind-rag/internal/rag/rerr"
)

// RSSAgent parses a feed URL and emits one Document per entry newer
// than cfg.LastRun.
type RSSAgent struct{}

func (a *RSSAgent) Run(ctx context.Context, cfg model.AgentConfig) ([]*model.Document, error) {
	fp := gofeed.NewParser()
	feed, err := fp.ParseURLWithContext(cfg.SourceURL, ctx)
	if err != nil {
		return nil, rerr.New("rss.Run", rerr.RemoteUnavailable, fmt.Errorf("parse feed %s: %w", cfg.SourceURL, err))
	}

	var docs []*model.Document
	for _, item := range feed.Items {
		if cfg.MaxItems > 0 && len(docs) >= cfg.MaxItems {
			break
		}
		var publishDate string
		if item.PublishedParsed != nil {
			if !sinceLastRun(cfg, *item.PublishedParsed) {
				continue
			}
			publishDate = item.PublishedParsed.Format("2006-01-02T15:04:05Z07:00")
		}

		author := ""
		if item.Author != nil {
			author = item.Author.Name
		}

		content := item.Content
		if content == "" {
			content = item.Description
		}

		docs = append(docs, &model.Document{
			ID:   item.GUID,
			Text: content,
			Metadata: map[string]interface{}{
				"source":       "rss",
				"title":        item.Title,
				"link":         item.Link,
				"publish_date": publishDate,
				"author":       author,
			},
		})
	}
	return capMaxItems(docs, cfg.MaxItems), nil
}
