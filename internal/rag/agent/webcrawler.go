package agent

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/teeksss/modularmind-rag/internal/rag/model"
	"github.com/teeksss/modularmind-rag/internal/rag/rerr"
)

// WebCrawler performs a same-origin BFS crawl, stripping HTML tags down
// to plain text per page. Grounded on the teacher's rag.Loader.LoadURL
// for the HTTP request shape (context-bounded GET through a
// configurable client), generalized from "download one URL" to
// "crawl a site breadth-first".
type WebCrawler struct {
	Client *http.Client
}

func (w *WebCrawler) httpClient() *http.Client {
	if w.Client != nil {
		return w.Client
	}
	return http.DefaultClient
}

func (w *WebCrawler) Run(ctx context.Context, cfg model.AgentConfig) ([]*model.Document, error) {
	root, err := url.Parse(cfg.SourceURL)
	if err != nil {
		return nil, rerr.New("webcrawler.Run", rerr.ConfigInvalid, fmt.Errorf("invalid source_url: %w", err))
	}
	maxDepth := intOption(cfg, "max_depth", 2)

	type queued struct {
		u     *url.URL
		depth int
	}
	visited := map[string]bool{root.String(): true}
	queue := []queued{{u: root, depth: 0}}

	var docs []*model.Document
	for len(queue) > 0 {
		if cfg.MaxItems > 0 && len(docs) >= cfg.MaxItems {
			break
		}
		cur := queue[0]
		queue = queue[1:]

		started := time.Now()
		body, links, err := w.fetchAndExtract(ctx, cur.u)
		if err != nil {
			continue
		}

		docs = append(docs, &model.Document{
			ID:   cur.u.String(),
			Text: body,
			Metadata: map[string]interface{}{
				"source":      "web_crawler",
				"url":         cur.u.String(),
				"crawl_depth": cur.depth,
				"crawl_time":  started.Format(time.RFC3339),
			},
		})

		if cur.depth >= maxDepth {
			continue
		}
		for _, link := range links {
			resolved, err := cur.u.Parse(link)
			if err != nil || resolved.Host != root.Host {
				continue
			}
			resolved.Fragment = ""
			key := resolved.String()
			if visited[key] {
				continue
			}
			visited[key] = true
			queue = append(queue, queued{u: resolved, depth: cur.depth + 1})
		}
	}
	return capMaxItems(docs, cfg.MaxItems), nil
}

func (w *WebCrawler) fetchAndExtract(ctx context.Context, u *url.URL) (text string, links []string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", nil, err
	}
	resp, err := w.httpClient().Do(req)
	if err != nil {
		return "", nil, rerr.New("webcrawler.fetch", rerr.RemoteUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", nil, rerr.New("webcrawler.fetch", rerr.RemoteUnavailable, fmt.Errorf("status %d fetching %s", resp.StatusCode, u))
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			trimmed := strings.TrimSpace(n.Data)
			if trimmed != "" {
				sb.WriteString(trimmed)
				sb.WriteString(" ")
			}
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
			if n.Data == "a" {
				for _, attr := range n.Attr {
					if attr.Key == "href" {
						links = append(links, attr.Val)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(sb.String()), links, nil
}
