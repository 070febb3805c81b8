package feed

import (
	"context"
	"fmt"
	"mime"
	"path"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/dmorgan81/promptmint/internal/config"
	"github.com/dmorgan81/promptmint/internal/history"
	"github.com/dmorgan81/promptmint/internal/log"
	"github.com/gorilla/feeds"
	"github.com/samber/do"
	"github.com/samber/lo"
)

const titleLength = 80

type Lister interface {
	ListRecent(context.Context, int) ([]history.Record, error)
}

type Generator struct {
	lister Lister
	link   string
	limit  int
}

func NewGenerator(i *do.Injector) (*Generator, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return &Generator{
		lister: do.MustInvoke[*history.Ledger](i),
		link:   cfg.FeedLink,
		limit:  cfg.HistoryLimit,
	}, nil
}

// Generate renders the most recent generations as RSS, newest first.
func (g *Generator) Generate(ctx context.Context) ([]byte, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("feed")
	log.Info("generating rss feed")

	records, err := g.lister.ListRecent(ctx, g.limit)
	if err != nil {
		return nil, err
	}

	feed := feeds.Feed{
		Title:       "promptmint",
		Description: "Recently generated images",
		Link:        &feeds.Link{Href: g.link},
		Updated:     time.Now(),
		Items: lo.Map(records, func(r history.Record, _ int) *feeds.Item {
			return item(r)
		}),
	}
	if len(records) > 0 {
		feed.Updated = records[0].CreatedAt
	}

	rss, err := feed.ToRss()
	if err != nil {
		return nil, fmt.Errorf("render rss: %w", err)
	}
	log.Info("generated rss feed", "items", len(records))
	return []byte(rss), nil
}

func item(r history.Record) *feeds.Item {
	title := r.Prompt
	if utf8.RuneCountInString(title) > titleLength {
		title = string([]rune(title)[:titleLength]) + "..."
	}
	it := &feeds.Item{
		Id:          strconv.FormatInt(r.ID, 10),
		Title:       title,
		Link:        &feeds.Link{Href: r.DurableURL},
		Description: fmt.Sprintf("%s (%s, seed %d)", r.Prompt, r.Size, r.Seed),
		Created:     r.CreatedAt,
	}
	if typ := mime.TypeByExtension(path.Ext(r.FileName)); typ != "" {
		it.Enclosure = &feeds.Enclosure{Url: r.DurableURL, Type: typ, Length: "0"}
	}
	return it
}
