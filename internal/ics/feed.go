package ics

import (
	"context"
	"fmt"
	"time"

	"startpage/internal/agenda"
	"startpage/internal/config"
	"startpage/internal/model"
)

// Feed is one configured ICS subscription used as an agenda source.
type Feed struct {
	src     model.CalendarSource
	url     string
	fetcher *Fetcher
	loc     *time.Location
}

var _ agenda.Feed = (*Feed)(nil)

// NewFeed creates a feed for cfg. Events are placed in loc.
func NewFeed(cfg config.ICSConfig, f *Fetcher, loc *time.Location) *Feed {
	name := cfg.Name
	if name == "" {
		name = cfg.ID
	}
	return &Feed{
		src: model.CalendarSource{
			ID:       cfg.ID,
			Name:     name,
			Color:    cfg.Color,
			Selected: true,
		},
		url:     cfg.URL,
		fetcher: f,
		loc:     loc,
	}
}

// Feeds builds one Feed per configured subscription.
func Feeds(cfgs []config.ICSConfig, f *Fetcher, loc *time.Location) []agenda.Feed {
	out := make([]agenda.Feed, 0, len(cfgs))
	for _, c := range cfgs {
		if c.URL == "" {
			continue
		}
		out = append(out, NewFeed(c, f, loc))
	}
	return out
}

func (f *Feed) Source() model.CalendarSource { return f.src }

// Events downloads, parses and expands the feed for [start, end).
func (f *Feed) Events(ctx context.Context, start, end time.Time) ([]model.Event, error) {
	body, _, err := f.fetcher.Fetch(ctx, f.url)
	if err != nil {
		return nil, err
	}
	parsed, err := Parse(f.src.ID, body, f.loc)
	if err != nil {
		return nil, fmt.Errorf("ics %s: %w", f.src.ID, err)
	}
	return Expand(parsed, Window{Start: start, End: end, Location: f.loc})
}
