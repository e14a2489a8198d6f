package agenda

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"startpage/internal/cache"
	appLog "startpage/internal/log"
	"startpage/internal/model"
)

// item is one unit of the fan-out: a Google calendar or a feed.
type item struct {
	source     model.CalendarSource
	needsToken bool
	fetch      func(ctx context.Context, token string) ([]model.Event, error)
}

type result struct {
	events []model.Event
	err    error
}

type outcome int

const (
	outcomeOK outcome = iota
	outcomeRetryable
	outcomeTerminal
)

func classifyResult(it item, r result) outcome {
	switch {
	case r.err == nil:
		return outcomeOK
	case it.needsToken && errors.Is(r.err, ErrUnauthorized):
		return outcomeRetryable
	default:
		return outcomeTerminal
	}
}

type collected struct {
	events       []model.Event
	failed       int
	authRequired bool
}

// collect fetches [start, end) from every source. Sources that fail
// contribute no events; the cycle only fails when nothing succeeded.
func (b *Builder) collect(ctx context.Context, start, end time.Time) (collected, error) {
	var (
		items        []item
		token        string
		authRequired bool
		listErr      error
	)

	if b.tokens != nil && b.calendar != nil {
		tok, cals, err := b.calendars(ctx)
		switch {
		case err == nil:
			token = tok
			for _, c := range cals {
				items = append(items, b.calendarItem(c, start, end))
			}
		case errors.Is(err, ErrAuthRequired):
			authRequired = true
		default:
			listErr = err
			appLog.Warn("calendar list unavailable", err)
		}
	}
	for _, f := range b.feeds {
		items = append(items, feedItem(f, start, end))
	}

	if len(items) == 0 {
		switch {
		case authRequired:
			return collected{}, ErrAuthRequired
		case listErr != nil:
			return collected{}, listErr
		}
		return collected{}, nil
	}

	results := b.fanOut(ctx, items, token)

	var retry []int
	for i, it := range items {
		if classifyResult(it, results[i]) == outcomeRetryable {
			retry = append(retry, i)
		}
	}
	if len(retry) > 0 {
		b.tokens.Invalidate(token)
		fresh, err := b.tokens.Token(ctx)
		if err != nil {
			appLog.Warn("token refresh failed; skipping retry", err, "items", len(retry))
			if errors.Is(err, ErrAuthRequired) {
				authRequired = true
			}
		} else {
			sub := make([]item, len(retry))
			for j, i := range retry {
				sub[j] = items[i]
			}
			appLog.Info("retrying calendars after token refresh", "items", len(sub))
			for j, r := range b.fanOut(ctx, sub, fresh) {
				results[retry[j]] = r
			}
		}
	}

	var (
		lists      [][]model.Event
		failed     int
		authFailed int
	)
	for i, it := range items {
		r := results[i]
		if r.err != nil {
			failed++
			if errors.Is(r.err, ErrUnauthorized) {
				authFailed++
			}
			appLog.Warn("calendar fetch failed", r.err, "calendar", it.source.Name)
			continue
		}
		lists = append(lists, stampSource(r.events, it.source))
	}
	if listErr != nil {
		failed++
	}

	if len(lists) == 0 {
		if authFailed == failed && listErr == nil {
			return collected{}, fmt.Errorf("%w: %d calendars", ErrUnauthorized, failed)
		}
		return collected{}, fmt.Errorf("%w: %d sources", ErrAllSourcesFailed, failed)
	}
	return collected{
		events:       Merge(b.loc, lists...),
		failed:       failed,
		authRequired: authRequired,
	}, nil
}

// fanOut runs every item concurrently, each with its own timeout, and waits
// for all of them to settle.
func (b *Builder) fanOut(ctx context.Context, items []item, token string) []result {
	out := make([]result, len(items))
	var g errgroup.Group
	for i, it := range items {
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(ctx, b.timeout)
			defer cancel()
			events, err := it.fetch(rctx, token)
			out[i] = result{events: events, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (b *Builder) calendarItem(src model.CalendarSource, start, end time.Time) item {
	return item{
		source:     src,
		needsToken: true,
		fetch: func(ctx context.Context, token string) ([]model.Event, error) {
			return b.calendar.Events(ctx, token, src.ID, start, end)
		},
	}
}

func feedItem(f Feed, start, end time.Time) item {
	return item{
		source: f.Source(),
		fetch: func(ctx context.Context, _ string) ([]model.Event, error) {
			return f.Events(ctx, start, end)
		},
	}
}

func stampSource(events []model.Event, src model.CalendarSource) []model.Event {
	out := make([]model.Event, len(events))
	for i, e := range events {
		e.SourceColor = src.Color
		e.SourceName = src.Name
		out[i] = e
	}
	return out
}

// calendars returns a usable token and the selected calendars. The list is
// served from the cache when fresh; a rejected token is refreshed once.
func (b *Builder) calendars(ctx context.Context) (string, []model.CalendarSource, error) {
	token, err := b.tokens.Token(ctx)
	if err != nil {
		return "", nil, err
	}

	var cached calendarList
	if _, ok := b.cache.Get(cache.CalendarList, &cached); ok {
		return token, cached.Calendars, nil
	}

	cals, err := b.listCalendars(ctx, token)
	if errors.Is(err, ErrUnauthorized) {
		b.tokens.Invalidate(token)
		if token, err = b.tokens.Token(ctx); err != nil {
			return "", nil, err
		}
		cals, err = b.listCalendars(ctx, token)
	}
	if err != nil {
		return "", nil, fmt.Errorf("calendar list: %w", err)
	}

	selected := make([]model.CalendarSource, 0, len(cals))
	for _, c := range cals {
		if c.Selected {
			selected = append(selected, c)
		}
	}
	if err := b.cache.Set(cache.CalendarList, calendarList{Calendars: selected}); err != nil {
		appLog.Error("calendar list cache set failed", err)
	}
	return token, selected, nil
}

func (b *Builder) listCalendars(ctx context.Context, token string) ([]model.CalendarSource, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.calendar.CalendarList(ctx, token)
}
