// Package gcal is the Google Calendar side of the agenda: a thin REST client
// over google.golang.org/api/calendar/v3 and an OAuth token source.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"startpage/internal/agenda"
	"startpage/internal/model"
)

const (
	maxResults  = 50
	eventFields = "items(id,summary,start,end,location,description)"
)

// Client implements agenda.Calendar.
type Client struct {
	endpoint string
	base     *http.Client
}

var _ agenda.Calendar = (*Client)(nil)

// NewClient creates a client. An empty endpoint uses the public API.
func NewClient(endpoint string) *Client {
	return &Client{endpoint: endpoint, base: http.DefaultClient}
}

func (c *Client) service(ctx context.Context, token string) (*calendar.Service, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.base)
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))

	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create calendar service: %w", err)
	}
	return srv, nil
}

// CalendarList returns every calendar in the user's list, selected or not.
func (c *Client) CalendarList(ctx context.Context, token string) ([]model.CalendarSource, error) {
	srv, err := c.service(ctx, token)
	if err != nil {
		return nil, err
	}

	var out []model.CalendarSource
	pageToken := ""
	for {
		call := srv.CalendarList.List().Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, mapError("calendar list", err)
		}
		for _, item := range resp.Items {
			name := item.SummaryOverride
			if name == "" {
				name = item.Summary
			}
			out = append(out, model.CalendarSource{
				ID:       item.Id,
				Name:     name,
				Color:    item.BackgroundColor,
				Selected: item.Selected,
			})
		}
		if resp.NextPageToken == "" {
			return out, nil
		}
		pageToken = resp.NextPageToken
	}
}

// Events lists expanded single events of one calendar in [start, end),
// ordered by start time.
func (c *Client) Events(ctx context.Context, token, calendarID string, start, end time.Time) ([]model.Event, error) {
	srv, err := c.service(ctx, token)
	if err != nil {
		return nil, err
	}

	resp, err := srv.Events.List(calendarID).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(maxResults).
		Fields(eventFields).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapError("events "+calendarID, err)
	}

	out := make([]model.Event, 0, len(resp.Items))
	for _, item := range resp.Items {
		ev, ok := convertEvent(item)
		if !ok {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func convertEvent(item *calendar.Event) (model.Event, bool) {
	start, ok := convertTime(item.Start)
	if !ok {
		return model.Event{}, false
	}
	ev := model.Event{
		ID:          item.Id,
		Title:       item.Summary,
		Start:       start,
		Location:    item.Location,
		Description: item.Description,
	}
	if end, ok := convertTime(item.End); ok {
		ev.End = &end
	}
	return ev, true
}

func convertTime(t *calendar.EventDateTime) (model.EventTime, bool) {
	if t == nil {
		return model.EventTime{}, false
	}
	if t.DateTime != "" {
		parsed, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			return model.EventTime{}, false
		}
		return model.At(parsed), true
	}
	if t.Date != "" {
		return model.OnDate(t.Date), true
	}
	return model.EventTime{}, false
}

// mapError turns a rejected token into agenda.ErrUnauthorized so the agenda
// can refresh and retry.
func mapError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w: %v", op, agenda.ErrUnauthorized, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
