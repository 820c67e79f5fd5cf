package googlecalendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lumehq/lume/internal/calendarsync"
	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

var errMissingOAuth = errors.New("googlecalendar: oauth client is required")

// ClientFactory builds Calendar v3 clients for stored refresh tokens.
type ClientFactory struct {
	oauth   *OAuth
	options []option.ClientOption
}

// NewClientFactory constructs a ClientFactory. Extra options are appended to every client,
// which lets tests point the client at a local endpoint.
func NewClientFactory(oauth *OAuth, options ...option.ClientOption) (*ClientFactory, error) {
	if oauth == nil {
		return nil, errMissingOAuth
	}
	return &ClientFactory{oauth: oauth, options: options}, nil
}

// ForCredential returns a calendar handle authorized by refreshToken.
func (f *ClientFactory) ForCredential(ctx context.Context, refreshToken string) (calendarsync.CalendarAPI, error) {
	httpClient := oauth2.NewClient(ctx, f.oauth.TokenSource(ctx, refreshToken))
	options := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, f.options...)
	service, err := calendar.NewService(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("googlecalendar: build service: %w", err)
	}
	return &calendarClient{service: service}, nil
}

type calendarClient struct {
	service *calendar.Service
}

func (c *calendarClient) LookupCalendar(ctx context.Context, calendarID string) calendarsync.CalendarLookup {
	_, err := c.service.Calendars.Get(calendarID).Context(ctx).Do()
	if err == nil {
		return calendarsync.Found()
	}
	classified := classify("calendars.get", err)
	if calendarsync.ClassOf(classified) == calendarsync.ExternalNotFound {
		return calendarsync.NotFound()
	}
	return calendarsync.Failed(classified)
}

func (c *calendarClient) CreateCalendar(ctx context.Context, spec calendarsync.CalendarSpec) (string, error) {
	created, err := c.service.Calendars.Insert(&calendar.Calendar{
		Summary:     spec.Summary,
		Description: spec.Description,
		TimeZone:    spec.TimeZone,
	}).Context(ctx).Do()
	if err != nil {
		return "", classify("calendars.insert", err)
	}
	return created.Id, nil
}

func (c *calendarClient) CreateEvent(ctx context.Context, calendarID string, body calendarsync.EventBody) (string, error) {
	created, err := c.service.Events.Insert(calendarID, toEvent(body)).Context(ctx).Do()
	if err != nil {
		return "", classify("events.insert", err)
	}
	return created.Id, nil
}

func (c *calendarClient) PatchEvent(ctx context.Context, calendarID, eventID string, body calendarsync.EventBody) (string, error) {
	patched, err := c.service.Events.Patch(calendarID, eventID, toEvent(body)).Context(ctx).Do()
	if err != nil {
		return "", classify("events.patch", err)
	}
	return patched.Id, nil
}

func toEvent(body calendarsync.EventBody) *calendar.Event {
	event := &calendar.Event{
		Summary:     body.Summary,
		Description: body.Description,
		Start:       &calendar.EventDateTime{DateTime: body.StartsAt.UTC().Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: body.EndsAt.UTC().Format(time.RFC3339)},
	}
	if len(body.PrivateProperties) > 0 {
		event.ExtendedProperties = &calendar.EventExtendedProperties{Private: body.PrivateProperties}
	}
	return event
}
