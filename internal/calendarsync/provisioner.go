package calendarsync

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

const (
	defaultCalendarName        = "Sessões — Lume"
	defaultCalendarDescription = "Calendário gerenciado pelo Lume (não inserir conteúdo clínico)."
	defaultCalendarTimeZone    = "America/Sao_Paulo"
)

var errMissingClientFactory = errors.New("calendarsync: client factory is required")

// ProvisionerConfig describes the dependencies of a Provisioner.
type ProvisionerConfig struct {
	Clients  ClientFactory
	Calendar CalendarSpec
	Logger   *zap.Logger
}

// Provisioner guarantees a practitioner has a dedicated calendar.
type Provisioner struct {
	clients  ClientFactory
	calendar CalendarSpec
	logger   *zap.Logger
}

// NewProvisioner constructs a Provisioner. Empty calendar fields fall back to the
// product defaults.
func NewProvisioner(cfg ProvisionerConfig) (*Provisioner, error) {
	if cfg.Clients == nil {
		return nil, errMissingClientFactory
	}
	spec := cfg.Calendar
	if strings.TrimSpace(spec.Summary) == "" {
		spec.Summary = defaultCalendarName
	}
	if strings.TrimSpace(spec.Description) == "" {
		spec.Description = defaultCalendarDescription
	}
	if strings.TrimSpace(spec.TimeZone) == "" {
		spec.TimeZone = defaultCalendarTimeZone
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{clients: cfg.Clients, calendar: spec, logger: logger}, nil
}

// EnsureCalendar returns a calendar handle for the credential and the id of a calendar
// that exists. A known calendar that was deleted is recreated; a probe that fails for any
// other reason is returned as an error and nothing is created. The returned id is not
// persisted here.
func (p *Provisioner) EnsureCalendar(ctx context.Context, credential CalendarIntegration, knownCalendarID *string) (CalendarAPI, string, error) {
	api, err := p.clients.ForCredential(ctx, credential.RefreshToken)
	if err != nil {
		return nil, "", err
	}

	if knownCalendarID != nil && *knownCalendarID != "" {
		lookup := api.LookupCalendar(ctx, *knownCalendarID)
		switch lookup.Result {
		case LookupFound:
			return api, *knownCalendarID, nil
		case LookupNotFound:
			p.logger.Info("stored calendar missing, recreating",
				zap.String("practitioner_id", credential.PractitionerID),
				zap.String("calendar_id", *knownCalendarID))
		default:
			if lookup.Err == nil {
				return nil, "", &ExternalError{Class: ExternalOther, Operation: "calendars.get"}
			}
			return nil, "", lookup.Err
		}
	}

	calendarID, err := api.CreateCalendar(ctx, p.calendar)
	if err != nil {
		return nil, "", err
	}
	p.logger.Info("calendar created",
		zap.String("practitioner_id", credential.PractitionerID),
		zap.String("calendar_id", calendarID))
	return api, calendarID, nil
}
