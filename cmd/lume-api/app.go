package main

import (
	"context"
	"fmt"
	"time"

	"github.com/lumehq/lume/internal/auth"
	"github.com/lumehq/lume/internal/calendarsync"
	"github.com/lumehq/lume/internal/config"
	"github.com/lumehq/lume/internal/database"
	"github.com/lumehq/lume/internal/googlecalendar"
	"github.com/lumehq/lume/internal/ids"
	"github.com/lumehq/lume/internal/patients"
	"github.com/lumehq/lume/internal/practitioners"
	"github.com/lumehq/lume/internal/sessions"
	"github.com/lumehq/lume/internal/syncqueue"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	stateIssuer   = "lume-api"
	stateAudience = "google-calendar-connect"
)

type application struct {
	db               *gorm.DB
	sessionValidator *auth.SessionValidator
	states           *auth.StateIssuer
	practitioners    *practitioners.Service
	patients         *patients.Service
	sessions         *sessions.Service
	credentials      *calendarsync.CredentialStore
	orchestrator     *calendarsync.Orchestrator
	oauth            *googlecalendar.OAuth
}

// buildApplication wires storage, services and the calendar sync pipeline. The notifier
// may be nil for commands that do not stream outcomes.
func buildApplication(appConfig config.AppConfig, notifier calendarsync.StatusNotifier, logger *zap.Logger) (*application, error) {
	location, err := time.LoadLocation(appConfig.CalendarTimeZone)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	app := &application{db: db}

	app.sessionValidator, err = auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.TAuthSigningKey),
		Issuer:        appConfig.TAuthIssuer,
		CookieName:    appConfig.TAuthCookieName,
		Clock:         time.Now,
	})
	if err != nil {
		app.close()
		return nil, err
	}

	app.states, err = auth.NewStateIssuer(auth.StateIssuerConfig{
		SigningSecret: []byte(appConfig.TAuthSigningKey),
		Issuer:        stateIssuer,
		Audience:      stateAudience,
		TTL:           appConfig.StateTTL,
		Clock:         time.Now,
	})
	if err != nil {
		app.close()
		return nil, err
	}

	app.practitioners, err = practitioners.NewService(practitioners.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		app.close()
		return nil, err
	}

	idProvider := ids.NewUUIDProvider()
	app.patients, err = patients.NewService(patients.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		app.close()
		return nil, err
	}

	app.sessions, err = sessions.NewService(sessions.ServiceConfig{
		Database:   db,
		Patients:   app.patients,
		Clock:      time.Now,
		IDProvider: idProvider,
		Location:   location,
		Logger:     logger,
	})
	if err != nil {
		app.close()
		return nil, err
	}

	if err := app.buildCalendarSync(appConfig, notifier, logger); err != nil {
		app.close()
		return nil, err
	}
	return app, nil
}

func (a *application) buildCalendarSync(appConfig config.AppConfig, notifier calendarsync.StatusNotifier, logger *zap.Logger) error {
	storeConfig := calendarsync.StoreConfig{Database: a.db, Clock: time.Now, Logger: logger}
	credentials, err := calendarsync.NewCredentialStore(storeConfig)
	if err != nil {
		return err
	}
	mappings, err := calendarsync.NewEventMapStore(storeConfig)
	if err != nil {
		return err
	}

	oauth, err := googlecalendar.NewOAuth(googlecalendar.OAuthConfig{
		ClientID:     appConfig.GoogleClientID,
		ClientSecret: appConfig.GoogleClientSecret,
		RedirectURL:  appConfig.GoogleRedirectURL,
	})
	if err != nil {
		return err
	}
	clients, err := googlecalendar.NewClientFactory(oauth)
	if err != nil {
		return err
	}

	provisioner, err := calendarsync.NewProvisioner(calendarsync.ProvisionerConfig{
		Clients: clients,
		Calendar: calendarsync.CalendarSpec{
			Summary:     appConfig.CalendarName,
			Description: appConfig.CalendarDescription,
			TimeZone:    appConfig.CalendarTimeZone,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	synchronizer, err := calendarsync.NewSynchronizer(mappings, logger)
	if err != nil {
		return err
	}

	orchestrator, err := calendarsync.NewOrchestrator(calendarsync.OrchestratorConfig{
		Patients:     a.patients,
		Credentials:  credentials,
		Provisioner:  provisioner,
		Synchronizer: synchronizer,
		Sessions:     a.sessions,
		Notifier:     notifier,
		Clock:        time.Now,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	a.credentials = credentials
	a.oauth = oauth
	a.orchestrator = orchestrator
	return nil
}

// startDispatcher attaches the configured sync dispatcher to the sessions service and
// returns the function that drains it.
func (a *application) startDispatcher(appConfig config.AppConfig, logger *zap.Logger) (func(context.Context) error, error) {
	switch appConfig.SyncDispatcher {
	case config.DispatcherAsynq:
		client := syncqueue.NewClient(appConfig.RedisAddress)
		dispatcher, err := syncqueue.NewDispatcher(syncqueue.DispatcherConfig{
			Enqueuer: client,
			Timeout:  appConfig.SyncTimeout,
			Logger:   logger,
		})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		worker, err := syncqueue.NewWorker(a.orchestrator, logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		queueServer := syncqueue.NewServer(syncqueue.ServerConfig{
			RedisAddress: appConfig.RedisAddress,
			Concurrency:  appConfig.SyncConcurrency,
			Logger:       logger,
		})
		if err := queueServer.Start(worker.Handler()); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("start sync worker: %w", err)
		}
		a.sessions.SetTrigger(dispatcher)
		return func(context.Context) error {
			a.sessions.SetTrigger(nil)
			queueServer.Shutdown()
			return client.Close()
		}, nil
	default:
		dispatcher, err := calendarsync.NewDispatcher(calendarsync.DispatcherConfig{
			Syncer:      a.orchestrator,
			Timeout:     appConfig.SyncTimeout,
			Concurrency: appConfig.SyncConcurrency,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		a.sessions.SetTrigger(dispatcher)
		return func(ctx context.Context) error {
			a.sessions.SetTrigger(nil)
			return dispatcher.Close(ctx)
		}, nil
	}
}

func (a *application) close() {
	if a.db == nil {
		return
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
