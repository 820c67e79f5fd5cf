package main

import (
	"context"
	"fmt"

	"github.com/lumehq/lume/internal/calendarsync"
	"github.com/lumehq/lume/internal/config"
	"github.com/lumehq/lume/internal/logging"
	"github.com/lumehq/lume/internal/sessions"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newResyncCommand() *cobra.Command {
	var (
		practitionerID string
		statuses       []string
	)
	cmd := &cobra.Command{
		Use:   "resync",
		Short: "Synchronously push pending or failed sessions to Google Calendar",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseSyncStatuses(statuses)
			if err != nil {
				return err
			}
			return runResync(cmd.Context(), practitionerID, parsed)
		},
	}
	cmd.Flags().StringVar(&practitionerID, "practitioner", "", "Limit the resync to one practitioner id")
	cmd.Flags().StringSliceVar(&statuses, "status", []string{string(sessions.SyncStatusError), string(sessions.SyncStatusPending)}, "Sync states to retry")
	return cmd
}

func parseSyncStatuses(raw []string) ([]sessions.SyncStatus, error) {
	parsed := make([]sessions.SyncStatus, 0, len(raw))
	for _, value := range raw {
		status, ok := sessions.ParseSyncStatus(value)
		if !ok {
			return nil, fmt.Errorf("unknown sync status %q", value)
		}
		parsed = append(parsed, status)
	}
	return parsed, nil
}

func runResync(ctx context.Context, practitionerID string, statuses []sessions.SyncStatus) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	app, err := buildApplication(appConfig, nil, logger)
	if err != nil {
		return err
	}
	defer app.close()

	return resyncSessions(ctx, app.sessions, app.orchestrator, practitionerID, statuses, logger)
}

type resyncStore interface {
	ListForResync(ctx context.Context, statuses []sessions.SyncStatus, practitionerID string) ([]sessions.Session, error)
	MarkPending(ctx context.Context, sessionID string) error
}

// resyncSessions retries each matching session once, in creation order.
func resyncSessions(ctx context.Context, store resyncStore, syncer calendarsync.SessionSyncer, practitionerID string, statuses []sessions.SyncStatus, logger *zap.Logger) error {
	rows, err := store.ListForResync(ctx, statuses, practitionerID)
	if err != nil {
		return err
	}
	failed := 0
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := store.MarkPending(ctx, row.ID); err != nil {
			return err
		}
		outcome := syncer.SyncSession(ctx, row.PractitionerID, calendarsync.SnapshotOf(row))
		if outcome.Status != sessions.SyncStatusSynced {
			failed++
		}
	}
	logger.Info("resync finished", zap.Int("sessions", len(rows)), zap.Int("failed", failed))
	if failed > 0 {
		return fmt.Errorf("%d of %d sessions failed to sync", failed, len(rows))
	}
	return nil
}
