package aigf

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
	"log/slog"
	"strings"
	"time"
)

const (
	postgresNotifyChannelSessionUpdated = "aigf_session_updated"
	recordSeparator                     = string(rune(30))
	notifierRetryInterval               = 5 * time.Second
)

// SessionNotifier announces session updates to other bot instances
// sharing the database, so they drop their stale copy.
type SessionNotifier interface {
	// ID identifies this instance. Notifications sent with this ID are
	// ignored by the instance that sent them.
	ID() string

	// SessionUpdated announces that the session's record changed
	SessionUpdated(ctx context.Context, sessionID string) bool

	// Listen calls onUpdate for each session updated by another instance,
	// until ctx is cancelled
	Listen(ctx context.Context, onUpdate func(sessionID string)) error
}

func newSessionNotifier(
	databaseType string,
	database string,
	db DBI,
	logger *slog.Logger,
) (SessionNotifier, error) {
	id := uuid.NewString()
	log := logger.With(loggerNameKey, "db_notifier", "notifier_id", id)
	switch databaseType {
	case dbTypeSQLite:
		return &sqliteNotifier{id: id, logger: log}, nil
	case dbTypePostgres:
		return &postgresNotifier{id: id, database: database, db: db, logger: log}, nil
	default:
		return nil, fmt.Errorf("invalid database type: %q", databaseType)
	}
}

// sqliteNotifier is used when the database can't be shared between
// instances, so there's nobody to notify
type sqliteNotifier struct {
	id     string
	logger *slog.Logger
}

func (s *sqliteNotifier) ID() string {
	return s.id
}

func (s *sqliteNotifier) SessionUpdated(_ context.Context, sessionID string) bool {
	s.logger.Debug("session updated", "session_id", sessionID)
	return true
}

func (s *sqliteNotifier) Listen(ctx context.Context, _ func(string)) error {
	<-ctx.Done()
	return nil
}

type postgresNotifier struct {
	id       string
	database string
	db       DBI
	logger   *slog.Logger
}

func (p *postgresNotifier) ID() string {
	return p.id
}

func parseSessionUpdatedNotification(s string) (notifierID, sessionID string) {
	before, after, _ := strings.Cut(s, recordSeparator)
	return before, after
}

func newSessionUpdatedNotificationMessage(notifierID string, sessionID string) string {
	return strings.Join([]string{notifierID, sessionID}, recordSeparator)
}

func (p *postgresNotifier) SessionUpdated(ctx context.Context, sessionID string) bool {
	msg := newSessionUpdatedNotificationMessage(p.id, sessionID)
	err := p.db.DB().WithContext(ctx).Exec(
		"SELECT pg_notify(?, ?)",
		postgresNotifyChannelSessionUpdated,
		msg,
	).Error
	if err != nil {
		p.logger.ErrorContext(
			ctx,
			"error sending session update notification",
			"session_id", sessionID,
			tint.Err(err),
		)
		return false
	}
	p.logger.DebugContext(ctx, "sent session update notification", "session_id", sessionID)
	return true
}

func (p *postgresNotifier) Listen(ctx context.Context, onUpdate func(sessionID string)) error {
	logger := p.logger.With("channel", postgresNotifyChannelSessionUpdated)

	config, err := pgxpool.ParseConfig(p.database)
	if err != nil {
		logger.ErrorContext(ctx, "error parsing database config", tint.Err(err))
		return err
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		logger.ErrorContext(ctx, "error creating connection pool", tint.Err(err))
		return err
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "error acquiring connection", tint.Err(err))
		return err
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, "LISTEN "+postgresNotifyChannelSessionUpdated); err != nil {
		logger.ErrorContext(ctx, "error setting up listener", tint.Err(err))
		return err
	}
	logger.InfoContext(ctx, "started listening for session updates")

	for ctx.Err() == nil {
		notification, e := conn.Conn().WaitForNotification(ctx)
		if e != nil {
			if ctx.Err() != nil {
				break
			}
			logger.ErrorContext(ctx, "error waiting for notification", tint.Err(e))
			select {
			case <-ctx.Done():
			case <-time.After(notifierRetryInterval):
			}
			continue
		}

		notifierID, sessionID := parseSessionUpdatedNotification(notification.Payload)
		if notifierID == p.id {
			continue
		}
		logger.InfoContext(
			ctx,
			"session updated by another instance",
			"session_id", sessionID,
			"from", notifierID,
		)
		onUpdate(sessionID)
	}
	return nil
}
