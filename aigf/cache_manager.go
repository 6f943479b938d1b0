package aigf

import (
	"context"
	"errors"
	"fmt"
	"github.com/lmittmann/tint"
	"log/slog"
	"time"
)

// CacheManager creates, loads and removes session caches. New sessions
// are deep copies of the template's conversation.
type CacheManager struct {
	template *Template
	store    CacheStore
	logger   *slog.Logger
	now      func() time.Time
}

func NewCacheManager(template *Template, store CacheStore, logger *slog.Logger) *CacheManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheManager{
		template: template,
		store:    store,
		logger:   logger.With(loggerNameKey, "cache_manager"),
		now:      time.Now,
	}
}

func (m *CacheManager) Template() *Template {
	return m.template
}

// Get returns the stored cache for sessionID, creating (and persisting) a
// new one if there isn't one.
func (m *CacheManager) Get(ctx context.Context, sessionID string) (*SessionCache, error) {
	cache, err := m.load(ctx, sessionID)
	if err == nil {
		return cache, nil
	}
	if !errors.Is(err, ErrCacheNotFound) {
		return nil, err
	}
	return m.Create(ctx, sessionID)
}

// Create returns a new cache for sessionID from the template, overwriting
// any stored record.
func (m *CacheManager) Create(ctx context.Context, sessionID string) (*SessionCache, error) {
	model := m.template.NewConversationModel(
		sessionID,
		m.now().Format(timestampFormat),
	)
	cache := m.newSessionCache(sessionID, model)
	if err := cache.Save(ctx); err != nil {
		return nil, err
	}
	m.logger.InfoContext(ctx, "created session", "session_id", sessionID)
	return cache, nil
}

func (m *CacheManager) load(ctx context.Context, sessionID string) (*SessionCache, error) {
	record, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	cache := m.newSessionCache(sessionID, m.template.Conversation)
	if err = cache.applyRecord(record); err != nil {
		return nil, err
	}
	return cache, nil
}

func (m *CacheManager) newSessionCache(sessionID string, model ConversationModel) *SessionCache {
	return NewSessionCache(
		sessionID,
		model,
		m.template.Conversation,
		m.store,
		m.logger,
	)
}

// GetAll loads every stored session, calling yield for each until it
// returns false. Sessions that fail to load are skipped, and their errors
// returned together once enumeration ends.
func (m *CacheManager) GetAll(ctx context.Context, yield func(*SessionCache) bool) error {
	ids, err := m.store.SessionIDs(ctx)
	if err != nil {
		return fmt.Errorf("error listing sessions: %w", err)
	}

	var errs []error
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		cache, loadErr := m.load(ctx, id)
		if loadErr != nil {
			m.logger.ErrorContext(
				ctx,
				"error loading session",
				"session_id", id,
				tint.Err(loadErr),
			)
			errs = append(errs, loadErr)
			continue
		}
		if !yield(cache) {
			break
		}
	}
	return errors.Join(errs...)
}

func (m *CacheManager) SaveCache(ctx context.Context, cache *SessionCache) error {
	return cache.Save(ctx)
}

func (m *CacheManager) RemoveCache(ctx context.Context, sessionID string) error {
	if err := m.store.Remove(ctx, sessionID); err != nil {
		return fmt.Errorf("error removing session %s: %w", sessionID, err)
	}
	m.logger.InfoContext(ctx, "removed session", "session_id", sessionID)
	return nil
}

// Recreate removes the session's record, then creates a new one from the
// template.
func (m *CacheManager) Recreate(ctx context.Context, sessionID string) (*SessionCache, error) {
	if err := m.RemoveCache(ctx, sessionID); err != nil {
		return nil, err
	}
	return m.Create(ctx, sessionID)
}
