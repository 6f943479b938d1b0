package aigf

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// conversationRegistry maps channel IDs to their Conversation. Entries
// are created on first use and replaced on eviction.
type conversationRegistry struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	manager       *CacheManager
	completer     Completer
	temperatures  TemperatureTable
	logger        *slog.Logger
}

func newConversationRegistry(
	manager *CacheManager,
	completer Completer,
	temperatures TemperatureTable,
	logger *slog.Logger,
) *conversationRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &conversationRegistry{
		conversations: map[string]*Conversation{},
		manager:       manager,
		completer:     completer,
		temperatures:  temperatures,
		logger:        logger,
	}
}

func (r *conversationRegistry) newConversation(cache *SessionCache) *Conversation {
	return NewConversation(cache, r.manager, r.completer, r.temperatures, r.logger)
}

// Get returns the channel's conversation, loading or creating its
// session if needed. Sessions are loaded without holding the registry
// lock, so a slow load doesn't hold up other channels.
func (r *conversationRegistry) Get(ctx context.Context, sessionID string) (*Conversation, error) {
	return r.getOrLoad(ctx, sessionID, r.manager.Get)
}

// GetExisting returns the channel's conversation, loading its session if
// needed. Unlike Get, a session that isn't stored returns ErrCacheNotFound.
func (r *conversationRegistry) GetExisting(ctx context.Context, sessionID string) (*Conversation, error) {
	return r.getOrLoad(ctx, sessionID, r.manager.load)
}

func (r *conversationRegistry) getOrLoad(
	ctx context.Context,
	sessionID string,
	load func(ctx context.Context, sessionID string) (*SessionCache, error),
) (*Conversation, error) {
	if conv, ok := r.Lookup(sessionID); ok {
		return conv, nil
	}
	cache, err := load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// another command may have loaded the session in the meantime
	if conv, ok := r.conversations[sessionID]; ok {
		return conv, nil
	}
	conv := r.newConversation(cache)
	r.conversations[sessionID] = conv
	return conv, nil
}

// Recreate replaces the channel's session with a new one from the
// template, without reading the stored record. It's used to recover
// sessions whose record can't be parsed.
func (r *conversationRegistry) Recreate(ctx context.Context, sessionID string) (*Conversation, error) {
	cache, err := r.manager.Recreate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	conv := r.newConversation(cache)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations[sessionID] = conv
	return conv, nil
}

// Lookup returns the channel's conversation, if it's loaded
func (r *conversationRegistry) Lookup(sessionID string) (*Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[sessionID]
	return conv, ok
}

// Evict drops the channel's conversation, so it's reloaded from storage
// on next use
func (r *conversationRegistry) Evict(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conversations, sessionID)
}

// Warm loads every stored session
func (r *conversationRegistry) Warm(ctx context.Context) (int, error) {
	loaded := 0
	err := r.manager.GetAll(
		ctx, func(cache *SessionCache) bool {
			r.mu.Lock()
			if _, exists := r.conversations[cache.ID()]; !exists {
				r.conversations[cache.ID()] = r.newConversation(cache)
				loaded++
			}
			r.mu.Unlock()
			return true
		},
	)
	return loaded, err
}

// SessionIDs returns the IDs of loaded conversations, sorted
func (r *conversationRegistry) SessionIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.conversations))
	for id := range r.conversations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
