package aigf

import (
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"testing"
)

func newTestSessionCache(t testing.TB, store CacheStore) *SessionCache {
	t.Helper()
	tmpl := newTestTemplate(t)
	model := tmpl.NewConversationModel(testSessionID, "2024-01-01T00:00:00Z")
	return NewSessionCache(testSessionID, model, tmpl.Conversation, store, nil)
}

func TestSessionCache_SaveLoad(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	cache := newTestSessionCache(t, store)
	cache.model.Messages = []Message{userMsg("a"), aiMsg("b")}
	setParticipantName(&cache.model.Settings, SenderAI, "Bob")
	setTrait(&cache.model.Settings, CategoryRelationship, "연인")
	require.NoError(t, cache.Save(ctx))

	loaded := newTestSessionCache(t, store)
	require.NoError(t, loaded.Load(ctx))
	assert.Equal(t, cache.Model(), loaded.Model())
	assert.Equal(t, "Bob", loaded.AIName())
	assert.Equal(t, "User", loaded.UserName())
	assert.Equal(t, testSessionID, loaded.ID())
}

func TestSessionCache_LoadMissingKeepsState(t *testing.T) {
	t.Parallel()
	cache := newTestSessionCache(t, newTestStore(t))
	before := cache.Model()
	require.NoError(t, cache.Load(context.Background()))
	assert.Equal(t, before, cache.Model())
}

func TestSessionCache_LoadMalformed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	testCases := []struct {
		name     string
		settings map[string]any
		mutate   func(m *ConversationModel)
	}{
		{
			name:     "trait style not a string",
			settings: map[string]any{keyTraitPrefix + CategoryCreativity: 3},
		},
		{
			name:     "creativity not a number",
			settings: map[string]any{keyCreativity: "high"},
		},
		{
			name: "participants out of order",
			mutate: func(m *ConversationModel) {
				p := m.Settings.Participants
				m.Settings.Participants = []Participant{p[1], p[0]}
			},
		},
		{
			name: "missing participant",
			mutate: func(m *ConversationModel) {
				m.Settings.Participants = m.Settings.Participants[:1]
			},
		},
		{
			name: "unknown sender",
			mutate: func(m *ConversationModel) {
				m.Messages = []Message{{Sender: "narrator", Text: "x"}}
			},
		},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				store := newTestStore(t)
				record := testRecord(t, testSessionID)
				if tc.settings != nil {
					record.Settings = tc.settings
				}
				if tc.mutate != nil {
					tc.mutate(&record.Model)
				}
				require.NoError(t, store.Save(ctx, testSessionID, record))

				cache := newTestSessionCache(t, store)
				before := cache.Model()
				err := cache.Load(ctx)
				require.ErrorIs(t, err, ErrMalformedCache)
				assert.Equal(t, before, cache.Model())
			},
		)
	}
}

func TestSessionCache_SettingsRecordOverlay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	record := testRecord(t, testSessionID)
	record.Settings = map[string]any{
		keyUserName:                             "Alice",
		keyCreativity:                           6,
		keyTraitPrefix + CategoryCharacteristic: "다정함",
		keyTraitPrefix + "mood":                 "happy",
		"Unrelated":                             true,
	}
	require.NoError(t, store.Save(ctx, testSessionID, record))

	cache := newTestSessionCache(t, store)
	require.NoError(t, cache.Load(ctx))

	assert.Equal(t, "Alice", cache.UserName())
	// not in the settings record, so the document's value is kept
	assert.Equal(t, "AI", cache.AIName())
	assert.Equal(t, 6, cache.Settings().CreativityLevel)

	trait, ok := cache.Settings().Trait(CategoryCharacteristic)
	require.True(t, ok)
	assert.Equal(t, "다정함", trait.Style)

	trait, ok = cache.Settings().Trait("mood")
	require.True(t, ok)
	assert.Equal(t, "happy", trait.Style)
}

func TestNewSettingsRecord(t *testing.T) {
	t.Parallel()
	settings := Settings{
		Participants: []Participant{
			{Role: SenderUser, Name: "Alice"},
			{Role: SenderAI, Name: "Bob"},
		},
		Traits: []Trait{
			{Category: CategoryCreativity, Style: "로봇"},
			{Category: CategoryRelationship, Style: styleNone},
			{Category: CategoryCreativity, Style: "헛소리"},
		},
		CreativityLevel: 0,
	}
	assert.Equal(
		t,
		map[string]any{
			keyUserName:                           "Alice",
			keyAIName:                             "Bob",
			keyCreativity:                         0,
			keyTraitPrefix + CategoryCreativity:   "로봇",
			keyTraitPrefix + CategoryRelationship: styleNone,
		},
		newSettingsRecord(settings),
	)
}

func TestSessionCache_ResetAndSave(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	cache := newTestSessionCache(t, store)
	cache.model.Messages = []Message{userMsg("a")}
	cache.model.Settings.Participants = []Participant{
		{Role: SenderUser, Name: "Alice"},
		{Role: SenderAI, Name: "Bob"},
	}
	cache.model.Settings.CreativityLevel = 7
	cache.model.Settings.SendersSwapped = true
	cache.model.Settings.UserPrompt = "메모"
	setTrait(&cache.model.Settings, CategoryRelationship, "가족")

	require.NoError(t, cache.ResetAndSave(ctx))

	defaults := newTestTemplate(t).Conversation.Settings
	settings := cache.Settings()
	assert.Empty(t, cache.Messages())
	assert.Equal(t, defaults.Participants, settings.Participants)
	assert.Equal(t, defaults.Traits, settings.Traits)
	assert.Equal(t, defaults.CreativityLevel, settings.CreativityLevel)
	assert.False(t, settings.SendersSwapped)
	// only names, creativity and traits are reset
	assert.Equal(t, "메모", settings.UserPrompt)

	loaded := newTestSessionCache(t, store)
	require.NoError(t, loaded.Load(ctx))
	assert.Equal(t, cache.Model(), loaded.Model())
}

func TestSessionCache_CopiesAreIndependent(t *testing.T) {
	t.Parallel()
	cache := newTestSessionCache(t, newTestStore(t))
	cache.model.Messages = []Message{userMsg("a")}

	msgs := cache.Messages()
	msgs[0].Text = "changed"
	settings := cache.Settings()
	settings.Participants[0].Name = "changed"
	model := cache.Model()
	model.Settings.Traits[0].Style = "changed"

	assert.Equal(t, "a", cache.Messages()[0].Text)
	assert.Equal(t, "User", cache.UserName())
	trait, _ := cache.Settings().Trait(CategoryCreativity)
	assert.Equal(t, "보통", trait.Style)
}

func TestSessionCache_SaveError(t *testing.T) {
	t.Parallel()
	store := &mockCacheStore{}
	store.On("Save", mock.Anything, testSessionID, mock.Anything).Return(errors.New("read-only file system"))

	cache := newTestSessionCache(t, store)
	err := cache.Save(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), testSessionID)
	store.AssertExpectations(t)
}
