package aigf

import (
	"context"
	"errors"
	"fmt"
	"github.com/mitchellh/mapstructure"
	"log/slog"
	"strings"
	"time"
)

const (
	keyUserName    = "UserName"
	keyAIName      = "AIName"
	keyCreativity  = "Creativity"
	keyTraitPrefix = "Trait."

	timestampFormat = time.RFC3339
)

// settingsRecord is the decoded form of the flat settings record. Nil
// fields weren't present, and keep their in-memory values.
type settingsRecord struct {
	UserName   *string        `mapstructure:"UserName"`
	AIName     *string        `mapstructure:"AIName"`
	Creativity *int           `mapstructure:"Creativity"`
	Rest       map[string]any `mapstructure:",remain"`
}

// SessionCache holds a single channel's conversation state. Callers
// mutate it and decide when to persist it with Save.
type SessionCache struct {
	id       string
	model    ConversationModel
	defaults ConversationModel
	store    CacheStore
	logger   *slog.Logger
}

// NewSessionCache returns a cache for sessionID, starting from model.
// defaults is what ResetAndSave restores.
func NewSessionCache(
	sessionID string,
	model ConversationModel,
	defaults ConversationModel,
	store CacheStore,
	logger *slog.Logger,
) *SessionCache {
	if logger == nil {
		logger = slog.Default()
	}
	model = model.Clone()
	model.Session.ID = sessionID
	return &SessionCache{
		id:       sessionID,
		model:    model,
		defaults: defaults.Clone(),
		store:    store,
		logger:   logger.With("session_id", sessionID),
	}
}

func (c *SessionCache) ID() string {
	return c.id
}

func (c *SessionCache) UserName() string {
	name, _ := c.model.Settings.SenderName(SenderUser)
	return name
}

func (c *SessionCache) AIName() string {
	name, _ := c.model.Settings.SenderName(SenderAI)
	return name
}

// Settings returns a copy of the session's settings
func (c *SessionCache) Settings() Settings {
	return c.model.Clone().Settings
}

// Messages returns a copy of the message log
func (c *SessionCache) Messages() []Message {
	return append([]Message{}, c.model.Messages...)
}

// Model returns a copy of the full conversation document
func (c *SessionCache) Model() ConversationModel {
	return c.model.Clone()
}

func (c *SessionCache) restore(m ConversationModel) {
	c.model = m
}

// Load replaces the in-memory state with the stored record. Fields
// missing from the settings record keep their current values, and a
// missing record leaves the cache unchanged.
func (c *SessionCache) Load(ctx context.Context) error {
	record, err := c.store.Load(ctx, c.id)
	if err != nil {
		if errors.Is(err, ErrCacheNotFound) {
			c.logger.DebugContext(ctx, "no stored record, keeping defaults")
			return nil
		}
		return err
	}

	return c.applyRecord(record)
}

// applyRecord replaces the in-memory state with the record's document,
// overlaid with its settings record
func (c *SessionCache) applyRecord(record *SessionRecord) error {
	model := record.Model.Clone()
	if model.Session.ID == "" {
		model.Session.ID = c.id
	}
	if err := applySettingsRecord(&model.Settings, record.Settings); err != nil {
		return malformed(c.id, err)
	}
	if err := model.validate(); err != nil {
		return malformed(c.id, err)
	}
	c.model = model
	return nil
}

// Save overwrites the stored record with the current state
func (c *SessionCache) Save(ctx context.Context) error {
	record := &SessionRecord{
		Model:    c.model.Clone(),
		Settings: newSettingsRecord(c.model.Settings),
	}
	if err := c.store.Save(ctx, c.id, record); err != nil {
		return fmt.Errorf("error saving session %s: %w", c.id, err)
	}
	return nil
}

// ResetAndSave restores the default participant names, creativity and
// traits, clears the message log, then persists.
func (c *SessionCache) ResetAndSave(ctx context.Context) error {
	defaults := c.defaults.Clone()
	c.model.Settings.Participants = defaults.Settings.Participants
	c.model.Settings.Traits = defaults.Settings.Traits
	c.model.Settings.CreativityLevel = defaults.Settings.CreativityLevel
	c.model.Settings.SendersSwapped = false
	c.model.Messages = []Message{}
	return c.Save(ctx)
}

func newSettingsRecord(s Settings) map[string]any {
	m := map[string]any{
		keyCreativity: s.CreativityLevel,
	}
	if name, ok := s.SenderName(SenderUser); ok {
		m[keyUserName] = name
	}
	if name, ok := s.SenderName(SenderAI); ok {
		m[keyAIName] = name
	}
	for _, t := range s.Traits {
		key := keyTraitPrefix + t.Category
		if _, seen := m[key]; !seen {
			m[key] = t.Style
		}
	}
	return m
}

// applySettingsRecord overlays the values present in the flat settings
// record onto s.
func applySettingsRecord(s *Settings, flat map[string]any) error {
	if len(flat) == 0 {
		return nil
	}
	var r settingsRecord
	if err := mapstructure.WeakDecode(flat, &r); err != nil {
		return err
	}

	if r.UserName != nil {
		setParticipantName(s, SenderUser, *r.UserName)
	}
	if r.AIName != nil {
		setParticipantName(s, SenderAI, *r.AIName)
	}
	if r.Creativity != nil {
		s.CreativityLevel = *r.Creativity
	}
	for key, value := range r.Rest {
		category, ok := strings.CutPrefix(key, keyTraitPrefix)
		if !ok || category == "" {
			continue
		}
		style, isString := value.(string)
		if !isString {
			return fmt.Errorf("invalid style for %s: %v", key, value)
		}
		setTrait(s, category, style)
	}
	return nil
}

func setParticipantName(s *Settings, role SenderRole, name string) {
	for i := range s.Participants {
		if s.Participants[i].Role == role {
			s.Participants[i].Name = name
			return
		}
	}
}

// setTrait updates the first trait in the category, or appends one
func setTrait(s *Settings, category string, style string) {
	for i := range s.Traits {
		if s.Traits[i].Category == category {
			s.Traits[i].Style = style
			return
		}
	}
	s.Traits = append(s.Traits, Trait{Category: category, Style: style})
}
