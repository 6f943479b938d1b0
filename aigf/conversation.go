package aigf

import (
	"context"
	"errors"
	"fmt"
	"github.com/lmittmann/tint"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// inFlightMessages is the number of trailing messages making up the turn
// being predicted, which are never trimmed on overflow
const inFlightMessages = 2

var (
	ErrUnsupportedTrait = errors.New("unsupported trait")
	ErrUnknownStyle     = errors.New("unknown style")
)

// Conversation runs turns and edits against a single session. Operations
// are serialized, including the prediction call. Each operation either
// persists its changes once or, on failure, restores the state it started
// with.
type Conversation struct {
	mu           sync.Mutex
	cache        *SessionCache
	manager      *CacheManager
	completer    Completer
	temperatures TemperatureTable
	logger       *slog.Logger
	now          func() time.Time
}

func NewConversation(
	cache *SessionCache,
	manager *CacheManager,
	completer Completer,
	temperatures TemperatureTable,
	logger *slog.Logger,
) *Conversation {
	if logger == nil {
		logger = slog.Default()
	}
	if len(temperatures) == 0 {
		temperatures = DefaultTemperatures
	}
	return &Conversation{
		cache:        cache,
		manager:      manager,
		completer:    completer,
		temperatures: temperatures,
		logger:       logger.With("session_id", cache.ID()),
		now:          time.Now,
	}
}

func (c *Conversation) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.ID()
}

func (c *Conversation) UserName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.UserName()
}

func (c *Conversation) AIName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.AIName()
}

func (c *Conversation) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Settings()
}

func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Messages()
}

// Model returns a copy of the session's document
func (c *Conversation) Model() ConversationModel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Model()
}

func (c *Conversation) timestamp() string {
	return c.now().Format(timestampFormat)
}

// update runs fn against the session's document, then persists it. If fn
// or the save fails, the document is restored to its previous state.
func (c *Conversation) update(ctx context.Context, fn func(m *ConversationModel) error) error {
	snapshot := c.cache.model.Clone()
	if err := fn(&c.cache.model); err != nil {
		c.cache.restore(snapshot)
		return err
	}
	if err := c.cache.Save(ctx); err != nil {
		c.cache.restore(snapshot)
		c.logger.ErrorContext(ctx, "error saving session, changes reverted", tint.Err(err))
		return err
	}
	return nil
}

// Send appends the user's message and a placeholder answer, predicts the
// answer, then persists both.
func (c *Conversation) Send(ctx context.Context, text string) (question Message, answer Message, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	err = c.update(
		ctx, func(m *ConversationModel) error {
			m.Messages = append(
				m.Messages,
				Message{Sender: SenderUser, Text: text, Timestamp: c.timestamp()},
				Message{Sender: SenderAI},
			)
			prediction, predictErr := c.predict(ctx)
			if predictErr != nil {
				return predictErr
			}
			last := len(m.Messages) - 1
			m.Messages[last].Text = prediction
			m.Messages[last].Timestamp = c.timestamp()
			question = m.Messages[last-1]
			answer = m.Messages[last]
			return nil
		},
	)
	return question, answer, err
}

// Retry predicts the last answer again. ok is false, and nothing changes,
// if the log doesn't end with an answer.
func (c *Conversation) Retry(ctx context.Context) (previous Message, answer Message, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := c.cache.model.Messages
	if len(msgs) < 2 || msgs[len(msgs)-1].Sender != SenderAI {
		return previous, answer, false, nil
	}

	err = c.update(
		ctx, func(m *ConversationModel) error {
			last := len(m.Messages) - 1
			m.Messages[last].Text = ""
			m.Messages[last].Timestamp = ""
			prediction, predictErr := c.predict(ctx)
			if predictErr != nil {
				return predictErr
			}
			last = len(m.Messages) - 1
			m.Messages[last].Text = prediction
			m.Messages[last].Timestamp = c.timestamp()
			previous = m.Messages[last-1]
			answer = m.Messages[last]
			return nil
		},
	)
	return previous, answer, err == nil, err
}

// Record appends an out-of-character text message
func (c *Conversation) Record(ctx context.Context, text string) (Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := Message{Sender: SenderText, Text: text, Timestamp: c.timestamp()}
	err := c.update(
		ctx, func(m *ConversationModel) error {
			m.Messages = append(m.Messages, msg)
			return nil
		},
	)
	return msg, err
}

// Replace substitutes after for every occurrence of before, in every
// message.
func (c *Conversation) Replace(ctx context.Context, before string, after string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if before == "" {
		return nil
	}
	return c.update(
		ctx, func(m *ConversationModel) error {
			for i := range m.Messages {
				m.Messages[i].Text = strings.ReplaceAll(m.Messages[i].Text, before, after)
			}
			return nil
		},
	)
}

// Modify replaces the text of the last message. ok is false if the log
// is empty.
func (c *Conversation) Modify(ctx context.Context, text string) (before Message, after Message, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.cache.model.Messages) == 0 {
		return before, after, false, nil
	}
	err = c.update(
		ctx, func(m *ConversationModel) error {
			last := len(m.Messages) - 1
			before = m.Messages[last]
			m.Messages[last].Text = text
			after = m.Messages[last]
			return nil
		},
	)
	return before, after, err == nil, err
}

// Rename sets both participant names, rewriting the old names in every
// message. Both names are replaced in a single pass, so one name being a
// substring of the other doesn't matter.
func (c *Conversation) Rename(ctx context.Context, user string, ai string) (oldUser string, oldAI string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	oldUser = c.cache.UserName()
	oldAI = c.cache.AIName()

	err = c.update(
		ctx, func(m *ConversationModel) error {
			rewriteMessages(m, nameReplacer(oldUser, user, oldAI, ai))
			setParticipantName(&m.Settings, SenderUser, user)
			setParticipantName(&m.Settings, SenderAI, ai)
			return nil
		},
	)
	return oldUser, oldAI, err
}

// Swap exchanges the participant names, in the participant records and
// in every message.
func (c *Conversation) Swap(ctx context.Context) (oldUser string, oldAI string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	oldUser = c.cache.UserName()
	oldAI = c.cache.AIName()

	err = c.update(
		ctx, func(m *ConversationModel) error {
			rewriteMessages(m, nameReplacer(oldUser, oldAI, oldAI, oldUser))
			setParticipantName(&m.Settings, SenderUser, oldAI)
			setParticipantName(&m.Settings, SenderAI, oldUser)
			m.Settings.SendersSwapped = !m.Settings.SendersSwapped
			return nil
		},
	)
	return oldUser, oldAI, err
}

// nameReplacer returns a replacer for both name changes. Longer names are
// matched first, so a name containing the other is replaced whole.
func nameReplacer(oldUser, newUser, oldAI, newAI string) *strings.Replacer {
	type pair struct{ old, new string }
	var pairs []pair
	if oldUser != "" {
		pairs = append(pairs, pair{oldUser, newUser})
	}
	if oldAI != "" && oldAI != oldUser {
		pairs = append(pairs, pair{oldAI, newAI})
	}
	sort.SliceStable(
		pairs, func(i, j int) bool {
			return len(pairs[i].old) > len(pairs[j].old)
		},
	)
	args := make([]string, 0, len(pairs)*2)
	for _, p := range pairs {
		args = append(args, p.old, p.new)
	}
	return strings.NewReplacer(args...)
}

func rewriteMessages(m *ConversationModel, r *strings.Replacer) {
	for i := range m.Messages {
		m.Messages[i].Text = r.Replace(m.Messages[i].Text)
	}
}

// Undo removes the last turn: an answer along with its question, or a
// single text message. A trailing question isn't removed. It returns the
// removed turn, struck through, or an empty string if nothing was removed.
func (c *Conversation) Undo(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := c.cache.model.Messages
	if len(msgs) == 0 {
		return "", nil
	}

	var removed string
	last := msgs[len(msgs)-1]
	switch last.Sender {
	case SenderText:
		removed = fmt.Sprintf("~~(%s)~~", last.Text)
		err := c.update(
			ctx, func(m *ConversationModel) error {
				m.Messages = m.Messages[:len(m.Messages)-1]
				return nil
			},
		)
		if err != nil {
			return "", err
		}
	case SenderAI:
		n := 1
		if len(msgs) >= 2 && msgs[len(msgs)-2].Sender == SenderUser {
			n = 2
			removed = fmt.Sprintf("~~%s~~", c.formatPrediction(msgs[len(msgs)-2], last))
		} else {
			removed = fmt.Sprintf("~~**%s**: %s~~", c.cache.AIName(), last.Text)
		}
		err := c.update(
			ctx, func(m *ConversationModel) error {
				m.Messages = m.Messages[:len(m.Messages)-n]
				return nil
			},
		)
		if err != nil {
			return "", err
		}
	default:
		return "", nil
	}
	return removed, nil
}

// Clear empties the message log
func (c *Conversation) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.update(
		ctx, func(m *ConversationModel) error {
			m.Messages = []Message{}
			return nil
		},
	)
}

// Reset discards the session and recreates it from the template
func (c *Conversation) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cache, err := c.manager.Recreate(ctx, c.cache.ID())
	if err != nil {
		return err
	}
	c.cache = cache
	return nil
}

// Print returns the rendered transcript
func (c *Conversation) Print() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return renderMessages(c.cache.model.Settings, c.cache.model.Messages)
}

// Debug returns the full prompt, as it would be sent to the provider
func (c *Conversation) Debug() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.promptHistory()
}

// ChangeTrait selects a style for the trait category. Setting the
// creativity style also updates the creativity level.
func (c *Conversation) ChangeTrait(ctx context.Context, category string, style string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	traitCategory, ok := c.manager.Template().Taxonomy.Category(category)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedTrait, category)
	}
	if style != styleNone {
		if _, found := traitCategory.Choice(style); !found {
			return fmt.Errorf("%w: %s (%s)", ErrUnknownStyle, style, category)
		}
	}

	return c.update(
		ctx, func(m *ConversationModel) error {
			setTrait(&m.Settings, category, style)
			if category == CategoryCreativity {
				if _, level, found := c.temperatures.ByStyle(style); found {
					m.Settings.CreativityLevel = level
				}
			}
			return nil
		},
	)
}

// TraitCategories returns the taxonomy's categories, in order
func (c *Conversation) TraitCategories() []string {
	return c.manager.Template().Taxonomy.Categories()
}

func (c *Conversation) ChangeCreativity(ctx context.Context, style string) error {
	return c.ChangeTrait(ctx, CategoryCreativity, style)
}

func (c *Conversation) ChangeCharacteristic(ctx context.Context, style string) error {
	return c.ChangeTrait(ctx, CategoryCharacteristic, style)
}

func (c *Conversation) ChangeRelationship(ctx context.Context, style string) error {
	return c.ChangeTrait(ctx, CategoryRelationship, style)
}

// SetNote sets the free-text note appended to the prompt
func (c *Conversation) SetNote(ctx context.Context, note string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.update(
		ctx, func(m *ConversationModel) error {
			m.Settings.UserPrompt = note
			return nil
		},
	)
}

// Temperature returns the sampling temperature for the session's
// creativity style, falling back to its creativity level.
func (c *Conversation) Temperature() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.temperature()
}

func (c *Conversation) temperature() float32 {
	settings := c.cache.model.Settings
	if trait, ok := settings.Trait(CategoryCreativity); ok {
		if temperature, _, found := c.temperatures.ByStyle(trait.Style); found {
			return temperature
		}
	}
	if temperature, ok := c.temperatures.ByLevel(settings.CreativityLevel); ok {
		return temperature
	}
	return 0
}

// FormatPrediction renders a question and its answer for display
func (c *Conversation) FormatPrediction(question Message, answer Message) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.formatPrediction(question, answer)
}

func (c *Conversation) formatPrediction(question Message, answer Message) string {
	return fmt.Sprintf(
		"**%s**: %s\n**%s**: %s",
		c.cache.UserName(), question.Text,
		c.cache.AIName(), answer.Text,
	)
}

func (c *Conversation) promptHistory() string {
	template := c.manager.Template()
	return RenderPromptHistory(
		template.DefaultPrompt,
		template.Taxonomy,
		c.cache.model.Settings,
		c.cache.model.Messages,
	)
}

func (c *Conversation) completionRequest() CompletionRequest {
	settings := c.cache.model.Settings
	return CompletionRequest{
		SessionID:        c.cache.ID(),
		Engine:           settings.EngineName,
		Prompt:           c.promptHistory(),
		Temperature:      c.temperature(),
		MaxTokens:        settings.MaxTokens,
		TopP:             settings.TopP,
		FrequencyPenalty: settings.FrequencyPenalty,
		PresencePenalty:  settings.PresencePenalty,
		Stop: []string{
			c.cache.UserName() + ":",
			c.cache.AIName() + ":",
		},
	}
}

// predict requests a completion for the current prompt. While the prompt
// exceeds the model's context length, the oldest messages are dropped
// and the request is repeated.
func (c *Conversation) predict(ctx context.Context) (string, error) {
	for {
		text, err := c.completer.Complete(ctx, c.completionRequest())
		if err == nil {
			return text, nil
		}
		if !errors.Is(err, ErrContextLengthExceeded) {
			return "", err
		}

		trimmed := c.scroll()
		if trimmed == 0 {
			return "", fmt.Errorf("%w: %w", ErrContextOverflow, err)
		}
		c.logger.InfoContext(
			ctx,
			"prompt exceeds context length, scrolling history",
			"trimmed", trimmed,
			"remaining", len(c.cache.model.Messages),
		)
	}
}

// scroll drops the oldest messages, leaving the in-flight turn in place.
// It returns the number of messages dropped.
func (c *Conversation) scroll() int {
	msgs := c.cache.model.Messages
	trimmable := len(msgs) - inFlightMessages
	if trimmable <= 0 {
		return 0
	}
	n := c.cache.model.Settings.ScrollAmount
	if n < 1 {
		n = 1
	}
	if n > trimmable {
		n = trimmable
	}
	c.cache.model.Messages = append([]Message{}, msgs[n:]...)
	return n
}
