package aigf

import (
	"embed"
	"errors"
	"fmt"
	"gopkg.in/yaml.v3"
	"os"
	"strings"
)

const (
	SenderUser SenderRole = "user"
	SenderAI   SenderRole = "ai"
	SenderText SenderRole = "text"

	// styleNone disables a trait without removing it from the settings
	styleNone = "none"

	CategoryCreativity     = "creativity"
	CategoryCharacteristic = "characteristic"
	CategoryRelationship   = "relationship"

	defaultPromptFile     = "templates/prompt.txt"
	promptModelFile       = "templates/prompt.yaml"
	conversationModelFile = "templates/conversation.yaml"
)

//go:embed templates
var templateFS embed.FS

var ErrInvalidParticipants = errors.New("expected a user participant followed by an ai participant")

// SenderRole identifies who a message is attributed to. Messages with
// SenderText have no speaker, and are rendered as out-of-character notes.
type SenderRole string

type Session struct {
	ID        string `yaml:"id" json:"id"`
	Language  string `yaml:"language" json:"language"`
	Timezone  string `yaml:"timezone" json:"timezone"`
	Timestamp string `yaml:"timestamp" json:"timestamp"`
}

type Participant struct {
	Role     SenderRole `yaml:"role" json:"role" binding:"oneof=user ai"`
	Name     string     `yaml:"name" json:"name" binding:"required"`
	Nickname string     `yaml:"nickname,omitempty" json:"nickname,omitempty"`
}

// Trait is a selected style for a trait category
type Trait struct {
	Category string `yaml:"category" json:"category" binding:"required"`
	Style    string `yaml:"style" json:"style"`
}

// Settings holds everything about a session that shapes the prompt and
// the completion request.
type Settings struct {
	// Participants holds the user participant followed by the ai participant
	Participants []Participant `yaml:"participants" json:"participants" binding:"len=2,dive"`
	Traits       []Trait       `yaml:"traits" json:"traits" binding:"dive"`

	// UserPrompt is a free-text note appended to the prompt
	UserPrompt string `yaml:"userPrompt" json:"userPrompt"`

	// CreativityLevel is an index into the temperature table
	CreativityLevel int  `yaml:"creativityLevel" json:"creativityLevel" binding:"gte=0"`
	SendersSwapped  bool `yaml:"sendersSwapped" json:"sendersSwapped"`

	// ScrollAmount is the number of oldest messages dropped when the
	// prompt exceeds the model's context length
	ScrollAmount     int     `yaml:"scrollAmount" json:"scrollAmount" binding:"gte=0"`
	EngineName       string  `yaml:"engineName" json:"engineName" binding:"required"`
	MaxTokens        int     `yaml:"maxTokens" json:"maxTokens" binding:"gte=0"`
	TopP             float32 `yaml:"topP" json:"topP" binding:"gte=0,lte=1"`
	FrequencyPenalty float32 `yaml:"frequencyPenalty" json:"frequencyPenalty" binding:"gte=-2,lte=2"`
	PresencePenalty  float32 `yaml:"presencePenalty" json:"presencePenalty" binding:"gte=-2,lte=2"`
}

// SenderName returns the name of the first participant with the given role
func (s Settings) SenderName(role SenderRole) (string, bool) {
	for _, p := range s.Participants {
		if p.Role == role {
			return p.Name, true
		}
	}
	return "", false
}

// Trait returns the first trait set for the category
func (s Settings) Trait(category string) (Trait, bool) {
	for _, t := range s.Traits {
		if t.Category == category {
			return t, true
		}
	}
	return Trait{}, false
}

type Message struct {
	Sender SenderRole `yaml:"sender" json:"sender" binding:"oneof=user ai text"`
	Text   string     `yaml:"text" json:"text"`

	// Timestamp is empty while an answer is still being generated
	Timestamp string `yaml:"timestamp" json:"timestamp"`
}

// MarshalYAML writes multi-line text double-quoted. yaml.v3 can emit
// literal blocks it can't read back when the first line is indented.
func (m Message) MarshalYAML() (any, error) {
	text := yamlString(m.Text)
	if strings.ContainsAny(m.Text, "\n\r") {
		text.Style = yaml.DoubleQuotedStyle
	}
	return &yaml.Node{
		Kind: yaml.MappingNode,
		Content: []*yaml.Node{
			yamlString("sender"), yamlString(string(m.Sender)),
			yamlString("text"), text,
			yamlString("timestamp"), yamlString(m.Timestamp),
		},
	}, nil
}

func yamlString(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

// ConversationModel is the structured document stored for each session
type ConversationModel struct {
	Session  Session   `yaml:"session" json:"session"`
	Settings Settings  `yaml:"settings" json:"settings"`
	Messages []Message `yaml:"messages" json:"messages" binding:"dive"`
}

// Clone returns a deep copy of the model
func (m ConversationModel) Clone() ConversationModel {
	c := m
	c.Settings.Participants = append([]Participant(nil), m.Settings.Participants...)
	c.Settings.Traits = append([]Trait(nil), m.Settings.Traits...)
	c.Messages = append([]Message{}, m.Messages...)
	return c
}

func (m ConversationModel) validate() error {
	if err := structValidator.Struct(m); err != nil {
		return err
	}
	p := m.Settings.Participants
	if p[0].Role != SenderUser || p[1].Role != SenderAI {
		return ErrInvalidParticipants
	}
	return nil
}

// TraitChoice is a style and the sentences it adds to the prompt
type TraitChoice struct {
	Style   string   `yaml:"style" json:"style" binding:"required"`
	Prompts []string `yaml:"prompts" json:"prompts"`
}

type TraitCategory struct {
	Category string        `yaml:"category" json:"category" binding:"required"`
	Choices  []TraitChoice `yaml:"choices" json:"choices" binding:"dive"`
}

// TraitTaxonomy lists every trait category, and the styles available
// for each.
type TraitTaxonomy struct {
	Traits []TraitCategory `yaml:"traits" json:"traits" binding:"dive"`
}

// Category returns the first category with the given name
func (t TraitTaxonomy) Category(category string) (TraitCategory, bool) {
	for _, c := range t.Traits {
		if c.Category == category {
			return c, true
		}
	}
	return TraitCategory{}, false
}

// Choice returns the first choice with the given style
func (c TraitCategory) Choice(style string) (TraitChoice, bool) {
	for _, choice := range c.Choices {
		if choice.Style == style {
			return choice, true
		}
	}
	return TraitChoice{}, false
}

func (c TraitCategory) Styles() []string {
	styles := make([]string, 0, len(c.Choices))
	for _, choice := range c.Choices {
		styles = append(styles, choice.Style)
	}
	return styles
}

func (t TraitTaxonomy) Categories() []string {
	categories := make([]string, 0, len(t.Traits))
	for _, c := range t.Traits {
		categories = append(categories, c.Category)
	}
	return categories
}

// Template seeds new sessions. It's loaded once, and its conversation
// is deep-copied for each new session.
type Template struct {
	DefaultPrompt string
	Taxonomy      TraitTaxonomy
	Conversation  ConversationModel
}

// LoadTemplate reads the template files named in cfg. Paths left empty
// use the defaults embedded in the binary.
func LoadTemplate(cfg *TemplateConfig) (*Template, error) {
	if cfg == nil {
		cfg = &TemplateConfig{}
	}

	prompt, err := readTemplateFile(cfg.DefaultPromptPath, defaultPromptFile)
	if err != nil {
		return nil, fmt.Errorf("error reading default prompt: %w", err)
	}

	t := &Template{DefaultPrompt: string(prompt)}

	taxonomy, err := readTemplateFile(cfg.PromptModelPath, promptModelFile)
	if err != nil {
		return nil, fmt.Errorf("error reading prompt model: %w", err)
	}
	if err = yaml.Unmarshal(taxonomy, &t.Taxonomy); err != nil {
		return nil, fmt.Errorf("error parsing prompt model: %w", err)
	}
	if err = structValidator.Struct(t.Taxonomy); err != nil {
		return nil, fmt.Errorf("invalid prompt model: %w", err)
	}

	conversation, err := readTemplateFile(
		cfg.ConversationModelPath,
		conversationModelFile,
	)
	if err != nil {
		return nil, fmt.Errorf("error reading conversation model: %w", err)
	}
	if err = yaml.Unmarshal(conversation, &t.Conversation); err != nil {
		return nil, fmt.Errorf("error parsing conversation model: %w", err)
	}
	if err = t.Conversation.validate(); err != nil {
		return nil, fmt.Errorf("invalid conversation model: %w", err)
	}
	t.Conversation.Messages = []Message{}

	return t, nil
}

// NewConversationModel returns a copy of the template conversation for
// the given session, with no messages.
func (t *Template) NewConversationModel(sessionID string, timestamp string) ConversationModel {
	m := t.Conversation.Clone()
	m.Session.ID = sessionID
	m.Session.Timestamp = timestamp
	m.Messages = []Message{}
	return m
}

func readTemplateFile(path string, embedded string) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}
	return templateFS.ReadFile(embedded)
}
