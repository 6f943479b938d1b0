package aigf

import (
	"fmt"
	"strings"
)

const (
	messagesHeader = "[Messages]"
	noteHeader     = "[Note]"
)

// RenderPromptHistory renders the full prompt sent to the completion
// provider: the default prompt, a section per active trait, the user
// note, then the transcript.
func RenderPromptHistory(
	defaultPrompt string,
	taxonomy TraitTaxonomy,
	settings Settings,
	messages []Message,
) string {
	return joinNonEmpty(
		"\n\n",
		renderPrompt(defaultPrompt, taxonomy, settings),
		renderMessages(settings, messages),
	)
}

// renderPrompt renders the prompt half of the history, with participant
// names substituted for positional placeholders.
func renderPrompt(defaultPrompt string, taxonomy TraitTaxonomy, settings Settings) string {
	sections := make([]string, 0, len(settings.Traits)+2)
	sections = append(sections, defaultPrompt)
	for _, trait := range settings.Traits {
		sections = append(sections, traitSection(taxonomy, trait))
	}
	if settings.UserPrompt != "" {
		sections = append(sections, noteHeader+"\n"+settings.UserPrompt)
	}

	names := make([]string, 0, len(settings.Participants))
	for _, p := range settings.Participants {
		names = append(names, p.Name)
	}
	return formatPositional(joinNonEmpty("\n\n", sections...), names...)
}

// traitSection renders "[Category: Style]" followed by the style's
// sentences. Disabled, unknown and empty styles render nothing.
func traitSection(taxonomy TraitTaxonomy, trait Trait) string {
	if trait.Style == styleNone {
		return ""
	}
	category, ok := taxonomy.Category(trait.Category)
	if !ok {
		return ""
	}
	choice, ok := category.Choice(trait.Style)
	if !ok || len(choice.Prompts) == 0 {
		return ""
	}
	sentences := strings.Join(choice.Prompts, "\n")
	if sentences == "" {
		return ""
	}
	return fmt.Sprintf(
		"[%s: %s]\n%s",
		capitalize(trait.Category),
		capitalize(trait.Style),
		sentences,
	)
}

// renderMessages renders the transcript under the messages header
func renderMessages(settings Settings, messages []Message) string {
	if len(messages) == 0 {
		return messagesHeader
	}
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, renderMessage(settings, m))
	}
	return messagesHeader + "\n" + strings.Join(lines, "\n")
}

func renderMessage(settings Settings, m Message) string {
	if name, ok := settings.SenderName(m.Sender); ok {
		return fmt.Sprintf("%s: %s", name, m.Text)
	}
	return fmt.Sprintf("\n(%s)\n", m.Text)
}

func joinNonEmpty(sep string, elems ...string) string {
	kept := elems[:0:0]
	for _, e := range elems {
		if e != "" {
			kept = append(kept, e)
		}
	}
	return strings.Join(kept, sep)
}
