package aigf

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"strings"
)

const (
	DiscordSlashCommandSend    = "대화"
	DiscordSlashCommandRetry   = "재시도"
	DiscordSlashCommandRecord  = "기록"
	DiscordSlashCommandReplace = "바꾸기"
	DiscordSlashCommandModify  = "수정"
	DiscordSlashCommandRename  = "이름"
	DiscordSlashCommandSwap    = "스왑"
	DiscordSlashCommandUndo    = "취소"
	DiscordSlashCommandClear   = "정리"
	DiscordSlashCommandReset   = "초기화"
	DiscordSlashCommandConfig  = "설정"
	DiscordSlashCommandPrint   = "출력"
	DiscordSlashCommandDebug   = "디버그"
	DiscordSlashCommandHelp    = "도움말"

	// option names are ASCII, with Korean descriptions shown in the client
	commandOptionMessage = "message"
	commandOptionPrompt  = "prompt"
	commandOptionBefore  = "before"
	commandOptionAfter   = "after"
	commandOptionText    = "text"
	commandOptionUser    = "user"
	commandOptionAI      = "ai"
	commandOptionNote    = "note"

	// discordMaxOptionChoices is the most choices discord accepts for a
	// single option
	discordMaxOptionChoices = 25

	styleNoneLabel = "없음"
)

const helpContent = `[명령어]
- **대화** [메시지]: 인공지능과 대화
- **재시도**: 마지막 대화를 다시 시도
- **기록** [내용]: 대화 마지막에 이어서 문장을 삽입
- **바꾸기** [기존 단어] [새 단어]: 모든 대화에서 특정 단어를 치환
- **수정** [수정할 내용]: 마지막 대화 수정
- **이름** [당신 이름] [상대 이름]: 이름 변경
- **스왑**: 이름 스왑
- **취소**: 마지막 대화 취소
- **정리**: 대화 내용 비우기
- **초기화**: 설정 초기화
- **설정** [창의력] [성격] [관계] [메모]: 설정 변경
- **출력**: 대화 내용 출력
- **디버그**: 디버그 내용 출력
- **도움말**: 도움말 보기`

const (
	replyNothingToRetry   = "[다시 시도할 메시지가 없습니다]"
	replyRecorded         = "[프롬프트를 기록했습니다]"
	replyReplaced         = "[단어를 치환했습니다]"
	replyModified         = "[마지막 대화를 수정했습니다]"
	replyNothingToModify  = "[수정할 내용이 없습니다]"
	replyRenamed          = "[이름이 변경되었습니다]"
	replyUndone           = "[마지막 대화를 취소했습니다]"
	replyNothingToUndo    = "[취소할 내용이 없습니다]"
	replyCleared          = "[대화 내용이 비워졌습니다]"
	replyReset            = "[모든 설정이 초기화되었습니다]"
	replyConfigChanged    = "[설정이 변경되었습니다]"
	replyConfigUnchanged  = "[설정이 변경되지 않았습니다]"
	replyNotImplemented   = "[아직 구현되지 않은 기능입니다]"
	replyUnknownStyle     = "[알 수 없는 설정입니다]"
	replyContextOverflow  = "[대화가 너무 길어 답변할 수 없습니다]"
	replyUnknownCommand   = "[알 수 없는 명령어입니다]"
	replyLabelUser        = "당신"
	replyLabelAI          = "상대"
	replyLabelNote        = "메모"
	optionDescriptionNote = "프롬프트에 덧붙일 메모"
)

// traitLabel holds the Korean text shown for a trait category: the option
// description in the settings command, and the label in its reply
type traitLabel struct {
	Description string
	Reply       string
}

var traitLabels = map[string]traitLabel{
	CategoryCreativity:     {Description: "창의력", Reply: "창의성"},
	CategoryCharacteristic: {Description: "성격", Reply: "성격"},
	CategoryRelationship:   {Description: "관계", Reply: "관계"},
}

func labelForCategory(category string) traitLabel {
	if l, ok := traitLabels[category]; ok {
		return l
	}
	return traitLabel{Description: category, Reply: category}
}

// immediateCommands don't touch the channel's conversation. Every other
// command is acknowledged first and its reply edited in, since it may wait
// on a prediction already in progress for the channel.
var immediateCommands = map[string]bool{
	DiscordSlashCommandHelp: true,
}

func isDeferredCommand(name string) bool {
	return !immediateCommands[name]
}

func newAppCommand(
	name string,
	description string,
	options ...*discordgo.ApplicationCommandOption,
) *discordgo.ApplicationCommand {
	dmPerm := true
	contexts := []discordgo.InteractionContextType{
		discordgo.InteractionContextPrivateChannel,
		discordgo.InteractionContextGuild,
		discordgo.InteractionContextBotDM,
	}
	integrationTypes := []discordgo.ApplicationIntegrationType{
		discordgo.ApplicationIntegrationUserInstall,
		discordgo.ApplicationIntegrationGuildInstall,
	}
	return &discordgo.ApplicationCommand{
		Name:             name,
		Description:      description,
		DMPermission:     &dmPerm,
		Type:             discordgo.ChatApplicationCommand,
		Contexts:         &contexts,
		IntegrationTypes: &integrationTypes,
		Options:          options,
	}
}

func requiredStringOption(name string, description string) *discordgo.ApplicationCommandOption {
	minLength := 1
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        name,
		Description: description,
		Required:    true,
		MinLength:   &minLength,
	}
}

// traitOption returns a settings option for the category, with a choice
// per style. The list ends with a choice clearing the trait, and is
// capped at discord's limit.
func traitOption(category TraitCategory) *discordgo.ApplicationCommandOption {
	styles := category.Styles()
	if len(styles) > discordMaxOptionChoices-1 {
		styles = styles[:discordMaxOptionChoices-1]
	}
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(styles)+1)
	for _, style := range styles {
		choices = append(
			choices,
			&discordgo.ApplicationCommandOptionChoice{Name: style, Value: style},
		)
	}
	choices = append(
		choices,
		&discordgo.ApplicationCommandOptionChoice{Name: styleNoneLabel, Value: styleNone},
	)
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        strings.ToLower(category.Category),
		Description: labelForCategory(category.Category).Description,
		Choices:     choices,
	}
}

// appCommands returns every slash command. The settings command has an
// option per trait category in the taxonomy.
func appCommands(taxonomy TraitTaxonomy) []*discordgo.ApplicationCommand {
	configOptions := make([]*discordgo.ApplicationCommandOption, 0, len(taxonomy.Traits)+1)
	for _, category := range taxonomy.Traits {
		configOptions = append(configOptions, traitOption(category))
	}
	configOptions = append(
		configOptions,
		&discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        commandOptionNote,
			Description: optionDescriptionNote,
		},
	)

	return []*discordgo.ApplicationCommand{
		newAppCommand(
			DiscordSlashCommandSend, "인공지능과 대화",
			requiredStringOption(commandOptionMessage, "메시지"),
		),
		newAppCommand(DiscordSlashCommandRetry, "마지막 대화를 다시 시도"),
		newAppCommand(
			DiscordSlashCommandRecord, "대화 마지막에 이어서 문장을 삽입",
			requiredStringOption(commandOptionPrompt, "내용"),
		),
		newAppCommand(
			DiscordSlashCommandReplace, "모든 대화에서 특정 단어를 치환",
			requiredStringOption(commandOptionBefore, "기존 단어"),
			requiredStringOption(commandOptionAfter, "새 단어"),
		),
		newAppCommand(
			DiscordSlashCommandModify, "마지막 대화 수정",
			requiredStringOption(commandOptionText, "수정할 내용"),
		),
		newAppCommand(
			DiscordSlashCommandRename, "이름 변경",
			requiredStringOption(commandOptionUser, "당신 이름"),
			requiredStringOption(commandOptionAI, "상대 이름"),
		),
		newAppCommand(DiscordSlashCommandSwap, "이름 스왑"),
		newAppCommand(DiscordSlashCommandUndo, "마지막 대화 취소"),
		newAppCommand(DiscordSlashCommandClear, "대화 내용 비우기"),
		newAppCommand(DiscordSlashCommandReset, "설정 초기화"),
		newAppCommand(DiscordSlashCommandConfig, "설정 변경", configOptions...),
		newAppCommand(DiscordSlashCommandPrint, "대화 내용 출력"),
		newAppCommand(DiscordSlashCommandDebug, "디버그 내용 출력"),
		newAppCommand(DiscordSlashCommandHelp, "도움말 보기"),
	}
}

func stringOption(
	options map[string]*discordgo.ApplicationCommandInteractionDataOption,
	name string,
) (string, bool) {
	opt, ok := options[name]
	if !ok || opt == nil || opt.Type != discordgo.ApplicationCommandOptionString {
		return "", false
	}
	return opt.StringValue(), true
}

// runCommand runs the named command against the conversation, returning
// the reply to show in the channel
func runCommand(
	ctx context.Context,
	conv *Conversation,
	name string,
	options map[string]*discordgo.ApplicationCommandInteractionDataOption,
) (string, error) {
	switch name {
	case DiscordSlashCommandSend:
		message, _ := stringOption(options, commandOptionMessage)
		question, answer, err := conv.Send(ctx, message)
		if err != nil {
			return "", err
		}
		return conv.FormatPrediction(question, answer), nil
	case DiscordSlashCommandRetry:
		previous, answer, ok, err := conv.Retry(ctx)
		if err != nil {
			return "", err
		}
		if !ok {
			return replyNothingToRetry, nil
		}
		return conv.FormatPrediction(previous, answer), nil
	case DiscordSlashCommandRecord:
		prompt, _ := stringOption(options, commandOptionPrompt)
		if _, err := conv.Record(ctx, prompt); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s\n(%s)", replyRecorded, prompt), nil
	case DiscordSlashCommandReplace:
		before, _ := stringOption(options, commandOptionBefore)
		after, _ := stringOption(options, commandOptionAfter)
		if err := conv.Replace(ctx, before, after); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s\n%s -> %s", replyReplaced, before, after), nil
	case DiscordSlashCommandModify:
		text, _ := stringOption(options, commandOptionText)
		before, after, ok, err := conv.Modify(ctx, text)
		if err != nil {
			return "", err
		}
		if !ok {
			return replyNothingToModify, nil
		}
		return fmt.Sprintf(
			"%s\n~~%s~~\n%s",
			replyModified,
			formatMessage(conv.Settings(), before),
			formatMessage(conv.Settings(), after),
		), nil
	case DiscordSlashCommandRename:
		user, _ := stringOption(options, commandOptionUser)
		ai, _ := stringOption(options, commandOptionAI)
		oldUser, oldAI, err := conv.Rename(ctx, user, ai)
		if err != nil {
			return "", err
		}
		return renameReply(oldUser, user, oldAI, ai), nil
	case DiscordSlashCommandSwap:
		oldUser, oldAI, err := conv.Swap(ctx)
		if err != nil {
			return "", err
		}
		return renameReply(oldUser, oldAI, oldAI, oldUser), nil
	case DiscordSlashCommandUndo:
		removed, err := conv.Undo(ctx)
		if err != nil {
			return "", err
		}
		if removed == "" {
			return replyNothingToUndo, nil
		}
		return fmt.Sprintf("%s\n%s", replyUndone, removed), nil
	case DiscordSlashCommandClear:
		if err := conv.Clear(ctx); err != nil {
			return "", err
		}
		return replyCleared, nil
	case DiscordSlashCommandReset:
		if err := conv.Reset(ctx); err != nil {
			return "", err
		}
		return replyReset, nil
	case DiscordSlashCommandConfig:
		return runConfigCommand(ctx, conv, options)
	case DiscordSlashCommandPrint:
		return conv.Print(), nil
	case DiscordSlashCommandDebug:
		return conv.Debug(), nil
	case DiscordSlashCommandHelp:
		return helpContent, nil
	default:
		return replyUnknownCommand, nil
	}
}

// runConfigCommand applies each trait given, in taxonomy order, followed
// by the note. Changes made before a failing option are kept.
func runConfigCommand(
	ctx context.Context,
	conv *Conversation,
	options map[string]*discordgo.ApplicationCommandInteractionDataOption,
) (string, error) {
	var lines []string
	for _, category := range conv.TraitCategories() {
		style, ok := stringOption(options, strings.ToLower(category))
		if !ok {
			continue
		}
		if err := conv.ChangeTrait(ctx, category, style); err != nil {
			return "", err
		}
		shown := style
		if style == styleNone {
			shown = styleNoneLabel
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", labelForCategory(category).Reply, shown))
	}
	if note, ok := stringOption(options, commandOptionNote); ok {
		if err := conv.SetNote(ctx, note); err != nil {
			return "", err
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", replyLabelNote, note))
	}

	if len(lines) == 0 {
		return replyConfigUnchanged, nil
	}
	return replyConfigChanged + "\n" + strings.Join(lines, "\n"), nil
}

func renameReply(oldUser, newUser, oldAI, newAI string) string {
	return fmt.Sprintf(
		"%s\n- %s: %s -> %s\n- %s: %s -> %s",
		replyRenamed,
		replyLabelUser, oldUser, newUser,
		replyLabelAI, oldAI, newAI,
	)
}

// formatMessage renders a single message for display
func formatMessage(settings Settings, m Message) string {
	if m.Sender == SenderText {
		return fmt.Sprintf("(%s)", m.Text)
	}
	name, _ := settings.SenderName(m.Sender)
	return fmt.Sprintf("**%s**: %s", name, m.Text)
}

// commandErrorReply returns the reply shown when a command fails
func commandErrorReply(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedTrait):
		return replyNotImplemented
	case errors.Is(err, ErrUnknownStyle):
		return replyUnknownStyle
	case errors.Is(err, ErrContextOverflow):
		return replyContextOverflow
	default:
		return DefaultDiscordErrorMessage
	}
}
