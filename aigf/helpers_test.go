package aigf

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestFormatPositional(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		s    string
		args []string
		want string
	}{
		{name: "indexed", s: "{1} and {0}", args: []string{"a", "b"}, want: "b and a"},
		{name: "sequential", s: "{} then {}", args: []string{"a", "b"}, want: "a then b"},
		{name: "repeated", s: "{0}{0}{1}", args: []string{"a", "b"}, want: "aab"},
		{name: "escaped", s: "{{0}} is {0}", args: []string{"a"}, want: "{0} is a"},
		{name: "out of range", s: "{2} {x}", args: []string{"a"}, want: "{2} {x}"},
		{name: "unclosed", s: "hi {0", args: []string{"a"}, want: "hi {0"},
		{name: "no args", s: "{0} and {1}", want: "{0} and {1}"},
		{name: "multibyte", s: "{0}은 {1}를 만났다", args: []string{"하나", "민수"}, want: "하나은 민수를 만났다"},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				assert.Equal(t, tc.want, formatPositional(tc.s, tc.args...))
			},
		)
	}
}

func TestCapitalize(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		s    string
		want string
	}{
		{s: "", want: ""},
		{s: "creativity", want: "Creativity"},
		{s: "ENEMY", want: "Enemy"},
		{s: "친구", want: "친구"},
		{s: "éclair", want: "Éclair"},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, capitalize(tc.s), tc.s)
	}
}

func TestShortenString(t *testing.T) {
	t.Parallel()
	const suffix = "\n\n**(글자 수 제한)**"

	testCases := []struct {
		name  string
		s     string
		limit int
		want  string
	}{
		{
			name:  "fits",
			s:     "안녕하세요",
			limit: 5,
			want:  "안녕하세요",
		},
		{
			name:  "collapses blank lines",
			s:     "a\n\nb\n\nc",
			limit: 5,
			want:  "a\nb\nc",
		},
		{
			name:  "truncated",
			s:     strings.Repeat("가", 50),
			limit: 30,
			want:  strings.Repeat("가", 30-utf8.RuneCountInString(suffix)) + suffix,
		},
		{
			name:  "limit shorter than suffix",
			s:     strings.Repeat("a", 50),
			limit: 5,
			want:  "aaaaa",
		},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				got := shortenString(tc.s, tc.limit)
				assert.Equal(t, tc.want, got)
				assert.LessOrEqual(t, utf8.RuneCountInString(got), tc.limit)
			},
		)
	}
}

func TestPasswordHash(t *testing.T) {
	t.Parallel()
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotContains(t, hash, "hunter2")

	ok, err := VerifyPassword(hash, "hunter2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword(hash, "hunter3")
	require.NoError(t, err)
	assert.False(t, ok)

	other, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other)

	_, err = VerifyPassword("not-a-hash", "hunter2")
	assert.Error(t, err)
}

func TestDerive64ByteKey(t *testing.T) {
	t.Parallel()
	key := derive64ByteKey("secret")
	assert.Len(t, key, 64)
	assert.Equal(t, key, derive64ByteKey("secret"))
	assert.NotEqual(t, key, derive64ByteKey("other"))
}

func TestContextLogger(t *testing.T) {
	t.Parallel()
	_, ok := ContextLogger(context.Background())
	assert.False(t, ok)

	logger := slog.Default().With("k", "v")
	ctx := WithLogger(context.Background(), logger)
	got, ok := ContextLogger(ctx)
	require.True(t, ok)
	assert.Same(t, logger, got)

	fallback := slog.Default()
	assert.Same(t, fallback, contextLoggerOr(context.Background(), fallback))
	assert.Same(t, logger, contextLoggerOr(ctx, fallback))
}

func TestDiscordInteractionOptions(t *testing.T) {
	t.Parallel()
	user := newDiscordUser(t)
	i := newCommandInteraction(
		t,
		user,
		"c1",
		DiscordSlashCommandReplace,
		map[string]string{commandOptionBefore: "a", commandOptionAfter: "b"},
	)

	options := discordInteractionOptions(i)
	require.Len(t, options, 2)
	assert.Equal(t, "a", options[commandOptionBefore].StringValue())
	assert.Equal(t, "b", options[commandOptionAfter].StringValue())

	assert.Same(t, user, getDiscordUser(i))

	member := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{Member: &discordgo.Member{User: user}},
	}
	assert.Same(t, user, getDiscordUser(member))
	assert.Nil(t, getDiscordUser(&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}}))
}

func TestStructToSlogValue_Redacts(t *testing.T) {
	t.Parallel()
	cfg := newTestConfig(t)
	value := structToSlogValue(cfg).String()
	assert.NotContains(t, value, "test-discord-token")
	assert.NotContains(t, value, "test-openai-token")
	assert.NotContains(t, value, "test-secret")
	assert.Contains(t, value, "test-application")
}
