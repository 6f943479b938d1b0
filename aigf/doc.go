// Package aigf implements a Discord bot that proxies channel conversations
// to a text-completion API.
//
// Every Discord channel owns a conversation: two named participants, a set
// of personality traits, a free-text note and an ordered message log. On
// every turn the whole conversation is rendered into a single prompt
// (default prompt, trait sections, note, transcript) and sent to the
// completion endpoint, so the model sees the full context each time.
//
// Key components:
//
//   - AIGF: wires configuration, storage, Discord, OpenAI and the admin API.
//   - CacheManager: creates and loads per-channel SessionCache records from
//     a default Template.
//   - SessionCache: the durable per-channel state.
//   - Conversation: the turn engine (send, retry, undo, rename, swap...).
//   - OpenAI: the rate-limited completion client.
//   - Discord: gateway session, slash command registration and dispatch.
//   - API: an optional admin HTTP API.
//
// Slash commands are generated from the trait taxonomy at startup, so the
// taxonomy file is the single source of truth for the trait choices users
// can pick from.
package aigf
