// Package chats provides the provider-agnostic data model of a relayed
// conversation.
//
// It is organized into sub-packages:
//   - [github.com/germanamz/chatrelay/pkg/chats/role]: conversation roles (system, user, assistant)
//   - [github.com/germanamz/chatrelay/pkg/chats/message]: immutable role/content messages
//   - [github.com/germanamz/chatrelay/pkg/chats/chat]: append-only transcript with budget windows
//
// No provider or transport code is included.
package chats
