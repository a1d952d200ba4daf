// Package config handles configuration loading for chat-sync.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable
// expansion. The package provides validation of required fields.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CHAT_SYNC_CONFIG environment variable
//  2. ~/.config/chat-sync/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	identity:
//	  token: ${CHAT_SYNC_TOKEN}
//	  secret: ${CHAT_SYNC_SECRET}
//
// # Identity
//
// The current user is supplied either inline (id, name, avatar_url) or
// as a signed token verified against identity.secret. The peer and
// users sections seed the user directory used to resolve message
// authors during decode.
package config
