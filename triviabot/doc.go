// Package triviabot implements a Discord trivia bot.
//
// The bot asks AI-generated multiple-choice trivia questions via slash
// commands, scores answers based on speed and difficulty, tracks per-user
// and per-category statistics, and replies in one of several configurable
// host personas.
//
// Incoming /trivia commands are queued and dispatched to per-user workers,
// so each user has at most one round in flight at a time. Answers and
// skips resolve the active round directly. State is persisted with GORM
// (SQLite by default, PostgreSQL optionally), and a Gin-based API server
// provides administrative access to runtime configuration, users and
// round history.
package triviabot
