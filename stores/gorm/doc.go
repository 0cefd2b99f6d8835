//go:build !wasm
// +build !wasm

// Package gorm provides GORM-based implementations of the character store
// interfaces. It supports any database that GORM supports (PostgreSQL,
// MySQL, SQLite, etc.) and is suitable for deployments requiring relational
// storage.
//
// # Database Schema
//
// The package auto-migrates the following tables:
//   - identities: Canonical identities
//   - accounts: Authenticator accounts linked to identities, unique per
//     (authenticator_name, account_id)
//   - password_users: Local-authenticator credentials
//   - login_tokens: One-time magic-link tokens
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{})
//	identityStore := gormstore.NewIdentityStore(db)
//	userStore := gormstore.NewUserStore(db)
//	tokenStore := gormstore.NewTokenStore(db)
package gorm
