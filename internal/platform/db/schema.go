package db

import (
	"context"
	"database/sql"
	"fmt"
)

// テーブル定義はドライバごとに持つ。
// loans に外部キーは張らない（書籍削除後も貸出履歴を残し、JOIN 側で欠損を許容する）。

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS auth_accounts (
		id            VARCHAR(26)  NOT NULL PRIMARY KEY,
		email         VARCHAR(255) NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		role          VARCHAR(16)  NOT NULL DEFAULT 'user',
		is_disabled   TINYINT(1)   NOT NULL DEFAULT 0,
		created_at    DATETIME(6)  NOT NULL,
		UNIQUE KEY uq_auth_accounts_email (email)
	)`,
	`CREATE TABLE IF NOT EXISTS books (
		id          BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
		title       VARCHAR(255) NOT NULL,
		author      VARCHAR(255) NOT NULL,
		description TEXT         NOT NULL,
		category    VARCHAR(64)  NOT NULL,
		image_urls  TEXT         NOT NULL,
		available   TINYINT(1)   NOT NULL DEFAULT 1,
		created_at  DATETIME(6)  NOT NULL,
		KEY idx_books_category (category)
	)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		id         VARCHAR(64)  NOT NULL PRIMARY KEY,
		name       VARCHAR(255) NOT NULL,
		email      VARCHAR(255) NOT NULL,
		role       VARCHAR(16)  NOT NULL DEFAULT 'user',
		created_at DATETIME(6)  NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS loans (
		id          VARCHAR(26) NOT NULL PRIMARY KEY,
		book_id     BIGINT      NOT NULL,
		user_id     VARCHAR(64) NOT NULL,
		loan_date   DATETIME(6) NOT NULL,
		return_date DATETIME(6) NULL,
		created_at  DATETIME(6) NOT NULL,
		KEY idx_loans_book_open (book_id, return_date),
		KEY idx_loans_user (user_id),
		KEY idx_loans_loan_date (loan_date)
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS auth_accounts (
		id            VARCHAR(26)  PRIMARY KEY,
		email         VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		role          VARCHAR(16)  NOT NULL DEFAULT 'user',
		is_disabled   BOOLEAN      NOT NULL DEFAULT FALSE,
		created_at    TIMESTAMPTZ  NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS books (
		id          BIGSERIAL    PRIMARY KEY,
		title       VARCHAR(255) NOT NULL,
		author      VARCHAR(255) NOT NULL,
		description TEXT         NOT NULL,
		category    VARCHAR(64)  NOT NULL,
		image_urls  TEXT         NOT NULL,
		available   BOOLEAN      NOT NULL DEFAULT TRUE,
		created_at  TIMESTAMPTZ  NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_books_category ON books (category)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		id         VARCHAR(64)  PRIMARY KEY,
		name       VARCHAR(255) NOT NULL,
		email      VARCHAR(255) NOT NULL,
		role       VARCHAR(16)  NOT NULL DEFAULT 'user',
		created_at TIMESTAMPTZ  NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS loans (
		id          VARCHAR(26) PRIMARY KEY,
		book_id     BIGINT      NOT NULL,
		user_id     VARCHAR(64) NOT NULL,
		loan_date   TIMESTAMPTZ NOT NULL,
		return_date TIMESTAMPTZ NULL,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_loans_book_open ON loans (book_id) WHERE return_date IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_loans_user ON loans (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_loans_loan_date ON loans (loan_date DESC)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS auth_accounts (
		id            TEXT     PRIMARY KEY,
		email         TEXT     NOT NULL UNIQUE,
		password_hash TEXT     NOT NULL,
		role          TEXT     NOT NULL DEFAULT 'user',
		is_disabled   BOOLEAN  NOT NULL DEFAULT 0,
		created_at    DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS books (
		id          INTEGER  PRIMARY KEY AUTOINCREMENT,
		title       TEXT     NOT NULL,
		author      TEXT     NOT NULL,
		description TEXT     NOT NULL,
		category    TEXT     NOT NULL,
		image_urls  TEXT     NOT NULL,
		available   BOOLEAN  NOT NULL DEFAULT 1,
		created_at  DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_books_category ON books (category)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		id         TEXT     PRIMARY KEY,
		name       TEXT     NOT NULL,
		email      TEXT     NOT NULL,
		role       TEXT     NOT NULL DEFAULT 'user',
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS loans (
		id          TEXT     PRIMARY KEY,
		book_id     INTEGER  NOT NULL,
		user_id     TEXT     NOT NULL,
		loan_date   DATETIME NOT NULL,
		return_date DATETIME NULL,
		created_at  DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_loans_book_open ON loans (book_id, return_date)`,
	`CREATE INDEX IF NOT EXISTS idx_loans_user ON loans (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_loans_loan_date ON loans (loan_date)`,
}

// Migrate はテーブルを作成する（IF NOT EXISTS なので何度流しても良い）
func Migrate(ctx context.Context, conn *sql.DB, d Dialect) error {
	var stmts []string
	switch d.Driver {
	case Postgres:
		stmts = postgresSchema
	case SQLite:
		stmts = sqliteSchema
	default:
		stmts = mysqlSchema
	}
	// MySQL ドライバは複数文を1回で流せないので1文ずつ
	for _, s := range stmts {
		if _, err := conn.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("マイグレーション失敗: %w", err)
		}
	}
	return nil
}
