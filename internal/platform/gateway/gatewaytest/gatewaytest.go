// Package gatewaytest はテスト用の Gateway（SQLite メモリDB、障害注入ラッパ）を提供する。
package gatewaytest

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"LIBRIS-backend/internal/platform/db"
	"LIBRIS-backend/internal/platform/gateway"
)

// NewSQLite はマイグレーション済みの SQLite メモリDBを開き、SQLStore を返す
func NewSQLite(t testing.TB) (*gateway.SQLStore, *sql.DB) {
	t.Helper()
	cfg := db.DatabaseConfig{Driver: db.SQLite, Path: ":memory:"}
	conn, err := db.Connect(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.Migrate(context.Background(), conn, cfg.Dialect()))
	return gateway.NewSQLStore(conn, cfg.Dialect()), conn
}

// Op は障害を注入する操作名（"books.update" など）
type Op string

const (
	BooksQuery    Op = "books.query"
	BooksUpdate   Op = "books.update"
	ProfilesQuery Op = "profiles.query"
	LoansQuery    Op = "loans.query"
	LoansInsert   Op = "loans.insert"
	LoansUpdate   Op = "loans.update"
	LoansDelete   Op = "loans.delete"
)

// Flaky は指定した操作だけ失敗させる Gateway ラッパ。
// Transactor は実装しないので、包んだ側は補償（saga）経路を通る。
type Flaky struct {
	gateway.Gateway

	mu    sync.Mutex
	fail  map[Op]error
	calls map[Op]int
}

func NewFlaky(inner gateway.Gateway) *Flaky {
	return &Flaky{Gateway: inner, fail: map[Op]error{}, calls: map[Op]int{}}
}

// Fail は op を err で失敗させる（err が nil なら解除）
func (f *Flaky) Fail(op Op, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, op)
		return
	}
	f.fail[op] = err
}

// Calls は op が呼ばれた回数
func (f *Flaky) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Flaky) hit(op Op) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	return f.fail[op]
}

func (f *Flaky) QueryBooks(ctx context.Context, flt gateway.BookFilter) ([]gateway.Book, error) {
	if err := f.hit(BooksQuery); err != nil {
		return nil, &gateway.OpError{Kind: gateway.KindRead, Collection: "books", Op: "query", Err: err}
	}
	return f.Gateway.QueryBooks(ctx, flt)
}

func (f *Flaky) UpdateBook(ctx context.Context, id int64, p gateway.BookPatch) error {
	if err := f.hit(BooksUpdate); err != nil {
		return &gateway.OpError{Kind: gateway.KindWrite, Collection: "books", Op: "update", Err: err}
	}
	return f.Gateway.UpdateBook(ctx, id, p)
}

func (f *Flaky) QueryProfiles(ctx context.Context, flt gateway.ProfileFilter) ([]gateway.Profile, error) {
	if err := f.hit(ProfilesQuery); err != nil {
		return nil, &gateway.OpError{Kind: gateway.KindRead, Collection: "profiles", Op: "query", Err: err}
	}
	return f.Gateway.QueryProfiles(ctx, flt)
}

func (f *Flaky) QueryLoans(ctx context.Context, flt gateway.LoanFilter) ([]gateway.LoanRow, error) {
	if err := f.hit(LoansQuery); err != nil {
		return nil, &gateway.OpError{Kind: gateway.KindRead, Collection: "loans", Op: "query", Err: err}
	}
	return f.Gateway.QueryLoans(ctx, flt)
}

func (f *Flaky) InsertLoan(ctx context.Context, l gateway.Loan) (string, error) {
	if err := f.hit(LoansInsert); err != nil {
		return "", &gateway.OpError{Kind: gateway.KindWrite, Collection: "loans", Op: "insert", Err: err}
	}
	return f.Gateway.InsertLoan(ctx, l)
}

func (f *Flaky) UpdateLoan(ctx context.Context, id string, p gateway.LoanPatch) error {
	if err := f.hit(LoansUpdate); err != nil {
		return &gateway.OpError{Kind: gateway.KindWrite, Collection: "loans", Op: "update", Err: err}
	}
	return f.Gateway.UpdateLoan(ctx, id, p)
}

func (f *Flaky) DeleteLoan(ctx context.Context, id string) error {
	if err := f.hit(LoansDelete); err != nil {
		return &gateway.OpError{Kind: gateway.KindWrite, Collection: "loans", Op: "delete", Err: err}
	}
	return f.Gateway.DeleteLoan(ctx, id)
}
