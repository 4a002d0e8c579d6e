// Package gateway は books / profiles / loans の3コレクションに対する
// 最小限の永続化境界（Query / Insert / Update / Delete）を提供する。
//
// 1呼び出し = 1往復。キャッシュ・リトライ・バッチは行わない。
// 失敗はすべて *OpError（read-failed / write-failed）で返り、下位のドライバエラーを保持する。
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ===== Rows =====

type Book struct {
	ID          int64
	Title       string
	Author      string
	Description string
	Category    string
	ImageURLs   []string
	Available   bool
	CreatedAt   time.Time
}

type Profile struct {
	ID        string // 認証側の subject id と同じ
	Name      string
	Email     string
	Role      string
	CreatedAt time.Time
}

type Loan struct {
	ID         string
	BookID     int64
	UserID     string
	LoanDate   time.Time
	ReturnDate *time.Time
	CreatedAt  time.Time
}

// IsReturned は返却日の有無から導出する（保存はしない）
func (l Loan) IsReturned() bool { return l.ReturnDate != nil }

// JOIN で付いてくる表示用の最小限フィールド
type BookSummary struct {
	Title string
}

type UserSummary struct {
	Name string
}

// LoanRow は貸出1件と、関連する書籍・利用者の要約（それぞれ0件か1件）
type LoanRow struct {
	Loan
	Book *BookSummary
	User *UserSummary
}

// ===== Filters / Patches =====

type BookFilter struct {
	ID        *int64
	Category  *string
	Available *bool
	// トランザクション内で対象行をロックする（ロック非対応の方言やTx外では無視）
	Lock bool
}

type BookPatch struct {
	Title       *string
	Author      *string
	Description *string
	Category    *string
	ImageURLs   *[]string
	Available   *bool
}

func (p BookPatch) empty() bool {
	return p.Title == nil && p.Author == nil && p.Description == nil &&
		p.Category == nil && p.ImageURLs == nil && p.Available == nil
}

type ProfileFilter struct {
	ID    *string
	Email *string
}

type ProfilePatch struct {
	Name  *string
	Email *string
	Role  *string
}

func (p ProfilePatch) empty() bool {
	return p.Name == nil && p.Email == nil && p.Role == nil
}

// LoanFilter の結果は loan_date 降順
type LoanFilter struct {
	ID     *string
	BookID *int64
	UserID *string
	Open   *bool // true: 未返却のみ / false: 返却済みのみ
}

type LoanPatch struct {
	ReturnDate      *time.Time
	ClearReturnDate bool
}

func (p LoanPatch) empty() bool {
	return p.ReturnDate == nil && !p.ClearReturnDate
}

// ===== Interfaces =====

type Books interface {
	QueryBooks(ctx context.Context, f BookFilter) ([]Book, error)
	InsertBook(ctx context.Context, b Book) (int64, error)
	UpdateBook(ctx context.Context, id int64, p BookPatch) error
	DeleteBook(ctx context.Context, id int64) error
}

type Profiles interface {
	QueryProfiles(ctx context.Context, f ProfileFilter) ([]Profile, error)
	InsertProfile(ctx context.Context, p Profile) (string, error)
	UpdateProfile(ctx context.Context, id string, p ProfilePatch) error
	DeleteProfile(ctx context.Context, id string) error
}

type Loans interface {
	QueryLoans(ctx context.Context, f LoanFilter) ([]LoanRow, error)
	InsertLoan(ctx context.Context, l Loan) (string, error)
	UpdateLoan(ctx context.Context, id string, p LoanPatch) error
	DeleteLoan(ctx context.Context, id string) error
}

type Gateway interface {
	Books
	Profiles
	Loans
}

// Transactor は複数の書き込みを1トランザクションにまとめられる実装が満たす。
// fn に渡される Gateway はトランザクションに束縛されている。
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, gw Gateway) error) error
}

// ===== Errors =====

type Kind string

const (
	KindRead  Kind = "read-failed"
	KindWrite Kind = "write-failed"
)

var (
	// ErrNotFound 更新・削除対象の行が存在しない
	ErrNotFound = errors.New("row not found")
	// ErrDuplicate 主キー・ユニーク制約違反
	ErrDuplicate = errors.New("duplicate key")
)

type OpError struct {
	Kind       Kind
	Collection string
	Op         string
	Err        error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %s.%s: %v", e.Kind, e.Collection, e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func readErr(collection, op string, err error) error {
	return &OpError{Kind: KindRead, Collection: collection, Op: op, Err: err}
}

func writeErr(collection, op string, err error) error {
	return &OpError{Kind: KindWrite, Collection: collection, Op: op, Err: err}
}

// KindOf はエラーが gateway 由来なら read-failed / write-failed を返す
func KindOf(err error) (Kind, bool) {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind, true
	}
	return "", false
}

const (
	collBooks    = "books"
	collProfiles = "profiles"
	collLoans    = "loans"
)
