package loans

import (
	"time"

	"LIBRIS-backend/internal/platform/gateway"
)

// 貸出登録リクエスト。一般ユーザーは user_id を省略すると自分になる
type CreateLoanRequest struct {
	BookID int64  `json:"book_id" binding:"required"`
	UserID string `json:"user_id"`
}

type BookSummary struct {
	Title string `json:"title"`
}

type UserSummary struct {
	Name string `json:"name"`
}

// LoanView は貸出1件と表示用の書籍名・利用者名（無ければ null）
type LoanView struct {
	ID         string       `json:"id"`
	BookID     int64        `json:"book_id"`
	UserID     string       `json:"user_id"`
	LoanDate   time.Time    `json:"loan_date"`
	ReturnDate *time.Time   `json:"return_date"`
	IsReturned bool         `json:"is_returned"`
	Book       *BookSummary `json:"book"`
	User       *UserSummary `json:"user"`
}

type Status string

const (
	StatusAll      Status = ""
	StatusOpen     Status = "open"
	StatusReturned Status = "returned"
)

// ListFilter: Query は書籍名か利用者名への部分一致（大文字小文字を区別しない）
type ListFilter struct {
	Query  string
	Status Status
	UserID string
}

type BookView struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	ImageURLs   []string  `json:"image_urls"`
	Available   bool      `json:"available"`
	CreatedAt   time.Time `json:"created_at"`
}

// BookFix は Reconcile で書き換えた書籍
type BookFix struct {
	BookID int64  `json:"book_id"`
	Title  string `json:"title"`
	Was    bool   `json:"was_available"`
	Now    bool   `json:"available"`
}

type ReconcileResponse struct {
	Fixed []BookFix `json:"fixed"`
}

type ListResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func toLoanView(r gateway.LoanRow) LoanView {
	v := LoanView{
		ID:         r.ID,
		BookID:     r.BookID,
		UserID:     r.UserID,
		LoanDate:   r.LoanDate,
		ReturnDate: r.ReturnDate,
		IsReturned: r.IsReturned(),
	}
	if r.Book != nil {
		v.Book = &BookSummary{Title: r.Book.Title}
	}
	if r.User != nil {
		v.User = &UserSummary{Name: r.User.Name}
	}
	return v
}

func toBookView(b gateway.Book) BookView {
	urls := b.ImageURLs
	if urls == nil {
		urls = []string{}
	}
	return BookView{
		ID:          b.ID,
		Title:       b.Title,
		Author:      b.Author,
		Description: b.Description,
		Category:    b.Category,
		ImageURLs:   urls,
		Available:   b.Available,
		CreatedAt:   b.CreatedAt,
	}
}
