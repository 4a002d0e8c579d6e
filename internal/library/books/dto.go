package books

import (
	"time"

	"LIBRIS-backend/internal/platform/gateway"
)

// 書籍登録リクエスト。available は貸出側が管理するので受け付けない
type CreateBookRequest struct {
	Title       string   `json:"title" binding:"required"`
	Author      string   `json:"author" binding:"required"`
	Description string   `json:"description"`
	Category    string   `json:"category" binding:"required"`
	ImageURLs   []string `json:"image_urls"`
}

// 部分更新。nil のフィールドは変更しない
type UpdateBookRequest struct {
	Title       *string   `json:"title,omitempty"`
	Author      *string   `json:"author,omitempty"`
	Description *string   `json:"description,omitempty"`
	Category    *string   `json:"category,omitempty"`
	ImageURLs   *[]string `json:"image_urls,omitempty"`
}

type BookResponse struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	ImageURLs   []string  `json:"image_urls"`
	Available   bool      `json:"available"`
	CreatedAt   time.Time `json:"created_at"`
}

type ListBooksResponse struct {
	Items []BookResponse `json:"items"`
	Total int            `json:"total"`
}

func toResponse(b gateway.Book) BookResponse {
	urls := b.ImageURLs
	if urls == nil {
		urls = []string{}
	}
	return BookResponse{
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
