package catalog

import (
	"context"
	"slices"

	"LIBRIS-backend/internal/platform/gateway"
)

type Service struct {
	books      gateway.Books
	categories []string
}

func NewService(books gateway.Books, categories []string) *Service {
	return &Service{books: books, categories: slices.Clone(categories)}
}

// Stats は毎回書籍を読み直して集計する
func (s *Service) Stats(ctx context.Context) ([]Summary, error) {
	books, err := s.books.QueryBooks(ctx, gateway.BookFilter{})
	if err != nil {
		return nil, err
	}
	return Summaries(books, s.categories), nil
}
