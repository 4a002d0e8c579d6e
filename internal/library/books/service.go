package books

import (
	"context"
	"errors"
	"log"
	"net/url"
	"strings"
	"time"

	"LIBRIS-backend/internal/library/catalog"
	"LIBRIS-backend/internal/platform/gateway"
)

type Clock interface{ Now() time.Time }
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type Service struct {
	gw         gateway.Gateway
	categories []string
	clock      Clock
}

func NewService(gw gateway.Gateway, categories []string) *Service {
	return &Service{gw: gw, categories: categories, clock: realClock{}}
}

// canonicalCategory は入力を設定上の表記に揃える
func (s *Service) canonicalCategory(c string) (string, error) {
	key := catalog.Normalize(c)
	for _, x := range s.categories {
		if catalog.Normalize(x) == key {
			return x, nil
		}
	}
	return "", ErrInvalid("unknown category: " + strings.TrimSpace(c))
}

// cleanURLs: 空白だけの要素は捨て、残りは絶対 http(s) URL であること
func cleanURLs(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, raw := range in {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, ErrInvalid("invalid image url: " + raw)
		}
		out = append(out, raw)
	}
	return out, nil
}

func required(field, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", ErrInvalid(field + " is required")
	}
	return v, nil
}

func (s *Service) Create(ctx context.Context, req CreateBookRequest) (*BookResponse, error) {
	title, err := required("title", req.Title)
	if err != nil {
		return nil, err
	}
	author, err := required("author", req.Author)
	if err != nil {
		return nil, err
	}
	category, err := s.canonicalCategory(req.Category)
	if err != nil {
		return nil, err
	}
	urls, err := cleanURLs(req.ImageURLs)
	if err != nil {
		return nil, err
	}

	b := gateway.Book{
		Title:       title,
		Author:      author,
		Description: strings.TrimSpace(req.Description),
		Category:    category,
		ImageURLs:   urls,
		Available:   true,
		CreatedAt:   s.clock.Now(),
	}
	id, err := s.gw.InsertBook(ctx, b)
	if err != nil {
		log.Printf("[ERROR] books.create: %v", err)
		return nil, ErrInternal("store write failed")
	}
	b.ID = id
	res := toResponse(b)
	return &res, nil
}

func (s *Service) get(ctx context.Context, gw gateway.Books, id int64, lock bool) (*gateway.Book, error) {
	rows, err := gw.QueryBooks(ctx, gateway.BookFilter{ID: &id, Lock: lock})
	if err != nil {
		log.Printf("[ERROR] books.get: %v", err)
		return nil, ErrInternal("store read failed")
	}
	if len(rows) == 0 {
		return nil, ErrNotFound("book not found")
	}
	return &rows[0], nil
}

func (s *Service) Get(ctx context.Context, id int64) (*BookResponse, error) {
	b, err := s.get(ctx, s.gw, id, false)
	if err != nil {
		return nil, err
	}
	res := toResponse(*b)
	return &res, nil
}

// List: category が空なら全件
func (s *Service) List(ctx context.Context, category string) (*ListBooksResponse, error) {
	f := gateway.BookFilter{}
	if strings.TrimSpace(category) != "" {
		c, err := s.canonicalCategory(category)
		if err != nil {
			return nil, err
		}
		f.Category = &c
	}
	rows, err := s.gw.QueryBooks(ctx, f)
	if err != nil {
		log.Printf("[ERROR] books.list: %v", err)
		return nil, ErrInternal("store read failed")
	}
	items := make([]BookResponse, 0, len(rows))
	for _, b := range rows {
		items = append(items, toResponse(b))
	}
	return &ListBooksResponse{Items: items, Total: len(items)}, nil
}

func (s *Service) Update(ctx context.Context, id int64, req UpdateBookRequest) (*BookResponse, error) {
	var p gateway.BookPatch
	if req.Title != nil {
		v, err := required("title", *req.Title)
		if err != nil {
			return nil, err
		}
		p.Title = &v
	}
	if req.Author != nil {
		v, err := required("author", *req.Author)
		if err != nil {
			return nil, err
		}
		p.Author = &v
	}
	if req.Description != nil {
		v := strings.TrimSpace(*req.Description)
		p.Description = &v
	}
	if req.Category != nil {
		v, err := s.canonicalCategory(*req.Category)
		if err != nil {
			return nil, err
		}
		p.Category = &v
	}
	if req.ImageURLs != nil {
		v, err := cleanURLs(*req.ImageURLs)
		if err != nil {
			return nil, err
		}
		p.ImageURLs = &v
	}

	if err := s.gw.UpdateBook(ctx, id, p); err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, ErrNotFound("book not found")
		}
		log.Printf("[ERROR] books.update: %v", err)
		return nil, ErrInternal("store write failed")
	}
	// 空パッチは存在確認を兼ねて読み直す
	return s.Get(ctx, id)
}

// Delete: 未返却の貸出がある書籍は消せない。貸出履歴は残す
func (s *Service) Delete(ctx context.Context, id int64) error {
	del := func(ctx context.Context, gw gateway.Gateway) error {
		if _, err := s.get(ctx, gw, id, true); err != nil {
			return err
		}
		open := true
		rows, err := gw.QueryLoans(ctx, gateway.LoanFilter{BookID: &id, Open: &open})
		if err != nil {
			log.Printf("[ERROR] books.delete: %v", err)
			return ErrInternal("store read failed")
		}
		if len(rows) > 0 {
			return ErrConflict("book has an open loan")
		}
		if err := gw.DeleteBook(ctx, id); err != nil {
			if errors.Is(err, gateway.ErrNotFound) {
				return ErrNotFound("book not found")
			}
			log.Printf("[ERROR] books.delete: %v", err)
			return ErrInternal("store write failed")
		}
		return nil
	}

	if t, ok := s.gw.(gateway.Transactor); ok {
		err := t.RunInTx(ctx, del)
		var api *APIError
		if err != nil && !errors.As(err, &api) {
			log.Printf("[ERROR] books.delete: %v", err)
			return ErrInternal("store write failed")
		}
		return err
	}
	return del(ctx, s.gw)
}
