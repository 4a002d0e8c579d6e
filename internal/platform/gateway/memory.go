package gateway

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	ulid "github.com/oklog/ulid/v2"
)

var _ Gateway = &MemoryStore{}

// MemoryStore はプロセス内メモリの Gateway 実装。テストとローカル確認用。
// トランザクションは持たない（Transactor を実装しない）。
type MemoryStore struct {
	mu         sync.Mutex
	nextBookID int64
	books      map[int64]Book
	profiles   map[string]Profile
	loans      map[string]Loan
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextBookID: 1,
		books:      make(map[int64]Book),
		profiles:   make(map[string]Profile),
		loans:      make(map[string]Loan),
	}
}

// 呼び出し側とスライス・ポインタを共有しない
func copyBook(b Book) Book {
	b.ImageURLs = append([]string{}, b.ImageURLs...)
	return b
}

func copyLoan(l Loan) Loan {
	if l.ReturnDate != nil {
		t := *l.ReturnDate
		l.ReturnDate = &t
	}
	return l
}

// ===== books =====

func (m *MemoryStore) QueryBooks(ctx context.Context, f BookFilter) ([]Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, readErr(collBooks, "query", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Book
	for _, b := range m.books {
		if f.ID != nil && b.ID != *f.ID {
			continue
		}
		if f.Category != nil && b.Category != *f.Category {
			continue
		}
		if f.Available != nil && b.Available != *f.Available {
			continue
		}
		out = append(out, copyBook(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) InsertBook(ctx context.Context, b Book) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, writeErr(collBooks, "insert", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b.ID = m.nextBookID
	m.nextBookID++
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	m.books[b.ID] = copyBook(b)
	return b.ID, nil
}

func (m *MemoryStore) UpdateBook(ctx context.Context, id int64, p BookPatch) error {
	if err := ctx.Err(); err != nil {
		return writeErr(collBooks, "update", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.books[id]
	if !ok {
		return writeErr(collBooks, "update", ErrNotFound)
	}
	if p.Title != nil {
		b.Title = *p.Title
	}
	if p.Author != nil {
		b.Author = *p.Author
	}
	if p.Description != nil {
		b.Description = *p.Description
	}
	if p.Category != nil {
		b.Category = *p.Category
	}
	if p.ImageURLs != nil {
		b.ImageURLs = *p.ImageURLs
	}
	if p.Available != nil {
		b.Available = *p.Available
	}
	m.books[id] = copyBook(b)
	return nil
}

func (m *MemoryStore) DeleteBook(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return writeErr(collBooks, "delete", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.books[id]; !ok {
		return writeErr(collBooks, "delete", ErrNotFound)
	}
	delete(m.books, id)
	return nil
}

// ===== profiles =====

func (m *MemoryStore) QueryProfiles(ctx context.Context, f ProfileFilter) ([]Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, readErr(collProfiles, "query", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Profile
	for _, p := range m.profiles {
		if f.ID != nil && p.ID != *f.ID {
			continue
		}
		if f.Email != nil && p.Email != *f.Email {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) InsertProfile(ctx context.Context, p Profile) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", writeErr(collProfiles, "insert", err)
	}
	if p.ID == "" {
		return "", writeErr(collProfiles, "insert", errors.New("id is required"))
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.profiles[p.ID]; ok {
		return "", writeErr(collProfiles, "insert", ErrDuplicate)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.profiles[p.ID] = p
	return p.ID, nil
}

func (m *MemoryStore) UpdateProfile(ctx context.Context, id string, p ProfilePatch) error {
	if err := ctx.Err(); err != nil {
		return writeErr(collProfiles, "update", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.profiles[id]
	if !ok {
		return writeErr(collProfiles, "update", ErrNotFound)
	}
	if p.Name != nil {
		cur.Name = *p.Name
	}
	if p.Email != nil {
		cur.Email = *p.Email
	}
	if p.Role != nil {
		cur.Role = *p.Role
	}
	m.profiles[id] = cur
	return nil
}

func (m *MemoryStore) DeleteProfile(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return writeErr(collProfiles, "delete", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.profiles[id]; !ok {
		return writeErr(collProfiles, "delete", ErrNotFound)
	}
	delete(m.profiles, id)
	return nil
}

// ===== loans =====

func (m *MemoryStore) QueryLoans(ctx context.Context, f LoanFilter) ([]LoanRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, readErr(collLoans, "query", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []LoanRow
	for _, l := range m.loans {
		if f.ID != nil && l.ID != *f.ID {
			continue
		}
		if f.BookID != nil && l.BookID != *f.BookID {
			continue
		}
		if f.UserID != nil && l.UserID != *f.UserID {
			continue
		}
		if f.Open != nil && *f.Open == l.IsReturned() {
			continue
		}
		r := LoanRow{Loan: copyLoan(l)}
		if b, ok := m.books[l.BookID]; ok {
			r.Book = &BookSummary{Title: b.Title}
		}
		if p, ok := m.profiles[l.UserID]; ok {
			r.User = &UserSummary{Name: p.Name}
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LoanDate.Equal(out[j].LoanDate) {
			return out[i].LoanDate.After(out[j].LoanDate)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) InsertLoan(ctx context.Context, l Loan) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", writeErr(collLoans, "insert", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if l.ID == "" {
		l.ID = ulid.Make().String()
	}
	if _, ok := m.loans[l.ID]; ok {
		return "", writeErr(collLoans, "insert", ErrDuplicate)
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	m.loans[l.ID] = copyLoan(l)
	return l.ID, nil
}

func (m *MemoryStore) UpdateLoan(ctx context.Context, id string, p LoanPatch) error {
	if err := ctx.Err(); err != nil {
		return writeErr(collLoans, "update", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.loans[id]
	if !ok {
		return writeErr(collLoans, "update", ErrNotFound)
	}
	switch {
	case p.ClearReturnDate:
		l.ReturnDate = nil
	case p.ReturnDate != nil:
		t := *p.ReturnDate
		l.ReturnDate = &t
	}
	m.loans[id] = l
	return nil
}

func (m *MemoryStore) DeleteLoan(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return writeErr(collLoans, "delete", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.loans[id]; !ok {
		return writeErr(collLoans, "delete", ErrNotFound)
	}
	delete(m.loans, id)
	return nil
}
