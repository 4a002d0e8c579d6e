package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	ulid "github.com/oklog/ulid/v2"

	"LIBRIS-backend/internal/platform/db"
)

// SQLStore は database/sql 上の Gateway 実装（mysql / postgres / sqlite）
type SQLStore struct {
	conn    *sql.DB // Tx 内で作られたストアでは nil
	q       db.DBTX
	dialect db.Dialect
}

var (
	_ Gateway    = (*SQLStore)(nil)
	_ Transactor = (*SQLStore)(nil)
)

func NewSQLStore(conn *sql.DB, d db.Dialect) *SQLStore {
	return &SQLStore{conn: conn, q: conn, dialect: d}
}

// RunInTx: fn 内の Gateway 呼び出しはすべて同一トランザクション。
// 既に Tx 内のストアから呼ばれた場合はそのまま同じ Tx に参加する。
func (s *SQLStore) RunInTx(ctx context.Context, fn func(ctx context.Context, gw Gateway) error) error {
	if s.conn == nil {
		return fn(ctx, s)
	}
	return db.RunInTx(ctx, s.conn, nil, func(ctx context.Context, tx db.DBTX) error {
		return fn(ctx, &SQLStore{q: tx, dialect: s.dialect})
	})
}

func (s *SQLStore) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.dialect.Rebind(q), args...)
}

func (s *SQLStore) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.dialect.Rebind(q), args...)
}

// affectedOne は UPDATE / DELETE が1行に当たったか確認する
func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func classify(err error) error {
	if db.IsDuplicate(err) {
		return errors.Join(ErrDuplicate, err)
	}
	return err
}

// ===== books =====

const bookColumns = `id, title, author, description, category, image_urls, available, created_at`

func (s *SQLStore) QueryBooks(ctx context.Context, f BookFilter) ([]Book, error) {
	sb := strings.Builder{}
	sb.WriteString(`SELECT ` + bookColumns + ` FROM books WHERE 1=1`)
	args := []any{}
	if f.ID != nil {
		sb.WriteString(` AND id = ?`)
		args = append(args, *f.ID)
	}
	if f.Category != nil {
		sb.WriteString(` AND category = ?`)
		args = append(args, *f.Category)
	}
	if f.Available != nil {
		sb.WriteString(` AND available = ?`)
		args = append(args, *f.Available)
	}
	sb.WriteString(` ORDER BY id`)
	if f.Lock && s.conn == nil {
		sb.WriteString(s.dialect.ForUpdate())
	}

	rows, err := s.query(ctx, sb.String(), args...)
	if err != nil {
		return nil, readErr(collBooks, "query", err)
	}
	defer rows.Close()

	var out []Book
	for rows.Next() {
		var b Book
		var urls string
		if err := rows.Scan(&b.ID, &b.Title, &b.Author, &b.Description, &b.Category, &urls, &b.Available, &b.CreatedAt); err != nil {
			return nil, readErr(collBooks, "query", err)
		}
		if b.ImageURLs, err = decodeURLs(urls); err != nil {
			return nil, readErr(collBooks, "query", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, readErr(collBooks, "query", err)
	}
	return out, nil
}

func (s *SQLStore) InsertBook(ctx context.Context, b Book) (int64, error) {
	urls, err := encodeURLs(b.ImageURLs)
	if err != nil {
		return 0, writeErr(collBooks, "insert", err)
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	const q = `
	INSERT INTO books (title, author, description, category, image_urls, available, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`
	args := []any{b.Title, b.Author, b.Description, b.Category, urls, b.Available, b.CreatedAt}

	if s.dialect.Returning() {
		var id int64
		if err := s.q.QueryRowContext(ctx, s.dialect.Rebind(q+` RETURNING id`), args...).Scan(&id); err != nil {
			return 0, writeErr(collBooks, "insert", classify(err))
		}
		return id, nil
	}

	res, err := s.exec(ctx, q, args...)
	if err != nil {
		return 0, writeErr(collBooks, "insert", classify(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, writeErr(collBooks, "insert", err)
	}
	return id, nil
}

func (s *SQLStore) UpdateBook(ctx context.Context, id int64, p BookPatch) error {
	if p.empty() {
		return nil
	}
	sets := []string{}
	args := []any{}
	if p.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *p.Title)
	}
	if p.Author != nil {
		sets = append(sets, "author = ?")
		args = append(args, *p.Author)
	}
	if p.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *p.Description)
	}
	if p.Category != nil {
		sets = append(sets, "category = ?")
		args = append(args, *p.Category)
	}
	if p.ImageURLs != nil {
		urls, err := encodeURLs(*p.ImageURLs)
		if err != nil {
			return writeErr(collBooks, "update", err)
		}
		sets = append(sets, "image_urls = ?")
		args = append(args, urls)
	}
	if p.Available != nil {
		sets = append(sets, "available = ?")
		args = append(args, *p.Available)
	}
	args = append(args, id)

	res, err := s.exec(ctx, `UPDATE books SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return writeErr(collBooks, "update", classify(err))
	}
	if err := affectedOne(res); err != nil {
		return writeErr(collBooks, "update", err)
	}
	return nil
}

func (s *SQLStore) DeleteBook(ctx context.Context, id int64) error {
	res, err := s.exec(ctx, `DELETE FROM books WHERE id = ?`, id)
	if err != nil {
		return writeErr(collBooks, "delete", err)
	}
	if err := affectedOne(res); err != nil {
		return writeErr(collBooks, "delete", err)
	}
	return nil
}

// image_urls は JSON 配列の文字列で持つ（順序を保つ）
func encodeURLs(urls []string) (string, error) {
	if urls == nil {
		urls = []string{}
	}
	b, err := json.Marshal(urls)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeURLs(s string) ([]string, error) {
	if s == "" {
		return []string{}, nil
	}
	var urls []string
	if err := json.Unmarshal([]byte(s), &urls); err != nil {
		return nil, err
	}
	if urls == nil {
		urls = []string{}
	}
	return urls, nil
}

// ===== profiles =====

func (s *SQLStore) QueryProfiles(ctx context.Context, f ProfileFilter) ([]Profile, error) {
	sb := strings.Builder{}
	sb.WriteString(`SELECT id, name, email, role, created_at FROM profiles WHERE 1=1`)
	args := []any{}
	if f.ID != nil {
		sb.WriteString(` AND id = ?`)
		args = append(args, *f.ID)
	}
	if f.Email != nil {
		sb.WriteString(` AND email = ?`)
		args = append(args, *f.Email)
	}
	sb.WriteString(` ORDER BY name, id`)

	rows, err := s.query(ctx, sb.String(), args...)
	if err != nil {
		return nil, readErr(collProfiles, "query", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.Role, &p.CreatedAt); err != nil {
			return nil, readErr(collProfiles, "query", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, readErr(collProfiles, "query", err)
	}
	return out, nil
}

func (s *SQLStore) InsertProfile(ctx context.Context, p Profile) (string, error) {
	if p.ID == "" {
		return "", writeErr(collProfiles, "insert", errors.New("id is required"))
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	const q = `INSERT INTO profiles (id, name, email, role, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.exec(ctx, q, p.ID, p.Name, p.Email, p.Role, p.CreatedAt); err != nil {
		return "", writeErr(collProfiles, "insert", classify(err))
	}
	return p.ID, nil
}

func (s *SQLStore) UpdateProfile(ctx context.Context, id string, p ProfilePatch) error {
	if p.empty() {
		return nil
	}
	sets := []string{}
	args := []any{}
	if p.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *p.Name)
	}
	if p.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, *p.Email)
	}
	if p.Role != nil {
		sets = append(sets, "role = ?")
		args = append(args, *p.Role)
	}
	args = append(args, id)

	res, err := s.exec(ctx, `UPDATE profiles SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return writeErr(collProfiles, "update", classify(err))
	}
	if err := affectedOne(res); err != nil {
		return writeErr(collProfiles, "update", err)
	}
	return nil
}

func (s *SQLStore) DeleteProfile(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return writeErr(collProfiles, "delete", err)
	}
	if err := affectedOne(res); err != nil {
		return writeErr(collProfiles, "delete", err)
	}
	return nil
}

// ===== loans =====

func (s *SQLStore) QueryLoans(ctx context.Context, f LoanFilter) ([]LoanRow, error) {
	sb := strings.Builder{}
	sb.WriteString(`
	SELECT
		l.id, l.book_id, l.user_id, l.loan_date, l.return_date, l.created_at,
		b.title, p.name
	FROM loans l
	LEFT JOIN books b ON b.id = l.book_id
	LEFT JOIN profiles p ON p.id = l.user_id
	WHERE 1=1`)
	args := []any{}
	if f.ID != nil {
		sb.WriteString(` AND l.id = ?`)
		args = append(args, *f.ID)
	}
	if f.BookID != nil {
		sb.WriteString(` AND l.book_id = ?`)
		args = append(args, *f.BookID)
	}
	if f.UserID != nil {
		sb.WriteString(` AND l.user_id = ?`)
		args = append(args, *f.UserID)
	}
	if f.Open != nil {
		if *f.Open {
			sb.WriteString(` AND l.return_date IS NULL`)
		} else {
			sb.WriteString(` AND l.return_date IS NOT NULL`)
		}
	}
	sb.WriteString(` ORDER BY l.loan_date DESC, l.id DESC`)

	rows, err := s.query(ctx, sb.String(), args...)
	if err != nil {
		return nil, readErr(collLoans, "query", err)
	}
	defer rows.Close()

	var out []LoanRow
	for rows.Next() {
		var r LoanRow
		var ret sql.NullTime
		var title, name sql.NullString
		if err := rows.Scan(&r.ID, &r.BookID, &r.UserID, &r.LoanDate, &ret, &r.CreatedAt, &title, &name); err != nil {
			return nil, readErr(collLoans, "query", err)
		}
		if ret.Valid {
			t := ret.Time
			r.ReturnDate = &t
		}
		// JOIN 先の正規化はここだけで行う
		if title.Valid {
			r.Book = &BookSummary{Title: title.String}
		}
		if name.Valid {
			r.User = &UserSummary{Name: name.String}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, readErr(collLoans, "query", err)
	}
	return out, nil
}

func (s *SQLStore) InsertLoan(ctx context.Context, l Loan) (string, error) {
	if l.ID == "" {
		l.ID = ulid.Make().String()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	const q = `
	INSERT INTO loans (id, book_id, user_id, loan_date, return_date, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`
	var ret any
	if l.ReturnDate != nil {
		ret = *l.ReturnDate
	}
	if _, err := s.exec(ctx, q, l.ID, l.BookID, l.UserID, l.LoanDate, ret, l.CreatedAt); err != nil {
		return "", writeErr(collLoans, "insert", classify(err))
	}
	return l.ID, nil
}

func (s *SQLStore) UpdateLoan(ctx context.Context, id string, p LoanPatch) error {
	if p.empty() {
		return nil
	}
	var ret any
	if !p.ClearReturnDate {
		ret = *p.ReturnDate
	}
	res, err := s.exec(ctx, `UPDATE loans SET return_date = ? WHERE id = ?`, ret, id)
	if err != nil {
		return writeErr(collLoans, "update", err)
	}
	if err := affectedOne(res); err != nil {
		return writeErr(collLoans, "update", err)
	}
	return nil
}

func (s *SQLStore) DeleteLoan(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM loans WHERE id = ?`, id)
	if err != nil {
		return writeErr(collLoans, "delete", err)
	}
	if err := affectedOne(res); err != nil {
		return writeErr(collLoans, "delete", err)
	}
	return nil
}
