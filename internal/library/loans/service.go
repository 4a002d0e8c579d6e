package loans

import (
	"context"
	"crypto/rand"
	"errors"
	"iter"
	"log"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/cases"

	"LIBRIS-backend/internal/platform/gateway"
	"LIBRIS-backend/internal/platform/metrics"
)

// -------------- Clock & ID --------------

type Clock interface{ Now() time.Time }
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type IDGen interface{ New() (string, error) }
type ulidGen struct{}

func (ulidGen) New() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), ulid.Monotonic(rand.Reader, 0))
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// -------------- Service --------------

const (
	opCreate    = "create"
	opReturn    = "return"
	opGet       = "get"
	opList      = "list"
	opAvailable = "available"
	opReconcile = "reconcile"
)

// Service は貸出と書籍の貸出可否を揃えて更新する。
// 書籍の available は未返却の貸出から決まる値で、ここ以外からは書き換えない。
type Service struct {
	gw    gateway.Gateway
	clock Clock
	id    IDGen
}

func NewService(gw gateway.Gateway) *Service {
	return &Service{gw: gw, clock: realClock{}, id: ulidGen{}}
}

// run: Transactor なら fn 全体を1トランザクションで、そうでなければ順に実行する。
// tx=false のときは2段目の失敗を fn 自身が補償する
func (s *Service) run(ctx context.Context, fn func(ctx context.Context, gw gateway.Gateway, tx bool) error) error {
	if t, ok := s.gw.(gateway.Transactor); ok {
		return t.RunInTx(ctx, func(ctx context.Context, gw gateway.Gateway) error {
			return fn(ctx, gw, true)
		})
	}
	return fn(ctx, s.gw, false)
}

// compensate は1段目を取り消す。取り消しにも失敗したら partial-write
func (s *Service) compensate(ctx context.Context, op string, cause error, undo func(ctx context.Context) error) error {
	// リクエストが切れても取り消しは走らせる
	ctx = context.WithoutCancel(ctx)
	if uerr := undo(ctx); uerr != nil {
		metrics.Compensations.WithLabelValues(op, "failed").Inc()
		log.Printf("[WARN] loans.%s: partial write, compensation failed: cause=%v undo=%v", op, cause, uerr)
		return errPartialWrite(cause, uerr)
	}
	metrics.Compensations.WithLabelValues(op, "ok").Inc()
	log.Printf("[WARN] loans.%s: second write failed, first write undone: %v", op, cause)
	return errWriteFailed(cause)
}

func (s *Service) fail(op string, err error) error {
	api := asAPIError(err)
	metrics.LoanFailures.WithLabelValues(op, string(api.Reason)).Inc()
	switch api.Reason {
	case ReasonReadFailed, ReasonWriteFailed:
		log.Printf("[ERROR] loans.%s: %v", op, api)
	}
	return api
}

// CreateLoan は書籍が貸出可能なら貸出を作り、書籍を貸出不可にする
func (s *Service) CreateLoan(ctx context.Context, bookID int64, userID string) (*LoanView, error) {
	userID = strings.TrimSpace(userID)
	if bookID <= 0 || userID == "" {
		return nil, s.fail(opCreate, errInvalidSelection("book_id and user_id are required"))
	}

	id, err := s.id.New()
	if err != nil {
		return nil, s.fail(opCreate, errWriteFailed(err))
	}
	now := s.clock.Now()
	loan := gateway.Loan{ID: id, BookID: bookID, UserID: userID, LoanDate: now, CreatedAt: now}

	var view LoanView
	err = s.run(ctx, func(ctx context.Context, gw gateway.Gateway, tx bool) error {
		book, err := loanableBook(ctx, gw, bookID)
		if err != nil {
			return err
		}
		user, err := findProfile(ctx, gw, userID)
		if err != nil {
			return err
		}

		if _, err := gw.InsertLoan(ctx, loan); err != nil {
			return errWriteFailed(err)
		}
		unavailable := false
		if err := gw.UpdateBook(ctx, bookID, gateway.BookPatch{Available: &unavailable}); err != nil {
			if tx {
				return errWriteFailed(err)
			}
			return s.compensate(ctx, opCreate, err, func(ctx context.Context) error {
				return gw.DeleteLoan(ctx, loan.ID)
			})
		}

		view = toLoanView(gateway.LoanRow{
			Loan: loan,
			Book: &gateway.BookSummary{Title: book.Title},
			User: &gateway.UserSummary{Name: user.Name},
		})
		return nil
	})
	if err != nil {
		return nil, s.fail(opCreate, err)
	}
	metrics.LoansCreated.Inc()
	return &view, nil
}

// loanableBook は最新の書籍行を読み（Tx 内ならロック）、貸出中でないことを確認する
func loanableBook(ctx context.Context, gw gateway.Gateway, bookID int64) (*gateway.Book, error) {
	books, err := gw.QueryBooks(ctx, gateway.BookFilter{ID: &bookID, Lock: true})
	if err != nil {
		return nil, errReadFailed(err)
	}
	if len(books) == 0 {
		return nil, errInvalidSelection("book not found")
	}
	if !books[0].Available {
		return nil, errBookUnavailable("book is on loan")
	}
	open := true
	rows, err := gw.QueryLoans(ctx, gateway.LoanFilter{BookID: &bookID, Open: &open})
	if err != nil {
		return nil, errReadFailed(err)
	}
	if len(rows) > 0 {
		return nil, errBookUnavailable("book has an open loan")
	}
	return &books[0], nil
}

func findProfile(ctx context.Context, gw gateway.Gateway, userID string) (*gateway.Profile, error) {
	rows, err := gw.QueryProfiles(ctx, gateway.ProfileFilter{ID: &userID})
	if err != nil {
		return nil, errReadFailed(err)
	}
	if len(rows) == 0 {
		return nil, errInvalidSelection("user not found")
	}
	return &rows[0], nil
}

// ReturnLoan は返却日を入れ、書籍を貸出可能に戻す
func (s *Service) ReturnLoan(ctx context.Context, loanID string) (*LoanView, error) {
	loanID = strings.TrimSpace(loanID)
	if loanID == "" {
		return nil, s.fail(opReturn, errNotFound("loan not found"))
	}

	var view LoanView
	err := s.run(ctx, func(ctx context.Context, gw gateway.Gateway, tx bool) error {
		rows, err := gw.QueryLoans(ctx, gateway.LoanFilter{ID: &loanID})
		if err != nil {
			return errReadFailed(err)
		}
		if len(rows) == 0 {
			return errNotFound("loan not found")
		}
		row := rows[0]
		if row.IsReturned() {
			return errAlreadyReturned("loan is already returned")
		}
		// 同じ書籍への貸出登録と直列化する
		if _, err := gw.QueryBooks(ctx, gateway.BookFilter{ID: &row.BookID, Lock: true}); err != nil {
			return errReadFailed(err)
		}

		now := s.clock.Now()
		if err := gw.UpdateLoan(ctx, loanID, gateway.LoanPatch{ReturnDate: &now}); err != nil {
			return errWriteFailed(err)
		}
		available := true
		if err := gw.UpdateBook(ctx, row.BookID, gateway.BookPatch{Available: &available}); err != nil {
			switch {
			case errors.Is(err, gateway.ErrNotFound):
				// 書籍が削除済みなら戻す先がない
				log.Printf("[WARN] loans.return: book %d no longer exists (loan %s)", row.BookID, loanID)
			case tx:
				return errWriteFailed(err)
			default:
				return s.compensate(ctx, opReturn, err, func(ctx context.Context) error {
					return gw.UpdateLoan(ctx, loanID, gateway.LoanPatch{ClearReturnDate: true})
				})
			}
		}

		row.ReturnDate = &now
		view = toLoanView(row)
		return nil
	})
	if err != nil {
		return nil, s.fail(opReturn, err)
	}
	metrics.LoansReturned.Inc()
	return &view, nil
}

func (s *Service) GetLoan(ctx context.Context, loanID string) (*LoanView, error) {
	rows, err := s.gw.QueryLoans(ctx, gateway.LoanFilter{ID: &loanID})
	if err != nil {
		return nil, s.fail(opGet, errReadFailed(err))
	}
	if len(rows) == 0 {
		return nil, errNotFound("loan not found")
	}
	v := toLoanView(rows[0])
	return &v, nil
}

// ListLoans は貸出日の降順で貸出を返す遅延シーケンス。
// range するたびに最新の状態を読み直す。読み取り失敗は1回だけ err 付きで yield される
func (s *Service) ListLoans(ctx context.Context, f ListFilter) iter.Seq2[LoanView, error] {
	lf := gateway.LoanFilter{}
	if f.UserID != "" {
		uid := f.UserID
		lf.UserID = &uid
	}
	switch f.Status {
	case StatusOpen:
		open := true
		lf.Open = &open
	case StatusReturned:
		open := false
		lf.Open = &open
	}

	return func(yield func(LoanView, error) bool) {
		rows, err := s.gw.QueryLoans(ctx, lf)
		if err != nil {
			yield(LoanView{}, s.fail(opList, errReadFailed(err)))
			return
		}
		m := newMatcher(f.Query)
		for _, r := range rows {
			if !m.match(r) {
				continue
			}
			if !yield(toLoanView(r), nil) {
				return
			}
		}
	}
}

// CollectLoans は ListLoans を1回走らせてスライスにする
func (s *Service) CollectLoans(ctx context.Context, f ListFilter) ([]LoanView, error) {
	out := []LoanView{}
	for v, err := range s.ListLoans(ctx, f) {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// matcher: Unicode の case folding で比較する部分一致。Caser は状態を持つので検索ごとに作る
type matcher struct {
	caser cases.Caser
	q     string
}

func newMatcher(q string) *matcher {
	q = strings.TrimSpace(q)
	if q == "" {
		return &matcher{}
	}
	c := cases.Fold()
	return &matcher{caser: c, q: c.String(q)}
}

func (m *matcher) match(r gateway.LoanRow) bool {
	if m.q == "" {
		return true
	}
	if r.Book != nil && strings.Contains(m.caser.String(r.Book.Title), m.q) {
		return true
	}
	return r.User != nil && strings.Contains(m.caser.String(r.User.Name), m.q)
}

// ListAvailableBooks は貸出可能フラグが立っていて、未返却の貸出も無い書籍
func (s *Service) ListAvailableBooks(ctx context.Context) ([]BookView, error) {
	available := true
	books, err := s.gw.QueryBooks(ctx, gateway.BookFilter{Available: &available})
	if err != nil {
		return nil, s.fail(opAvailable, errReadFailed(err))
	}
	onLoan, err := s.openLoanBooks(ctx)
	if err != nil {
		return nil, s.fail(opAvailable, err)
	}

	out := make([]BookView, 0, len(books))
	for _, b := range books {
		if onLoan[b.ID] {
			continue
		}
		out = append(out, toBookView(b))
	}
	return out, nil
}

func (s *Service) openLoanBooks(ctx context.Context) (map[int64]bool, error) {
	open := true
	rows, err := s.gw.QueryLoans(ctx, gateway.LoanFilter{Open: &open})
	if err != nil {
		return nil, errReadFailed(err)
	}
	m := make(map[int64]bool, len(rows))
	for _, r := range rows {
		m[r.BookID] = true
	}
	return m, nil
}

// Reconcile は全書籍の available を未返却の貸出から計算し直し、食い違っていた行を直す。
// スナップショットで食い違いを見つけたら、その書籍だけ（Tx ならロックして）読み直してから書く
func (s *Service) Reconcile(ctx context.Context) ([]BookFix, error) {
	books, err := s.gw.QueryBooks(ctx, gateway.BookFilter{})
	if err != nil {
		return nil, s.fail(opReconcile, errReadFailed(err))
	}
	onLoan, err := s.openLoanBooks(ctx)
	if err != nil {
		return nil, s.fail(opReconcile, err)
	}

	fixes := []BookFix{}
	for _, b := range books {
		if b.Available == !onLoan[b.ID] {
			continue
		}
		fix, err := s.reconcileBook(ctx, b.ID)
		if err != nil {
			return fixes, s.fail(opReconcile, err)
		}
		if fix == nil {
			continue
		}
		metrics.ReconcileFixes.Inc()
		log.Printf("[WARN] loans.reconcile: book %d available %t -> %t", fix.BookID, fix.Was, fix.Now)
		fixes = append(fixes, *fix)
	}
	return fixes, nil
}

// reconcileBook: 最新の書籍行と未返却の貸出で判定し直す。直す必要が無ければ nil
func (s *Service) reconcileBook(ctx context.Context, bookID int64) (*BookFix, error) {
	var fix *BookFix
	err := s.run(ctx, func(ctx context.Context, gw gateway.Gateway, _ bool) error {
		rows, err := gw.QueryBooks(ctx, gateway.BookFilter{ID: &bookID, Lock: true})
		if err != nil {
			return errReadFailed(err)
		}
		if len(rows) == 0 {
			return nil // 削除済み
		}
		open := true
		loans, err := gw.QueryLoans(ctx, gateway.LoanFilter{BookID: &bookID, Open: &open})
		if err != nil {
			return errReadFailed(err)
		}
		b := rows[0]
		want := len(loans) == 0
		if b.Available == want {
			return nil
		}
		if err := gw.UpdateBook(ctx, bookID, gateway.BookPatch{Available: &want}); err != nil {
			if errors.Is(err, gateway.ErrNotFound) {
				return nil
			}
			return errWriteFailed(err)
		}
		fix = &BookFix{BookID: b.ID, Title: b.Title, Was: b.Available, Now: want}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fix, nil
}
