package loans

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LIBRIS-backend/internal/platform/gateway"
	"LIBRIS-backend/internal/platform/gateway/gatewaytest"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

var day0 = time.Date(2025, 4, 7, 10, 0, 0, 0, time.UTC)

type world struct {
	gw     gateway.Gateway
	svc    *Service
	clock  *fixedClock
	b1, b2 int64
	u1, u2 string
	openL2 string
}

// seed: B1（貸出可）、B2（貸出中で未返却の L2 あり）、U1、U2
func seed(t *testing.T, gw gateway.Gateway) *world {
	t.Helper()
	ctx := context.Background()
	w := &world{gw: gw, u1: "U1", u2: "U2", openL2: "L2"}

	var err error
	w.b1, err = gw.InsertBook(ctx, gateway.Book{Title: "Conociendo a Dios", Author: "J.I. Packer", Category: "Teología", Available: true})
	require.NoError(t, err)
	w.b2, err = gw.InsertBook(ctx, gateway.Book{Title: "Desiring God", Author: "John Piper", Category: "Vida Cristiana", Available: false})
	require.NoError(t, err)
	_, err = gw.InsertProfile(ctx, gateway.Profile{ID: w.u1, Name: "María García", Email: "maria@example.com", Role: "user"})
	require.NoError(t, err)
	_, err = gw.InsertProfile(ctx, gateway.Profile{ID: w.u2, Name: "Juan Pérez", Email: "juan@example.com", Role: "user"})
	require.NoError(t, err)
	_, err = gw.InsertLoan(ctx, gateway.Loan{ID: w.openL2, BookID: w.b2, UserID: w.u2, LoanDate: day0.Add(-72 * time.Hour)})
	require.NoError(t, err)

	w.clock = &fixedClock{t: day0}
	w.svc = NewService(gw)
	w.svc.clock = w.clock
	return w
}

func eachStore(t *testing.T, fn func(t *testing.T, w *world)) {
	t.Run("sqlite-tx", func(t *testing.T) {
		s, _ := gatewaytest.NewSQLite(t)
		fn(t, seed(t, s))
	})
	t.Run("memory-saga", func(t *testing.T) {
		fn(t, seed(t, gateway.NewMemoryStore()))
	})
}

func book(t *testing.T, gw gateway.Gateway, id int64) gateway.Book {
	t.Helper()
	rows, err := gw.QueryBooks(context.Background(), gateway.BookFilter{ID: &id})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0]
}

func allLoans(t *testing.T, gw gateway.Gateway) []gateway.LoanRow {
	t.Helper()
	rows, err := gw.QueryLoans(context.Background(), gateway.LoanFilter{})
	require.NoError(t, err)
	return rows
}

// 全書籍について available == 未返却の貸出が無い
func assertAvailabilityConsistent(t *testing.T, gw gateway.Gateway) {
	t.Helper()
	books, err := gw.QueryBooks(context.Background(), gateway.BookFilter{})
	require.NoError(t, err)
	for _, b := range books {
		id := b.ID
		open := true
		rows, err := gw.QueryLoans(context.Background(), gateway.LoanFilter{BookID: &id, Open: &open})
		require.NoError(t, err)
		assert.Equal(t, len(rows) == 0, b.Available, "book %d (%s)", b.ID, b.Title)
	}
}

func TestBorrowAndReturnScenario(t *testing.T) {
	eachStore(t, func(t *testing.T, w *world) {
		ctx := context.Background()

		l1, err := w.svc.CreateLoan(ctx, w.b1, w.u1)
		require.NoError(t, err)
		assert.Len(t, l1.ID, 26)
		assert.Nil(t, l1.ReturnDate)
		assert.False(t, l1.IsReturned)
		assert.Equal(t, day0, l1.LoanDate)
		require.NotNil(t, l1.Book)
		assert.Equal(t, "Conociendo a Dios", l1.Book.Title)
		require.NotNil(t, l1.User)
		assert.Equal(t, "María García", l1.User.Name)
		assert.False(t, book(t, w.gw, w.b1).Available)

		w.clock.t = day0.Add(48 * time.Hour)
		ret, err := w.svc.ReturnLoan(ctx, l1.ID)
		require.NoError(t, err)
		require.NotNil(t, ret.ReturnDate)
		assert.Equal(t, day0.Add(48*time.Hour), *ret.ReturnDate)
		assert.True(t, ret.IsReturned)
		assert.True(t, book(t, w.gw, w.b1).Available)

		got, err := w.svc.GetLoan(ctx, l1.ID)
		require.NoError(t, err)
		require.NotNil(t, got.ReturnDate)
		assert.WithinDuration(t, day0.Add(48*time.Hour), *got.ReturnDate, time.Second)

		assertAvailabilityConsistent(t, w.gw)
	})
}

func TestCreateLoanOnLoanedBookIsRejected(t *testing.T) {
	eachStore(t, func(t *testing.T, w *world) {
		before := allLoans(t, w.gw)

		_, err := w.svc.CreateLoan(context.Background(), w.b2, w.u2)
		require.Error(t, err)
		assert.Equal(t, ReasonBookUnavailable, ReasonOf(err))
		assert.Equal(t, 409, ToHTTPStatus(err))

		assert.Len(t, allLoans(t, w.gw), len(before))
		assert.False(t, book(t, w.gw, w.b2).Available)
	})
}

func TestCreateLoanChecksOpenLoansNotOnlyFlag(t *testing.T) {
	eachStore(t, func(t *testing.T, w *world) {
		ctx := context.Background()
		// フラグだけ立ってしまった状態
		yes := true
		require.NoError(t, w.gw.UpdateBook(ctx, w.b2, gateway.BookPatch{Available: &yes}))

		_, err := w.svc.CreateLoan(ctx, w.b2, w.u1)
		assert.Equal(t, ReasonBookUnavailable, ReasonOf(err))
	})
}

func TestCreateLoanInvalidSelection(t *testing.T) {
	eachStore(t, func(t *testing.T, w *world) {
		ctx := context.Background()
		cases := []struct {
			name   string
			bookID int64
			userID string
		}{
			{"no book", 0, w.u1},
			{"no user", w.b1, "  "},
			{"unknown book", 999, w.u1},
			{"unknown user", w.b1, "ghost"},
		}
		for _, c := range cases {
			_, err := w.svc.CreateLoan(ctx, c.bookID, c.userID)
			assert.Equal(t, ReasonInvalidSelection, ReasonOf(err), c.name)
			assert.Equal(t, 400, ToHTTPStatus(err), c.name)
		}
		assert.True(t, book(t, w.gw, w.b1).Available)
		assert.Len(t, allLoans(t, w.gw), 1)
	})
}

func TestReturnLoanErrors(t *testing.T) {
	eachStore(t, func(t *testing.T, w *world) {
		ctx := context.Background()

		_, err := w.svc.ReturnLoan(ctx, "missing")
		assert.Equal(t, ReasonNotFound, ReasonOf(err))
		assert.Equal(t, 404, ToHTTPStatus(err))

		_, err = w.svc.ReturnLoan(ctx, w.openL2)
		require.NoError(t, err)
		_, err = w.svc.ReturnLoan(ctx, w.openL2)
		assert.Equal(t, ReasonAlreadyReturned, ReasonOf(err))
		assert.Equal(t, 409, ToHTTPStatus(err))
	})
}

func TestRejectionsPerformNoWrites(t *testing.T) {
	w := seed(t, gateway.NewMemoryStore())
	fl := gatewaytest.NewFlaky(w.gw)
	w.svc.gw = fl
	ctx := context.Background()

	_, err := w.svc.CreateLoan(ctx, w.b2, w.u1)
	assert.Equal(t, ReasonBookUnavailable, ReasonOf(err))

	_, err = w.svc.ReturnLoan(ctx, w.openL2)
	require.NoError(t, err)
	insertsBefore, updatesBefore := fl.Calls(gatewaytest.LoansInsert), fl.Calls(gatewaytest.LoansUpdate)
	booksBefore := fl.Calls(gatewaytest.BooksUpdate)

	_, err = w.svc.ReturnLoan(ctx, w.openL2)
	assert.Equal(t, ReasonAlreadyReturned, ReasonOf(err))

	assert.Equal(t, 0, insertsBefore)
	assert.Equal(t, updatesBefore, fl.Calls(gatewaytest.LoansUpdate))
	assert.Equal(t, booksBefore, fl.Calls(gatewaytest.BooksUpdate))
}

func TestRoundTripRestoresAvailability(t *testing.T) {
	eachStore(t, func(t *testing.T, w *world) {
		ctx := context.Background()
		before := book(t, w.gw, w.b1).Available

		l, err := w.svc.CreateLoan(ctx, w.b1, w.u2)
		require.NoError(t, err)
		_, err = w.svc.ReturnLoan(ctx, l.ID)
		require.NoError(t, err)

		assert.Equal(t, before, book(t, w.gw, w.b1).Available)

		// 返却後は再び貸し出せる
		_, err = w.svc.CreateLoan(ctx, w.b1, w.u1)
		require.NoError(t, err)
	})
}

func TestReturnWhenBookWasDeleted(t *testing.T) {
	eachStore(t, func(t *testing.T, w *world) {
		ctx := context.Background()
		require.NoError(t, w.gw.DeleteBook(ctx, w.b2))

		v, err := w.svc.ReturnLoan(ctx, w.openL2)
		require.NoError(t, err)
		assert.True(t, v.IsReturned)
		assert.Nil(t, v.Book)
	})
}

// ===== 2段目の失敗 =====

func TestCreateLoanCompensatesFailedBookUpdate(t *testing.T) {
	w := seed(t, gateway.NewMemoryStore())
	fl := gatewaytest.NewFlaky(w.gw)
	w.svc.gw = fl
	fl.Fail(gatewaytest.BooksUpdate, errors.New("network down"))

	_, err := w.svc.CreateLoan(context.Background(), w.b1, w.u1)
	assert.Equal(t, ReasonWriteFailed, ReasonOf(err))
	assert.Equal(t, 1, fl.Calls(gatewaytest.LoansDelete))

	// 貸出は取り消され、書籍は貸出可のまま
	assert.Len(t, allLoans(t, w.gw), 1)
	assert.True(t, book(t, w.gw, w.b1).Available)
	assertAvailabilityConsistent(t, w.gw)
}

func TestCreateLoanInsertFailureLeavesBookAlone(t *testing.T) {
	w := seed(t, gateway.NewMemoryStore())
	fl := gatewaytest.NewFlaky(w.gw)
	w.svc.gw = fl
	fl.Fail(gatewaytest.LoansInsert, errors.New("timeout"))

	_, err := w.svc.CreateLoan(context.Background(), w.b1, w.u1)
	assert.Equal(t, ReasonWriteFailed, ReasonOf(err))
	var oe *gateway.OpError
	assert.ErrorAs(t, err, &oe)
	assert.Equal(t, 0, fl.Calls(gatewaytest.BooksUpdate))
	assert.True(t, book(t, w.gw, w.b1).Available)
}

func TestPartialWriteThenReconcile(t *testing.T) {
	w := seed(t, gateway.NewMemoryStore())
	fl := gatewaytest.NewFlaky(w.gw)
	w.svc.gw = fl
	ctx := context.Background()
	fl.Fail(gatewaytest.BooksUpdate, errors.New("network down"))
	fl.Fail(gatewaytest.LoansDelete, errors.New("network down"))

	_, err := w.svc.CreateLoan(ctx, w.b1, w.u1)
	assert.Equal(t, ReasonPartialWrite, ReasonOf(err))
	assert.Equal(t, 500, ToHTTPStatus(err))
	// 貸出は残り、書籍は貸出可のまま（食い違い）
	assert.Len(t, allLoans(t, w.gw), 2)
	assert.True(t, book(t, w.gw, w.b1).Available)

	fl.Fail(gatewaytest.BooksUpdate, nil)
	fl.Fail(gatewaytest.LoansDelete, nil)

	fixes, err := w.svc.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, fixes, 1)
	assert.Equal(t, BookFix{BookID: w.b1, Title: "Conociendo a Dios", Was: true, Now: false}, fixes[0])
	assertAvailabilityConsistent(t, w.gw)

	fixes, err = w.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, fixes)
}

func TestReturnLoanCompensatesFailedBookUpdate(t *testing.T) {
	w := seed(t, gateway.NewMemoryStore())
	fl := gatewaytest.NewFlaky(w.gw)
	w.svc.gw = fl
	fl.Fail(gatewaytest.BooksUpdate, errors.New("network down"))

	_, err := w.svc.ReturnLoan(context.Background(), w.openL2)
	assert.Equal(t, ReasonWriteFailed, ReasonOf(err))

	rows := allLoans(t, w.gw)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].IsReturned())
	assert.False(t, book(t, w.gw, w.b2).Available)
}

// flakyTx は Tx に束縛された Gateway を障害注入ラッパで包む
type flakyTx struct {
	*gateway.SQLStore
	op  gatewaytest.Op
	err error
}

func (f flakyTx) RunInTx(ctx context.Context, fn func(ctx context.Context, gw gateway.Gateway) error) error {
	return f.SQLStore.RunInTx(ctx, func(ctx context.Context, gw gateway.Gateway) error {
		fl := gatewaytest.NewFlaky(gw)
		fl.Fail(f.op, f.err)
		return fn(ctx, fl)
	})
}

func TestTransactionRollsBackFirstWrite(t *testing.T) {
	s, _ := gatewaytest.NewSQLite(t)
	w := seed(t, s)
	w.svc.gw = flakyTx{SQLStore: s, op: gatewaytest.BooksUpdate, err: errors.New("lock wait timeout")}
	ctx := context.Background()

	_, err := w.svc.CreateLoan(ctx, w.b1, w.u1)
	assert.Equal(t, ReasonWriteFailed, ReasonOf(err))
	assert.Len(t, allLoans(t, s), 1)
	assert.True(t, book(t, s, w.b1).Available)

	w.svc.gw = flakyTx{SQLStore: s, op: gatewaytest.BooksUpdate, err: errors.New("lock wait timeout")}
	_, err = w.svc.ReturnLoan(ctx, w.openL2)
	assert.Equal(t, ReasonWriteFailed, ReasonOf(err))
	rows := allLoans(t, s)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].IsReturned())
}

// ===== 一覧 =====

func TestListLoansFilterAndOrder(t *testing.T) {
	eachStore(t, func(t *testing.T, w *world) {
		ctx := context.Background()
		w.clock.t = day0
		l1, err := w.svc.CreateLoan(ctx, w.b1, w.u1)
		require.NoError(t, err)

		all, err := w.svc.CollectLoans(ctx, ListFilter{})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, l1.ID, all[0].ID)
		assert.Equal(t, w.openL2, all[1].ID)

		cases := map[string][]string{
			"DIOS":   {l1.ID},
			"pérez":  {w.openL2},
			"PÉREZ":  {w.openL2},
			"god":    {w.openL2},
			"garcía": {l1.ID},
			"   ":    {l1.ID, w.openL2},
			"zzz":    {},
		}
		for q, want := range cases {
			got, err := w.svc.CollectLoans(ctx, ListFilter{Query: q})
			require.NoError(t, err)
			ids := []string{}
			for _, v := range got {
				ids = append(ids, v.ID)
			}
			assert.Equal(t, want, ids, "q=%q", q)
		}
	})
}

func TestListLoansStatusAndUser(t *testing.T) {
	eachStore(t, func(t *testing.T, w *world) {
		ctx := context.Background()
		l1, err := w.svc.CreateLoan(ctx, w.b1, w.u1)
		require.NoError(t, err)
		w.clock.t = day0.Add(time.Hour)
		_, err = w.svc.ReturnLoan(ctx, l1.ID)
		require.NoError(t, err)

		open, err := w.svc.CollectLoans(ctx, ListFilter{Status: StatusOpen})
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, w.openL2, open[0].ID)

		returned, err := w.svc.CollectLoans(ctx, ListFilter{Status: StatusReturned})
		require.NoError(t, err)
		require.Len(t, returned, 1)
		assert.Equal(t, l1.ID, returned[0].ID)

		mine, err := w.svc.CollectLoans(ctx, ListFilter{UserID: w.u1})
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, w.u1, mine[0].UserID)
	})
}

func TestListLoansIsLazyAndRestartable(t *testing.T) {
	w := seed(t, gateway.NewMemoryStore())
	fl := gatewaytest.NewFlaky(w.gw)
	w.svc.gw = fl
	ctx := context.Background()

	seq := w.svc.ListLoans(ctx, ListFilter{})
	assert.Equal(t, 0, fl.Calls(gatewaytest.LoansQuery))

	count := func() int {
		n := 0
		for _, err := range seq {
			require.NoError(t, err)
			n++
		}
		return n
	}
	assert.Equal(t, 1, count())

	_, err := w.svc.CreateLoan(ctx, w.b1, w.u1)
	require.NoError(t, err)
	// 同じシーケンスをもう一度回すと最新状態を読む
	assert.Equal(t, 2, count())

	// 途中で抜けられる
	for range seq {
		break
	}

	fl.Fail(gatewaytest.LoansQuery, errors.New("read timeout"))
	var errs []error
	for _, err := range seq {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.Equal(t, ReasonReadFailed, ReasonOf(errs[0]))
}

func TestListAvailableBooks(t *testing.T) {
	eachStore(t, func(t *testing.T, w *world) {
		ctx := context.Background()
		b3, err := w.gw.InsertBook(ctx, gateway.Book{Title: "Mere Christianity", Author: "C.S. Lewis", Category: "Apologética", Available: true})
		require.NoError(t, err)
		// フラグは立っているが未返却の貸出がある
		_, err = w.gw.InsertLoan(ctx, gateway.Loan{BookID: b3, UserID: w.u1, LoanDate: day0})
		require.NoError(t, err)

		books, err := w.svc.ListAvailableBooks(ctx)
		require.NoError(t, err)
		require.Len(t, books, 1)
		assert.Equal(t, w.b1, books[0].ID)
		assert.NotNil(t, books[0].ImageURLs)

		_, err = w.svc.CreateLoan(ctx, w.b1, w.u2)
		require.NoError(t, err)
		books, err = w.svc.ListAvailableBooks(ctx)
		require.NoError(t, err)
		assert.Empty(t, books)
	})
}

func TestReconcileRestoresFlags(t *testing.T) {
	eachStore(t, func(t *testing.T, w *world) {
		ctx := context.Background()
		no := false
		require.NoError(t, w.gw.UpdateBook(ctx, w.b1, gateway.BookPatch{Available: &no}))

		fixes, err := w.svc.Reconcile(ctx)
		require.NoError(t, err)
		require.Len(t, fixes, 1)
		assert.Equal(t, w.b1, fixes[0].BookID)
		assert.True(t, fixes[0].Now)
		assertAvailabilityConsistent(t, w.gw)
	})
}

// returnAfterSnapshot は未返却一覧の全件読み出しの直後に、別の利用者が返却を済ませた状態を作る
type returnAfterSnapshot struct {
	*gateway.SQLStore
	loanID string
	bookID int64
	at     time.Time
	done   bool
}

func (r *returnAfterSnapshot) QueryLoans(ctx context.Context, f gateway.LoanFilter) ([]gateway.LoanRow, error) {
	rows, err := r.SQLStore.QueryLoans(ctx, f)
	if err != nil || r.done || f.BookID != nil || f.ID != nil || f.Open == nil || !*f.Open {
		return rows, err
	}
	r.done = true
	if err := r.SQLStore.UpdateLoan(ctx, r.loanID, gateway.LoanPatch{ReturnDate: &r.at}); err != nil {
		return nil, err
	}
	yes := true
	if err := r.SQLStore.UpdateBook(ctx, r.bookID, gateway.BookPatch{Available: &yes}); err != nil {
		return nil, err
	}
	return rows, nil
}

func TestReconcileDoesNotOverwriteConcurrentReturn(t *testing.T) {
	s, _ := gatewaytest.NewSQLite(t)
	w := seed(t, s)
	ctx := context.Background()
	// B2 は未返却の L2 があるのに貸出可になっている（食い違い）
	yes := true
	require.NoError(t, s.UpdateBook(ctx, w.b2, gateway.BookPatch{Available: &yes}))

	w.svc.gw = &returnAfterSnapshot{SQLStore: s, loanID: w.openL2, bookID: w.b2, at: day0}
	fixes, err := w.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, fixes)

	// 返却後の正しい状態が残る
	assert.True(t, book(t, s, w.b2).Available)
	assertAvailabilityConsistent(t, s)
}

func TestAvailabilityInvariantAcrossOperations(t *testing.T) {
	eachStore(t, func(t *testing.T, w *world) {
		ctx := context.Background()
		var ids []string
		for i := 0; i < 3; i++ {
			w.clock.t = day0.Add(time.Duration(i) * time.Hour)
			l, err := w.svc.CreateLoan(ctx, w.b1, w.u1)
			require.NoError(t, err)
			ids = append(ids, l.ID)
			assertAvailabilityConsistent(t, w.gw)

			_, err = w.svc.CreateLoan(ctx, w.b1, w.u2)
			assert.Equal(t, ReasonBookUnavailable, ReasonOf(err))

			_, err = w.svc.ReturnLoan(ctx, l.ID)
			require.NoError(t, err)
			assertAvailabilityConsistent(t, w.gw)
		}
		_, err := w.svc.ReturnLoan(ctx, w.openL2)
		require.NoError(t, err)
		assertAvailabilityConsistent(t, w.gw)

		all, err := w.svc.CollectLoans(ctx, ListFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 4)
		assert.Equal(t, ids[2], all[0].ID)
	})
}
