package loans

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"LIBRIS-backend/internal/platform/auth"
)

type Handler struct{ svc *Service }

// RegisterRoutes: r は RequireAuth 済みのグループ
func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	admin := auth.RequireRole(auth.RoleAdmin)

	// 貸出・返却
	r.POST("/loans", h.CreateLoan)
	r.POST("/loans/:id/return", admin, h.ReturnLoan)

	// 一覧・詳細
	r.GET("/loans", admin, h.ListLoans)
	r.GET("/loans/:id", h.GetLoan)
	r.GET("/me/loans", h.MyLoans)

	r.GET("/books/available", h.ListAvailableBooks)
	r.POST("/admin/reconcile", admin, h.Reconcile)
}

// ---------- handlers ----------

// POST /loans
func (h *Handler) CreateLoan(c *gin.Context) {
	var req CreateLoanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, ReasonInvalidSelection, "book_id is required"))
		return
	}

	// 一般ユーザーは自分の貸出だけ作れる
	if !auth.IsAdmin(c) {
		me := auth.UserID(c)
		if req.UserID != "" && req.UserID != me {
			c.JSON(http.StatusForbidden, errorBody(CodeForbidden, "", "users can only borrow for themselves"))
			return
		}
		req.UserID = me
	}

	res, err := h.svc.CreateLoan(c.Request.Context(), req.BookID, req.UserID)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.Header("Location", "/api/v1/loans/"+res.ID)
	c.JSON(http.StatusCreated, res)
}

// POST /loans/:id/return
func (h *Handler) ReturnLoan(c *gin.Context) {
	res, err := h.svc.ReturnLoan(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /loans?q=&status=&user_id=
func (h *Handler) ListLoans(c *gin.Context) {
	f, ok := parseFilter(c)
	if !ok {
		return
	}
	f.UserID = c.Query("user_id")
	h.list(c, f)
}

// GET /me/loans?q=&status=
func (h *Handler) MyLoans(c *gin.Context) {
	f, ok := parseFilter(c)
	if !ok {
		return
	}
	f.UserID = auth.UserID(c)
	h.list(c, f)
}

func (h *Handler) list(c *gin.Context, f ListFilter) {
	items, err := h.svc.CollectLoans(c.Request.Context(), f)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, ListResponse[LoanView]{Items: items, Total: len(items)})
}

func parseFilter(c *gin.Context) (ListFilter, bool) {
	f := ListFilter{Query: c.Query("q")}
	switch st := Status(c.Query("status")); st {
	case StatusAll, StatusOpen, StatusReturned:
		f.Status = st
	default:
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "", "status must be open or returned"))
		return f, false
	}
	return f, true
}

// GET /loans/:id（管理者か借りた本人）
func (h *Handler) GetLoan(c *gin.Context) {
	res, err := h.svc.GetLoan(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	if !auth.IsAdmin(c) && res.UserID != auth.UserID(c) {
		// 他人の貸出は存在を見せない
		c.JSON(http.StatusNotFound, errorBody(CodeNotFound, ReasonNotFound, "loan not found"))
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /books/available
func (h *Handler) ListAvailableBooks(c *gin.Context) {
	items, err := h.svc.ListAvailableBooks(c.Request.Context())
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, ListResponse[BookView]{Items: items, Total: len(items)})
}

// POST /admin/reconcile
func (h *Handler) Reconcile(c *gin.Context) {
	fixed, err := h.svc.Reconcile(c.Request.Context())
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, ReconcileResponse{Fixed: fixed})
}

// ---------- helpers ----------

type errorDTO struct {
	Error struct {
		Code    Code   `json:"code"`
		Reason  Reason `json:"reason,omitempty"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorBody(code Code, reason Reason, msg string) errorDTO {
	var e errorDTO
	e.Error.Code = code
	e.Error.Reason = reason
	e.Error.Message = msg
	return e
}

// 下位のドライバメッセージはログにだけ出し、レスポンスには載せない
func errorFromErr(err error) errorDTO {
	var api *APIError
	if errors.As(err, &api) {
		return errorBody(api.Code, api.Reason, api.Message)
	}
	return errorBody(CodeInternal, "", "internal error")
}
