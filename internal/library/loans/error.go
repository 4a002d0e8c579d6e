package loans

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT" // 貸出中・返却済み
	CodeForbidden       Code = "FORBIDDEN"
	CodeInternal        Code = "INTERNAL"
)

// Reason は呼び出し側が分岐に使う安定した失敗理由
type Reason string

const (
	ReasonInvalidSelection Reason = "invalid-selection"
	ReasonBookUnavailable  Reason = "book-unavailable"
	ReasonNotFound         Reason = "not-found"
	ReasonAlreadyReturned  Reason = "already-returned"
	ReasonReadFailed       Reason = "read-failed"
	ReasonWriteFailed      Reason = "write-failed"
	// 2段目の書き込みも補償も失敗し、貸出と書籍の状態が食い違ったまま
	ReasonPartialWrite Reason = "partial-write"
)

type APIError struct {
	Code    Code
	Reason  Reason
	Message string
	Err     error // 下位のエラー（gateway の *OpError など）
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

func errInvalidSelection(msg string) *APIError {
	return &APIError{Code: CodeInvalidArgument, Reason: ReasonInvalidSelection, Message: msg}
}

func errBookUnavailable(msg string) *APIError {
	return &APIError{Code: CodeConflict, Reason: ReasonBookUnavailable, Message: msg}
}

func errNotFound(msg string) *APIError {
	return &APIError{Code: CodeNotFound, Reason: ReasonNotFound, Message: msg}
}

func errAlreadyReturned(msg string) *APIError {
	return &APIError{Code: CodeConflict, Reason: ReasonAlreadyReturned, Message: msg}
}

func errReadFailed(err error) *APIError {
	return &APIError{Code: CodeInternal, Reason: ReasonReadFailed, Message: "store read failed", Err: err}
}

func errWriteFailed(err error) *APIError {
	return &APIError{Code: CodeInternal, Reason: ReasonWriteFailed, Message: "store write failed", Err: err}
}

func errPartialWrite(cause, undo error) *APIError {
	return &APIError{
		Code:    CodeInternal,
		Reason:  ReasonPartialWrite,
		Message: "loan and book are out of sync; run reconcile",
		Err:     errors.Join(cause, undo),
	}
}

// asAPIError: APIError 以外（Tx の commit 失敗など）は write-failed 扱い
func asAPIError(err error) *APIError {
	var api *APIError
	if errors.As(err, &api) {
		return api
	}
	return errWriteFailed(err)
}

// ReasonOf はエラーの失敗理由。loans 由来でなければ空
func ReasonOf(err error) Reason {
	var api *APIError
	if errors.As(err, &api) {
		return api.Reason
	}
	return ""
}

func ToHTTPStatus(err error) int {
	var api *APIError
	if errors.As(err, &api) {
		switch api.Code {
		case CodeInvalidArgument:
			return 400
		case CodeNotFound:
			return 404
		case CodeConflict:
			return 409
		case CodeForbidden:
			return 403
		default:
			return 500
		}
	}
	return 500
}
