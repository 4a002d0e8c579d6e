package auth

import (
	"errors"
	"net/http"
)

type Code string

const (
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeEmailTaken         Code = "EMAIL_TAKEN"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeNotFound           Code = "NOT_FOUND"
	CodeUnknown            Code = "UNKNOWN"
)

type errorDTO struct {
	Error struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorBody(code Code, msg string) errorDTO {
	var e errorDTO
	e.Error.Code = code
	e.Error.Message = msg
	return e
}

// toHTTP はサービスのエラーをステータスとボディに変換する。
// unknown の詳細（DB のメッセージ）は外に出さない
func toHTTP(err error) (int, errorDTO) {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized, errorBody(CodeInvalidCredentials, "invalid email or password")
	case errors.Is(err, ErrEmailTaken):
		return http.StatusConflict, errorBody(CodeEmailTaken, "email already registered")
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest, errorBody(CodeInvalidArgument, err.Error())
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, errorBody(CodeNotFound, "not found")
	default:
		return http.StatusInternalServerError, errorBody(CodeUnknown, "internal error")
	}
}
