// Package docs は /swagger で配信する API ドキュメント。
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "Bearer": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "paths": {
        "/auth/sign-in": {
            "post": {
                "tags": ["auth"],
                "summary": "Sign in with email and password",
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/SignInRequest"}}],
                "responses": {
                    "200": {"description": "session", "schema": {"$ref": "#/definitions/Session"}},
                    "401": {"description": "invalid-credentials", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/auth/sign-up": {
            "post": {
                "tags": ["auth"],
                "summary": "Create an account and its profile",
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/SignUpRequest"}}],
                "responses": {
                    "201": {"description": "identity", "schema": {"$ref": "#/definitions/Identity"}},
                    "409": {"description": "email-taken", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/me": {
            "get": {
                "tags": ["auth"],
                "security": [{"Bearer": []}],
                "summary": "Current session and profile",
                "responses": {"200": {"description": "me"}}
            }
        },
        "/loans": {
            "get": {
                "tags": ["loans"],
                "security": [{"Bearer": []}],
                "summary": "List loans, newest first (admin)",
                "parameters": [
                    {"in": "query", "name": "q", "type": "string", "description": "case-insensitive match on book title or user name"},
                    {"in": "query", "name": "status", "type": "string", "enum": ["open", "returned"]},
                    {"in": "query", "name": "user_id", "type": "string"}
                ],
                "responses": {"200": {"description": "loans", "schema": {"$ref": "#/definitions/LoanList"}}}
            },
            "post": {
                "tags": ["loans"],
                "security": [{"Bearer": []}],
                "summary": "Borrow a book",
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/CreateLoanRequest"}}],
                "responses": {
                    "201": {"description": "loan", "schema": {"$ref": "#/definitions/Loan"}},
                    "400": {"description": "invalid-selection", "schema": {"$ref": "#/definitions/Error"}},
                    "409": {"description": "book-unavailable", "schema": {"$ref": "#/definitions/Error"}},
                    "500": {"description": "write-failed / partial-write", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/loans/{id}": {
            "get": {
                "tags": ["loans"],
                "security": [{"Bearer": []}],
                "summary": "Get a loan (admin or borrower)",
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
                "responses": {"200": {"description": "loan", "schema": {"$ref": "#/definitions/Loan"}}, "404": {"description": "not-found"}}
            }
        },
        "/loans/{id}/return": {
            "post": {
                "tags": ["loans"],
                "security": [{"Bearer": []}],
                "summary": "Return a loan (admin)",
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "loan", "schema": {"$ref": "#/definitions/Loan"}},
                    "404": {"description": "not-found", "schema": {"$ref": "#/definitions/Error"}},
                    "409": {"description": "already-returned", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/me/loans": {
            "get": {
                "tags": ["loans"],
                "security": [{"Bearer": []}],
                "summary": "Loans of the signed-in user",
                "responses": {"200": {"description": "loans", "schema": {"$ref": "#/definitions/LoanList"}}}
            }
        },
        "/books/available": {
            "get": {
                "tags": ["loans"],
                "security": [{"Bearer": []}],
                "summary": "Books that can be borrowed now",
                "responses": {"200": {"description": "books"}}
            }
        },
        "/admin/reconcile": {
            "post": {
                "tags": ["loans"],
                "security": [{"Bearer": []}],
                "summary": "Rebuild book availability from open loans (admin)",
                "responses": {"200": {"description": "fixed rows"}}
            }
        },
        "/books": {
            "get": {
                "tags": ["books"],
                "security": [{"Bearer": []}],
                "summary": "List books",
                "parameters": [{"in": "query", "name": "category", "type": "string"}],
                "responses": {"200": {"description": "books"}}
            },
            "post": {
                "tags": ["books"],
                "security": [{"Bearer": []}],
                "summary": "Create a book (admin)",
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/CreateBookRequest"}}],
                "responses": {"201": {"description": "book"}, "400": {"description": "invalid", "schema": {"$ref": "#/definitions/Error"}}}
            }
        },
        "/books/{id}": {
            "get": {
                "tags": ["books"],
                "security": [{"Bearer": []}],
                "summary": "Get a book",
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "integer"}],
                "responses": {"200": {"description": "book"}, "404": {"description": "not found"}}
            },
            "patch": {
                "tags": ["books"],
                "security": [{"Bearer": []}],
                "summary": "Update a book (admin); availability is not editable",
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "integer"}],
                "responses": {"200": {"description": "book"}}
            },
            "delete": {
                "tags": ["books"],
                "security": [{"Bearer": []}],
                "summary": "Delete a book without open loans (admin)",
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "integer"}],
                "responses": {"204": {"description": "deleted"}, "409": {"description": "book has an open loan"}}
            }
        },
        "/categories": {
            "get": {
                "tags": ["catalog"],
                "security": [{"Bearer": []}],
                "summary": "Book and available counts per category",
                "responses": {"200": {"description": "categories"}}
            }
        },
        "/profiles": {
            "get": {
                "tags": ["profiles"],
                "security": [{"Bearer": []}],
                "summary": "List profiles (admin)",
                "responses": {"200": {"description": "profiles"}}
            }
        }
    },
    "definitions": {
        "Error": {
            "type": "object",
            "properties": {
                "error": {
                    "type": "object",
                    "properties": {
                        "code": {"type": "string"},
                        "reason": {"type": "string"},
                        "message": {"type": "string"}
                    }
                }
            }
        },
        "SignInRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {"email": {"type": "string"}, "password": {"type": "string"}}
        },
        "SignUpRequest": {
            "type": "object",
            "required": ["email", "password", "name"],
            "properties": {"email": {"type": "string"}, "password": {"type": "string"}, "name": {"type": "string"}}
        },
        "Session": {
            "type": "object",
            "properties": {
                "id": {"type": "string"}, "email": {"type": "string"}, "role": {"type": "string"},
                "token": {"type": "string"}, "expires_at": {"type": "string", "format": "date-time"}
            }
        },
        "Identity": {
            "type": "object",
            "properties": {"id": {"type": "string"}, "email": {"type": "string"}}
        },
        "CreateLoanRequest": {
            "type": "object",
            "required": ["book_id"],
            "properties": {"book_id": {"type": "integer"}, "user_id": {"type": "string"}}
        },
        "Loan": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "book_id": {"type": "integer"},
                "user_id": {"type": "string"},
                "loan_date": {"type": "string", "format": "date-time"},
                "return_date": {"type": "string", "format": "date-time"},
                "is_returned": {"type": "boolean"},
                "book": {"type": "object", "properties": {"title": {"type": "string"}}},
                "user": {"type": "object", "properties": {"name": {"type": "string"}}}
            }
        },
        "LoanList": {
            "type": "object",
            "properties": {
                "items": {"type": "array", "items": {"$ref": "#/definitions/Loan"}},
                "total": {"type": "integer"}
            }
        },
        "CreateBookRequest": {
            "type": "object",
            "required": ["title", "author", "category"],
            "properties": {
                "title": {"type": "string"},
                "author": {"type": "string"},
                "description": {"type": "string"},
                "category": {"type": "string"},
                "image_urls": {"type": "array", "items": {"type": "string"}}
            }
        }
    }
}`

// SwaggerInfo はビルド情報（main から Host などを上書きできる）
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "LIBRIS API",
	Description:      "Library catalog, loans and accounts.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
