package db

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type Driver string

const (
	MySQL    Driver = "mysql"
	Postgres Driver = "postgres"
	SQLite   Driver = "sqlite"
)

// Dialect はドライバごとの SQL 差分を吸収する。
// クエリは MySQL 形式（? プレースホルダ）で書き、Rebind で変換する。
type Dialect struct {
	Driver Driver
}

func (d Dialect) driverName() string {
	switch d.Driver {
	case Postgres:
		return "pgx"
	case SQLite:
		return "sqlite"
	default:
		return "mysql"
	}
}

// Rebind は ? を PostgreSQL の $1, $2 ... に置き換える。
// クエリ文字列リテラル内に ? を書かないこと。
func (d Dialect) Rebind(q string) string {
	if d.Driver != Postgres {
		return q
	}
	var sb strings.Builder
	sb.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// ForUpdate は行ロック句。SQLite は DB 単位のロックなので空
func (d Dialect) ForUpdate() string {
	if d.Driver == SQLite {
		return ""
	}
	return " FOR UPDATE"
}

// Returning: LastInsertId が使えず RETURNING で採番を受け取るドライバか
func (d Dialect) Returning() bool {
	return d.Driver == Postgres
}

// IsDuplicate はユニーク制約違反かどうかを判定する
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
		// 拡張コードが無効な接続では基本コードしか来ない
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")
	}
	return false
}
