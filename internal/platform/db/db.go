package db

import (
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type DatabaseConfig struct {
	Driver   Driver `yaml:"driver"` // mysql | postgres | sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	// sqlite のみ使用（":memory:" 可）
	Path        string `yaml:"path"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// Dialect は設定されたドライバに対応する方言を返す
func (c DatabaseConfig) Dialect() Dialect {
	if c.Driver == "" {
		return Dialect{Driver: MySQL}
	}
	return Dialect{Driver: c.Driver}
}

func (c DatabaseConfig) dsn() (string, error) {
	switch c.Dialect().Driver {
	case MySQL:
		mc := mysql.NewConfig()
		mc.User = c.Username
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
		mc.DBName = c.DBName
		mc.ParseTime = true
		mc.Loc = time.UTC
		mc.Timeout = 3 * time.Second
		mc.ReadTimeout = 5 * time.Second
		mc.WriteTimeout = 5 * time.Second
		// 値が変わらない UPDATE でも RowsAffected=1 を返させる（available の再設定で NotFound 扱いにならないように）
		mc.ClientFoundRows = true
		return mc.FormatDSN(), nil
	case Postgres:
		// パスワードに @ / # : が入っても壊れないよう url.URL で組み立てる
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.Username, c.Password),
			Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
			Path:     "/" + c.DBName,
			RawQuery: "sslmode=disable",
		}
		return u.String(), nil
	case SQLite:
		if c.Path == "" {
			return "", fmt.Errorf("sqlite: path is required")
		}
		return c.Path, nil
	default:
		return "", fmt.Errorf("unsupported driver: %q", c.Driver)
	}
}

func Connect(c DatabaseConfig) (*sql.DB, error) {
	dsn, err := c.dsn()
	if err != nil {
		return nil, err
	}
	d := c.Dialect()

	if d.Driver == SQLite && c.Path != ":memory:" {
		// 初回起動でディレクトリが無くても作れるように
		if dir := filepath.Dir(c.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("DBディレクトリ作成に失敗: %w", err)
			}
		}
	}

	db, err := sql.Open(d.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("接続準備に失敗: %w", err)
	}

	if d.Driver == SQLite {
		// 書き込みは1本に絞る。:memory: は接続ごとに別DBになるので必須
		db.SetMaxOpenConns(1)
		pragmas := []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA foreign_keys=ON",
			"PRAGMA busy_timeout=5000",
		}
		for _, p := range pragmas {
			if _, err := db.Exec(p); err != nil {
				db.Close()
				return nil, fmt.Errorf("pragma %s に失敗: %w", p, err)
			}
		}
	} else {
		// 接続プール（合算がDB側の max_connections を超えないよう配分する）
		db.SetMaxOpenConns(80)
		db.SetMaxIdleConns(20)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("DB接続に失敗: %w", err)
	}
	return db, nil
}
