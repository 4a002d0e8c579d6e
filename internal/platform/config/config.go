// Package config は設定ファイル（YAML）と環境変数から起動設定を組み立てる。
//
// 読み込み順:
//  1. .env があれば読み込む（秘密情報はこちらに置く）
//  2. config/config.yaml（LIBRIS_CONFIG で変更可）
//  3. LIBRIS_* 環境変数で上書き
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"LIBRIS-backend/internal/platform/db"
)

const DefaultPath = "config/config.yaml"

// 元システムのカテゴリ一覧（設定で上書き可）
var DefaultCategories = []string{
	"Teología",
	"Vida Cristiana",
	"Apologética",
	"Estudios Bíblicos",
	"Devocional",
	"Historia de la Iglesia",
	"Ministerio",
	"Evangelismo",
}

type Certs struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type ServerConfig struct {
	Addr         string   `yaml:"addr"`
	AllowOrigins []string `yaml:"allow_origins"` // dev のみ使用
}

type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
	DefaultRole string        `yaml:"default_role"`
}

type CatalogConfig struct {
	Categories []string `yaml:"categories"`
}

type Config struct {
	Version     string            `yaml:"version"`
	Mode        string            `yaml:"mode"`
	Server      ServerConfig      `yaml:"server"`
	DB          db.DatabaseConfig `yaml:"database"`
	Certificate Certs             `yaml:"certificate"`
	Auth        AuthConfig        `yaml:"auth"`
	Catalog     CatalogConfig     `yaml:"catalog"`
}

// Path は読み込む設定ファイルのパス
func Path() string {
	if p := os.Getenv("LIBRIS_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

func LoadConfig(path string) (*Config, error) {
	// .env は無くても良い
	_ = godotenv.Load()

	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイルの読み込み失敗: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("設定ファイルのパース失敗: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("LIBRIS_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv("LIBRIS_DB_PASSWORD"); v != "" {
		cfg.DB.Password = v
	}
	if v := os.Getenv("LIBRIS_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8443"
	}
	if len(cfg.Server.AllowOrigins) == 0 {
		cfg.Server.AllowOrigins = []string{"http://localhost:3000"}
	}
	if cfg.DB.Driver == "" {
		cfg.DB.Driver = db.MySQL
	}
	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}
	if cfg.Auth.DefaultRole == "" {
		cfg.Auth.DefaultRole = "user"
	}
	if len(cfg.Catalog.Categories) == 0 {
		cfg.Catalog.Categories = append([]string(nil), DefaultCategories...)
	}
}

func (c *Config) Validate() error {
	if c.Mode != "dev" && c.Mode != "release" {
		return fmt.Errorf("mode は dev か release を指定してください: %q", c.Mode)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret（または LIBRIS_JWT_SECRET）が未設定です")
	}
	if c.Auth.DefaultRole != "user" && c.Auth.DefaultRole != "admin" {
		return fmt.Errorf("auth.default_role が不正です: %q", c.Auth.DefaultRole)
	}
	return nil
}

// TLS 証明書の設定があれば cert/key のパスを返す
func (c *Config) TLSFiles() (certFile, keyFile string, ok bool) {
	if c.Certificate.Cert == "" || c.Certificate.Key == "" {
		return "", "", false
	}
	dir := "config/tls/dev"
	if c.Mode == "release" {
		dir = "config/tls/release"
	}
	return fmt.Sprintf("%s/%s", dir, c.Certificate.Cert), fmt.Sprintf("%s/%s", dir, c.Certificate.Key), true
}
