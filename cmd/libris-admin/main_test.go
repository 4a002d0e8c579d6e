package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LIBRIS-backend/internal/platform/auth"
	"LIBRIS-backend/internal/platform/db"
	"LIBRIS-backend/internal/platform/gateway"
)

// writeConfig は一時ディレクトリに SQLite 用の設定を書き出す
func writeConfig(t *testing.T) (cfgPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "libris.db")
	cfgPath = filepath.Join(dir, "config.yaml")
	yml := "mode: dev\n" +
		"database:\n  driver: sqlite\n  path: " + dbPath + "\n" +
		"auth:\n  jwt_secret: cli-test\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(yml), 0o600))
	return cfgPath, dbPath
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateAndReconcile(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)

	out, err := run(t, "", "migrate", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "migrated")

	// 貸出が無いのに貸出中になっている本を作る
	cfg := db.DatabaseConfig{Driver: db.SQLite, Path: dbPath}
	conn, err := db.Connect(cfg)
	require.NoError(t, err)
	_, err = gateway.NewSQLStore(conn, cfg.Dialect()).InsertBook(context.Background(), gateway.Book{
		Title: "Mero Cristianismo", Author: "C.S. Lewis", Category: "Apologética", Available: false,
	})
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	out, err = run(t, "", "reconcile", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, `"Mero Cristianismo": available false -> true`)
	assert.Contains(t, out, "1 book(s) fixed")

	out, err = run(t, "", "reconcile", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "0 book(s) fixed")
}

func TestCreateAdmin(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)
	_, err := run(t, "", "migrate", "-c", cfgPath)
	require.NoError(t, err)

	out, err := run(t, "s3cret!\n", "create-admin", "Admin@Example.com", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "admin created: admin@example.com")

	cfg := db.DatabaseConfig{Driver: db.SQLite, Path: dbPath}
	conn, err := db.Connect(cfg)
	require.NoError(t, err)
	defer conn.Close()

	acc, err := auth.NewStore(conn, cfg.Dialect()).GetByEmail(context.Background(), "admin@example.com")
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, auth.RoleAdmin, acc.Role)

	email := "admin@example.com"
	rows, err := gateway.NewSQLStore(conn, cfg.Dialect()).QueryProfiles(context.Background(), gateway.ProfileFilter{Email: &email})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, auth.RoleAdmin, rows[0].Role)
	assert.Equal(t, "Admin", rows[0].Name)

	// 同じメールは作れない
	_, err = run(t, "another1\n", "create-admin", "admin@example.com", "-c", cfgPath)
	assert.ErrorIs(t, err, auth.ErrEmailTaken)
}

func TestCreateAdminRequiresEmail(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	_, err := run(t, "", "create-admin", "-c", cfgPath)
	assert.Error(t, err)
}

func TestReadPasswordFromPipe(t *testing.T) {
	cases := map[string]string{
		"correct horse battery\n": "correct horse battery",
		"s3cret!\r\n":             "s3cret!",
		"no-newline":              "no-newline",
	}
	for in, want := range cases {
		cmd := &cobra.Command{}
		cmd.SetIn(strings.NewReader(in))
		got, err := readPassword(cmd, "Password: ")
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	cmd := &cobra.Command{}
	cmd.SetIn(strings.NewReader(""))
	_, err := readPassword(cmd, "Password: ")
	assert.Error(t, err)
}

func TestCreateAdminWithSpacedPassword(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)
	_, err := run(t, "", "migrate", "-c", cfgPath)
	require.NoError(t, err)

	_, err = run(t, "correct horse battery\n", "create-admin", "staff@example.com", "-c", cfgPath)
	require.NoError(t, err)

	cfg := db.DatabaseConfig{Driver: db.SQLite, Path: dbPath}
	conn, err := db.Connect(cfg)
	require.NoError(t, err)
	defer conn.Close()
	svc := auth.NewService(auth.NewStore(conn, cfg.Dialect()), gateway.NewSQLStore(conn, cfg.Dialect()), auth.Options{
		Secret: []byte("cli-test"), TTL: time.Hour,
	})
	sess, err := svc.SignIn(context.Background(), "staff@example.com", "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, sess.Role)
}
