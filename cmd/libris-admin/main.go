// libris-admin は運用向けの CLI（マイグレーション・貸出状態の整合・管理者作成）。
package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"LIBRIS-backend/internal/library/loans"
	"LIBRIS-backend/internal/platform/auth"
	"LIBRIS-backend/internal/platform/config"
	"LIBRIS-backend/internal/platform/db"
	"LIBRIS-backend/internal/platform/gateway"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "libris-admin",
		Short:         "LIBRIS maintenance commands",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.Path(), "config file")

	root.AddCommand(
		migrateCmd(&cfgPath),
		reconcileCmd(&cfgPath),
		createAdminCmd(&cfgPath),
	)
	return root
}

// open は設定を読み込んで DB に接続する
func open(path string) (*config.Config, *sql.DB, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	conn, err := db.Connect(cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	return cfg, conn, nil
}

func migrateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create tables and indexes if missing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, conn, err := open(*cfgPath)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := db.Migrate(cmd.Context(), conn, cfg.DB.Dialect()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrated")
			return nil
		},
	}
}

func reconcileCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Rebuild book availability from open loans",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, conn, err := open(*cfgPath)
			if err != nil {
				return err
			}
			defer conn.Close()

			svc := loans.NewService(gateway.NewSQLStore(conn, cfg.DB.Dialect()))
			fixed, err := svc.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, f := range fixed {
				fmt.Fprintf(out, "book %d %q: available %t -> %t\n", f.BookID, f.Title, f.Was, f.Now)
			}
			fmt.Fprintf(out, "%d book(s) fixed\n", len(fixed))
			return nil
		},
	}
}

func createAdminCmd(cfgPath *string) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create-admin <email>",
		Short: "Create an account with the admin role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, conn, err := open(*cfgPath)
			if err != nil {
				return err
			}
			defer conn.Close()

			password, err := readPassword(cmd, "Password: ")
			if err != nil {
				return err
			}
			if name == "" {
				name, _, _ = strings.Cut(args[0], "@")
			}

			d := cfg.DB.Dialect()
			svc := auth.NewService(auth.NewStore(conn, d), gateway.NewSQLStore(conn, d), auth.Options{
				Secret:      []byte(cfg.Auth.JWTSecret),
				TTL:         cfg.Auth.TokenTTL,
				DefaultRole: cfg.Auth.DefaultRole,
			})
			return createAdmin(cmd.Context(), cmd.OutOrStdout(), svc, args[0], password, name)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name (default: local part of email)")
	return cmd
}

func createAdmin(ctx context.Context, out io.Writer, svc auth.AuthService, email, password, name string) error {
	id, err := svc.SignUp(ctx, email, password, name)
	if err != nil {
		return err
	}
	if err := svc.SetRole(ctx, id.ID, auth.RoleAdmin); err != nil {
		return err
	}
	fmt.Fprintf(out, "admin created: %s (%s)\n", id.Email, id.ID)
	return nil
}

// readPassword は端末ならエコーなしで読む。パイプ入力なら1行読む
func readPassword(cmd *cobra.Command, prompt string) (string, error) {
	f, ok := cmd.InOrStdin().(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		// 行全体を読む（空白を含むパスワードもそのまま）
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	b, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
