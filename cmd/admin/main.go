package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"cvSync/internal/auth"
	"cvSync/internal/database"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &dbFlags{}
	root := &cobra.Command{
		Use:           "cvsync-admin",
		Short:         "运维命令：创建编辑者账号、签发本地调试用访问令牌",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	flags.register(root)
	root.AddCommand(newCreateUserCmd(flags), newIssueTokenCmd(flags))
	return root
}

func newCreateUserCmd(flags *dbFlags) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "创建编辑者账号并输出一次性随机密码",
		RunE: func(cmd *cobra.Command, _ []string) error {
			u := strings.TrimSpace(username)
			if u == "" {
				return errors.New("missing required flag: --username")
			}
			db, err := flags.open()
			if err != nil {
				return err
			}

			var existing database.User
			switch err := db.Where("username = ?", u).First(&existing).Error; {
			case err == nil:
				return fmt.Errorf("user %q already exists", u)
			case errors.Is(err, gorm.ErrRecordNotFound):
			default:
				return fmt.Errorf("query user: %w", err)
			}

			password, err := auth.GeneratePassword(24)
			if err != nil {
				return fmt.Errorf("generate password: %w", err)
			}
			hashed, err := auth.HashPassword(password)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			user := database.User{Username: u, PasswordHash: hashed}
			if err := db.Create(&user).Error; err != nil {
				return fmt.Errorf("create user: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "已创建编辑者账号：\n")
			fmt.Fprintf(out, "用户 ID: %d\n", user.ID)
			fmt.Fprintf(out, "用户名: %s\n", u)
			fmt.Fprintf(out, "初始密码: %s\n", password)
			fmt.Fprintf(out, "提示：该密码仅显示一次。\n")
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "用户名（必填）")
	return cmd
}

func newIssueTokenCmd(flags *dbFlags) *cobra.Command {
	var (
		username       string
		privateKeyPath string
		publicKeyPath  string
		ttl            time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "为已有账号签发访问令牌",
		RunE: func(cmd *cobra.Command, _ []string) error {
			u := strings.TrimSpace(username)
			if u == "" {
				return errors.New("missing required flag: --username")
			}
			db, err := flags.open()
			if err != nil {
				return err
			}

			var user database.User
			if err := db.Where("username = ?", u).First(&user).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("user %q not found", u)
				}
				return fmt.Errorf("query user: %w", err)
			}

			svc, err := auth.NewAuthServiceFromFiles(privateKeyPath, publicKeyPath, ttl)
			if err != nil {
				return err
			}
			token, err := svc.GenerateAccessToken(user.ID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "用户名（必填）")
	cmd.Flags().StringVar(&privateKeyPath, "private-key", envOr("AUTH_PRIVATE_KEY_PATH", "keys/private.pem"), "RSA 私钥路径")
	cmd.Flags().StringVar(&publicKeyPath, "public-key", envOr("AUTH_PUBLIC_KEY_PATH", "keys/public.pem"), "RSA 公钥路径")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "令牌有效期")
	return cmd
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
