package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hitoshi/hanumo-auth/internal/client"
)

// errNotLoggedIn は保存済みセッションがない場合のエラー。
var errNotLoggedIn = errors.New("not logged in; run 'hanumoctl login'")

func newLoginCmd(factory ClientFactory) *cobra.Command {
	var (
		idToken    string
		tokenStdin bool
		identity   string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "IDトークンをセッションに交換して保存する",
		Long: `IDプロバイダーのIDトークンをセッション発行APIに送り、返されたセッションを保存する。

トークンを指定しない場合は代替トークンを送る。検証鍵のないサーバーでのみ成功する。

Examples:
  hanumoctl login --token eyJhbGciOi...
  printf '%s' "$PRIVY_TOKEN" | hanumoctl login --token-stdin
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if idToken != "" && tokenStdin {
				return errors.New("--token and --token-stdin are mutually exclusive")
			}
			if tokenStdin {
				t, err := readToken(cmd.InOrStdin())
				if err != nil {
					return err
				}
				idToken = t
			}

			c, err := factory(cmd)
			if err != nil {
				return err
			}

			var fetcher client.TokenFetcher
			if idToken != "" {
				fetcher = func(context.Context) (string, error) { return idToken, nil }
			}
			session, err := c.Authenticate(cmd.Context(), client.Identity{ID: identity}, fetcher)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), session)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", session.User.DisplayName, session.User.LoginMethod)
			fmt.Fprintf(cmd.OutOrStdout(), "Session expires at %s\n", session.Session.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&idToken, "token", "", "IDプロバイダーのIDトークン")
	cmd.Flags().BoolVar(&tokenStdin, "token-stdin", false, "IDトークンを標準入力から読む")
	cmd.Flags().StringVar(&identity, "identity", "", "ログに記録するIDプロバイダー側のユーザー識別子")
	cmd.Flags().BoolVar(&asJSON, "json", false, "セッションをJSONで出力する")

	return cmd
}

func newStatusCmd(factory ClientFactory) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "保存済みセッションの状態を表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := factory(cmd)
			if err != nil {
				return err
			}
			session, err := c.GetStoredSession(cmd.Context())
			if err != nil {
				return err
			}
			if session == nil {
				return errNotLoggedIn
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), session)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "User:         %s (%s)\n", session.User.DisplayName, session.User.ID)
			fmt.Fprintf(out, "Privy ID:     %s\n", session.User.PrivyID)
			fmt.Fprintf(out, "Login method: %s\n", session.User.LoginMethod)
			fmt.Fprintf(out, "Expires at:   %s\n", session.Session.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "セッションをJSONで出力する")
	return cmd
}

func newWhoamiCmd(factory ClientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "APIから現在のユーザー情報を取得する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := factory(cmd)
			if err != nil {
				return err
			}
			u, err := c.Me(cmd.Context())
			if errors.Is(err, client.ErrNoSession) {
				return errNotLoggedIn
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), u)
		},
	}
}

func newRefreshCmd(factory ClientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "リフレッシュトークンでセッションを更新する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := factory(cmd)
			if err != nil {
				return err
			}
			session, err := c.Refresh(cmd.Context())
			if errors.Is(err, client.ErrNoSession) {
				return errNotLoggedIn
			}
			if err != nil {
				return fmt.Errorf("refresh failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session refreshed; expires at %s\n", session.Session.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
}

func newLogoutCmd(factory ClientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "セッションを失効させてローカルから削除する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := factory(cmd)
			if err != nil {
				return err
			}
			if err := c.Logout(cmd.Context()); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: server logout failed: %v\n", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <token>",
		Short: "JWTのペイロードを署名検証せずに表示する",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.DecodeToken(args[0])
			if c == nil {
				return errors.New("malformed token")
			}
			return printJSON(cmd.OutOrStdout(), c)
		},
	}
}
