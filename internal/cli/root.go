// Package cli はセッション交換クライアントを操作するhanumoctlのコマンド群を提供する。
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hitoshi/hanumo-auth/internal/client"
	"github.com/hitoshi/hanumo-auth/internal/config"
	"github.com/hitoshi/hanumo-auth/internal/logger"
)

// ClientFactory はコマンド実行時にクライアントを生成する。
type ClientFactory func(cmd *cobra.Command) (*client.Client, error)

// NewRootCmd はhanumoctlのルートコマンドを返す。
// クライアント設定はHANUMO_*環境変数から読み込む。
func NewRootCmd() *cobra.Command {
	return newRootCmd(clientFromEnv)
}

func newRootCmd(factory ClientFactory) *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "hanumoctl",
		Short:         "hanumo session exchange client",
		Long:          "IDプロバイダーのトークンをhanumoのセッションに交換し、ローカルに保存したセッションを管理する。",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := "warn"
			if verbose {
				level = "debug"
			}
			logger.SetupDefault(cmd.ErrOrStderr(), level)
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "詳細なログを出力する")

	root.AddCommand(newLoginCmd(factory))
	root.AddCommand(newStatusCmd(factory))
	root.AddCommand(newWhoamiCmd(factory))
	root.AddCommand(newRefreshCmd(factory))
	root.AddCommand(newLogoutCmd(factory))
	root.AddCommand(newDecodeCmd())

	return root
}

func clientFromEnv(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, fmt.Errorf("load client config: %w", err)
	}
	retry := client.DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxRetries

	slog.Debug("using session file", slog.String("path", cfg.SessionFile))
	return client.NewClient(
		cfg.APIURL,
		&http.Client{Timeout: cfg.Timeout},
		client.NewFileStore(cfg.SessionFile),
		retry,
		slog.Default(),
	), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readToken は--token-stdin指定時に標準入力からトークンを読む。
func readToken(r io.Reader) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
