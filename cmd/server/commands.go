package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"company-qa-go/pkg/log"
	"company-qa-go/pkg/token"
)

func newTokenCmd(configPath *string) *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "签发一个管理端 JWT",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := setup(*configPath)
			if cfg.JWT.Secret == "" {
				return fmt.Errorf("jwt.secret 未配置")
			}
			tok, err := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours).GenerateToken(subject, token.RoleAdmin)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "ops", "token 的 subject")
	return cmd
}

func newReindexCmd(configPath *string) *cobra.Command {
	var object string
	var onlyIfChanged bool
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "立即把知识库表格重建到向量索引中",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := setup(*configPath)
			defer log.Sync()

			comp, err := initComponents(cfg)
			if err != nil {
				return err
			}
			if object == "" {
				object = cfg.MinIO.SheetObject
			}

			ctx := context.Background()
			run := comp.indexService.Reindex
			if onlyIfChanged {
				run = comp.indexService.SyncIfChanged
			}
			summary, err := run(ctx, object)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
	cmd.Flags().StringVar(&object, "object", "", "表格对象名，默认使用 minio.sheet_object")
	cmd.Flags().BoolVar(&onlyIfChanged, "if-changed", false, "仅在表格内容变化时重建")
	return cmd
}
