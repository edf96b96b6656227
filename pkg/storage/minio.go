// Package storage提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"company-qa-go/internal/config"
	"company-qa-go/pkg/log"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// InitMinIO 初始化 MinIO 客户端并确保知识库所在的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) error {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	MinioClient = client
	log.Info("MinIO 客户端初始化成功")

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
	}
	return nil
}

// SheetSource 从对象存储中读取知识库表格（CSV）。
type SheetSource struct {
	client *minio.Client
	bucket string
}

// NewSheetSource 创建一个读取指定存储桶的 SheetSource。
func NewSheetSource(client *minio.Client, bucket string) *SheetSource {
	return &SheetSource{client: client, bucket: bucket}
}

// FetchSheet 打开表格对象，调用方负责关闭返回的 reader。
func (s *SheetSource) FetchSheet(ctx context.Context, object string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s/%s: %w", s.bucket, object, err)
	}
	// GetObject 是惰性的，Stat 才会真正发起请求
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, fmt.Errorf("failed to stat object %s/%s: %w", s.bucket, object, err)
	}
	log.Infof("[SheetSource] 读取表格 %s/%s, size: %d, etag: %s", s.bucket, object, info.Size, info.ETag)
	return obj, nil
}
