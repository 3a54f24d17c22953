// Package storage提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"bytes"
	"context"
	"fmt"
	"pii-audit-go/internal/config"
	"pii-audit-go/pkg/log"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	var err error

	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}

	log.Info("MinIO 客户端初始化成功")

	ctx := context.Background()
	bucketName := cfg.BucketName
	exists, err := MinioClient.BucketExists(ctx, bucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}

	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", bucketName)
		if err := MinioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
		log.Infof("存储桶 '%s' 创建成功", bucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", bucketName)
	}
}

// GetPresignedURL 为对象生成限时下载链接。client 为 nil 时使用全局 MinioClient。
func GetPresignedURL(ctx context.Context, client *minio.Client, bucketName, objectName string, expiry time.Duration) (string, error) {
	if client == nil {
		client = MinioClient
	}
	presignedURL, err := client.PresignedGetObject(ctx, bucketName, objectName, expiry, nil)
	if err != nil {
		log.Errorf("生成预签名链接失败, object: %s, err: %v", objectName, err)
		return "", err
	}
	return presignedURL.String(), nil
}

// BundleArchiver 将合规导出包归档到 MinIO，并返回限时下载链接。
type BundleArchiver struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

// NewBundleArchiver 创建一个 BundleArchiver。client 为 nil 时使用全局 MinioClient。
func NewBundleArchiver(client *minio.Client, cfg config.MinIOConfig) *BundleArchiver {
	if client == nil {
		client = MinioClient
	}
	expiry := time.Duration(cfg.URLExpiryHours) * time.Hour
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &BundleArchiver{client: client, bucket: cfg.BucketName, expiry: expiry}
}

// ObjectName 返回导出包在存储桶中的对象名，按租户分目录。
func ObjectName(tenantID, fileName string) string {
	return fmt.Sprintf("exports/%s/%s", tenantID, fileName)
}

// Archive 上传导出包并返回预签名下载链接。
func (a *BundleArchiver) Archive(ctx context.Context, tenantID, fileName string, data []byte) (string, error) {
	objectName := ObjectName(tenantID, fileName)
	_, err := a.client.PutObject(ctx, a.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/zip",
		UserMetadata: map[string]string{
			"tenant-id": tenantID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("上传导出包到 MinIO 失败: %w", err)
	}
	url, err := GetPresignedURL(ctx, a.client, a.bucket, objectName, a.expiry)
	if err != nil {
		return "", fmt.Errorf("生成导出包下载链接失败: %w", err)
	}
	log.Infof("[BundleArchiver] 导出包已归档, bucket: %s, object: %s", a.bucket, objectName)
	return url, nil
}
