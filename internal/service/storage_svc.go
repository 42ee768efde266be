package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"woo_sync_v1_202610/internal/config"
	"woo_sync_v1_202610/internal/model"
	"woo_sync_v1_202610/pkg/woo"
)

// ==================== 接口定义 ====================

// ImageUploader 把候选的本地图片变成远端可引用的图片
type ImageUploader interface {
	Upload(ctx context.Context, site *model.Site, filename string, data []byte) (*UploadedImage, error)
}

// UploadedImage MediaID 仅 WordPress 媒体库有值
type UploadedImage struct {
	MediaID int64
	URL     string
}

// Ref 转为商品请求体中的图片引用
func (u *UploadedImage) Ref() woo.ImageRef {
	if u.MediaID > 0 {
		return woo.ImageRef{ID: u.MediaID}
	}
	return woo.ImageRef{Src: u.URL}
}

// ErrUploadDisabled storage.driver = none
var ErrUploadDisabled = errors.New("image upload disabled")

// NewImageUploader 按 storage.driver 创建
func NewImageUploader(cfg config.StorageConfig, client *woo.Client) (ImageUploader, error) {
	switch cfg.Driver {
	case "", "wordpress":
		return &WordPressUploader{client: client}, nil
	case "s3":
		return NewS3Uploader(cfg)
	case "none":
		return disabledUploader{}, nil
	default:
		return nil, fmt.Errorf("不支持的存储方式: %s", cfg.Driver)
	}
}

// UploadFile 读取本地文件后上传
func UploadFile(ctx context.Context, up ImageUploader, site *model.Site, path string) (*UploadedImage, error) {
	// 未启用上传时不读文件：路径是否存在都只报 ErrUploadDisabled
	if up == nil {
		return nil, ErrUploadDisabled
	}
	if _, ok := up.(disabledUploader); ok {
		return nil, ErrUploadDisabled
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取图片失败: %w", err)
	}
	return up.Upload(ctx, site, filepath.Base(path), data)
}

// ==================== WordPress 媒体库 ====================

// WordPressUploader 上传到站点自己的媒体库，需要应用密码
type WordPressUploader struct {
	client *woo.Client
}

func (u *WordPressUploader) Upload(ctx context.Context, site *model.Site, filename string, data []byte) (*UploadedImage, error) {
	media, err := u.client.UploadMedia(ctx, site.Endpoint(), filename, data)
	if err != nil {
		return nil, err
	}
	return &UploadedImage{MediaID: media.ID, URL: media.SourceURL}, nil
}

// ==================== S3 实现 ====================

type S3Uploader struct {
	client    *s3.Client
	bucket    string
	region    string
	endpoint  string
	publicURL string
}

func NewS3Uploader(cfg config.StorageConfig) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage.bucket 不能为空")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("加载AWS配置失败: %w", err)
	}

	// 自定义端点（MinIO / R2 等）使用 path-style
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Uploader{
		client:    client,
		bucket:    cfg.Bucket,
		region:    region,
		endpoint:  strings.TrimRight(cfg.Endpoint, "/"),
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

func (u *S3Uploader) Upload(ctx context.Context, site *model.Site, filename string, data []byte) (*UploadedImage, error) {
	key := u.generateKey(site.ID, filename)

	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, fmt.Errorf("上传S3失败: %w", err)
	}
	return &UploadedImage{URL: u.publicURLFor(key)}, nil
}

func (u *S3Uploader) generateKey(siteID int64, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".jpg"
	}
	return fmt.Sprintf("sites/%d/%s/%s%s", siteID, time.Now().UTC().Format("2006/01/02"), uuid.New().String(), ext)
}

func (u *S3Uploader) publicURLFor(key string) string {
	switch {
	case u.publicURL != "":
		return u.publicURL + "/" + key
	case u.endpoint != "":
		return u.endpoint + "/" + u.bucket + "/" + key
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.bucket, u.region, key)
	}
}

// ==================== 禁用 ====================

type disabledUploader struct{}

func (disabledUploader) Upload(context.Context, *model.Site, string, []byte) (*UploadedImage, error) {
	return nil, ErrUploadDisabled
}
