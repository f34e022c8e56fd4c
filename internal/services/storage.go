package services

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

const MaxImageSize = 5 << 20

var (
	ErrImageTooLarge   = errors.New("image exceeds 5MB")
	ErrUnsupportedType = errors.New("only JPEG, PNG and WebP images are allowed")
)

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

type StorageConfig struct {
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UploadDir string
	BaseURL   string
}

// Storage keeps uploaded images in S3 when credentials are configured, otherwise on
// local disk served under /uploads.
type Storage struct {
	cfg      StorageConfig
	s3Client *s3.S3
	uploader *s3manager.Uploader
	now      func() time.Time
}

// InitStorage initializes either S3 or local storage based on configuration
func InitStorage(cfg StorageConfig) (*Storage, error) {
	st := &Storage{cfg: cfg, now: time.Now}

	if cfg.Region != "" && cfg.AccessKey != "" && cfg.SecretKey != "" && cfg.Bucket != "" {
		sess, err := session.NewSession(&aws.Config{
			Region:      aws.String(cfg.Region),
			Credentials: credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS session: %w", err)
		}
		st.s3Client = s3.New(sess)
		st.uploader = s3manager.NewUploader(sess)
		return st, nil
	}

	if cfg.UploadDir == "" {
		return nil, errors.New("upload directory not configured")
	}
	if err := os.MkdirAll(filepath.Join(cfg.UploadDir, "profiles"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return st, nil
}

// IsUsingS3 returns true if S3 storage is being used
func (st *Storage) IsUsingS3() bool { return st.s3Client != nil }

// UploadImage validates and stores an image under folder, returning its public URL.
func (st *Storage) UploadImage(src io.Reader, folder string) (string, error) {
	data, err := io.ReadAll(io.LimitReader(src, MaxImageSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) > MaxImageSize {
		return "", ErrImageTooLarge
	}
	contentType := http.DetectContentType(data)
	ext, ok := imageExtensions[contentType]
	if !ok {
		return "", ErrUnsupportedType
	}

	key := path.Join(folder, fmt.Sprintf("%d%s", st.now().UnixNano(), ext))
	if st.IsUsingS3() {
		_, err := st.uploader.Upload(&s3manager.UploadInput{
			Bucket:      aws.String(st.cfg.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType),
		})
		if err != nil {
			return "", fmt.Errorf("failed to upload to S3: %w", err)
		}
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", st.cfg.Bucket, st.cfg.Region, key), nil
	}

	dir := filepath.Join(st.cfg.UploadDir, filepath.FromSlash(folder))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create folder directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(st.cfg.UploadDir, filepath.FromSlash(key)), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to save file: %w", err)
	}
	return strings.TrimRight(st.cfg.BaseURL, "/") + "/uploads/" + key, nil
}

// DeleteImage removes an image previously returned by UploadImage. Unknown URLs are
// ignored.
func (st *Storage) DeleteImage(imageURL string) error {
	key := st.keyFromURL(imageURL)
	if key == "" {
		return nil
	}
	if st.IsUsingS3() {
		_, err := st.s3Client.DeleteObject(&s3.DeleteObjectInput{
			Bucket: aws.String(st.cfg.Bucket),
			Key:    aws.String(key),
		})
		return err
	}
	err := os.Remove(filepath.Join(st.cfg.UploadDir, filepath.FromSlash(key)))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (st *Storage) keyFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	p := strings.TrimPrefix(u.Path, "/")
	if !st.IsUsingS3() {
		if !strings.HasPrefix(p, "uploads/") {
			return ""
		}
		p = strings.TrimPrefix(p, "uploads/")
	}
	if p == "" || strings.Contains(p, "..") {
		return ""
	}
	return p
}
