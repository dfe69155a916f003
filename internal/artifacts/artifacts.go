// Package artifacts stores exported document files (Word, PDF) in MinIO, one
// bucket per project.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	ErrDisabled          = errors.New("artifact storage not configured")
	ErrUnsupportedFormat = errors.New("export format must be docx or pdf")
)

const defaultRegion = "us-east-1"

var contentTypes = map[string]string{
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"pdf":  "application/pdf",
}

type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	// Region pins the bucket region so presigning needs no round trip.
	Region string
}

type Client struct {
	mc      *minio.Client
	enabled bool
}

// NewClient returns a disabled client when no endpoint is configured; every
// operation on it fails with ErrDisabled.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return &Client{}, nil
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Client{mc: mc, enabled: true}, nil
}

func (c *Client) Enabled() bool {
	return c != nil && c.enabled
}

// BucketForProject maps a project to its bucket. S3 bucket names are
// lowercase, so ids are folded.
func BucketForProject(projectID string) string {
	return "project-" + strings.ToLower(projectID)
}

// ObjectKey is where a document's export of the given format lives. A new
// upload of the same format replaces the previous one.
func ObjectKey(documentID, format string) string {
	return "documents/" + documentID + "/export." + format
}

func ContentType(format string) (string, error) {
	ct, ok := contentTypes[strings.ToLower(format)]
	if !ok {
		return "", ErrUnsupportedFormat
	}
	return ct, nil
}

func (c *Client) ensureBucket(ctx context.Context, bucket string) error {
	exists, err := c.mc.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := c.mc.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket %s: %w", bucket, err)
	}
	return nil
}

// Put uploads an export and returns its object key.
func (c *Client) Put(ctx context.Context, projectID, documentID, format string, body io.Reader, size int64) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}
	contentType, err := ContentType(format)
	if err != nil {
		return "", err
	}
	bucket := BucketForProject(projectID)
	if err := c.ensureBucket(ctx, bucket); err != nil {
		return "", err
	}
	key := ObjectKey(documentID, strings.ToLower(format))
	if _, err := c.mc.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return key, nil
}

func (c *Client) Delete(ctx context.Context, projectID, key string) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	if err := c.mc.RemoveObject(ctx, BucketForProject(projectID), key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// DeletePrefix removes every object under prefix, e.g. all exports of one
// document.
func (c *Client) DeletePrefix(ctx context.Context, projectID, prefix string) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	bucket := BucketForProject(projectID)
	exists, err := c.mc.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		return nil
	}
	return c.removeAll(ctx, bucket, prefix)
}

// RemoveProject deletes the project's bucket and everything in it. A missing
// bucket is not an error.
func (c *Client) RemoveProject(ctx context.Context, projectID string) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	bucket := BucketForProject(projectID)
	exists, err := c.mc.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		return nil
	}
	if err := c.removeAll(ctx, bucket, ""); err != nil {
		return err
	}
	if err := c.mc.RemoveBucket(ctx, bucket); err != nil {
		return fmt.Errorf("remove bucket %s: %w", bucket, err)
	}
	return nil
}

func (c *Client) removeAll(ctx context.Context, bucket, prefix string) error {
	objects := c.mc.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true})
	for result := range c.mc.RemoveObjects(ctx, bucket, objects, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			return fmt.Errorf("remove %s/%s: %w", bucket, result.ObjectName, result.Err)
		}
	}
	return nil
}

// PresignedURL returns a time limited download link for key.
func (c *Client) PresignedURL(ctx context.Context, projectID, key, filename string, expiry time.Duration) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}
	params := url.Values{}
	if filename != "" {
		params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", filename))
	}
	u, err := c.mc.PresignedGetObject(ctx, BucketForProject(projectID), key, expiry, params)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}
