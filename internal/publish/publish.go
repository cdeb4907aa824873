// Package publish uploads build output to an S3-compatible bucket.
package publish

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/isosplit/isosplit/internal/config"
	"github.com/isosplit/isosplit/internal/errors"
)

// Credential environment variables.
const (
	EnvAccessKeyID     = "AWS_ACCESS_KEY_ID"
	EnvSecretAccessKey = "AWS_SECRET_ACCESS_KEY"
	EnvSessionToken    = "AWS_SESSION_TOKEN"
)

const defaultRegion = "us-east-1"

// ObjectPutter is the subset of the S3 client the publisher needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Publisher uploads a directory tree object by object.
type Publisher struct {
	client ObjectPutter
	bucket string
	prefix string
	logger *zap.Logger
}

// Object is one uploaded file.
type Object struct {
	Key         string
	ContentType string
	Size        int64
}

// New creates a publisher for the publish section of the project config.
// Credentials are read from the environment at request time.
func New(cfg config.PublishConfig, logger *zap.Logger) (*Publisher, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("E121").
			WithDetail("publish.bucket is required to publish").
			WithSuggestion(`Add "publish": {"bucket": "my-bucket"} to isosplit.json`)
	}

	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	opts := s3.Options{
		Region:      region,
		Credentials: aws.CredentialsProviderFunc(envCredentials),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}

	return NewWithClient(s3.New(opts), cfg.Bucket, cfg.Prefix, logger), nil
}

// NewWithClient creates a publisher around an existing client.
func NewWithClient(client ObjectPutter, bucket, prefix string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger.Named("publish"),
	}
}

func envCredentials(context.Context) (aws.Credentials, error) {
	id := os.Getenv(EnvAccessKeyID)
	secret := os.Getenv(EnvSecretAccessKey)
	if id == "" || secret == "" {
		return aws.Credentials{}, fmt.Errorf("%s and %s must be set", EnvAccessKeyID, EnvSecretAccessKey)
	}
	return aws.Credentials{
		AccessKeyID:     id,
		SecretAccessKey: secret,
		SessionToken:    os.Getenv(EnvSessionToken),
		Source:          "environment",
	}, nil
}

// Publish uploads every file under dir in lexical order. Keys are the
// configured prefix joined with the slash-separated relative path.
func (p *Publisher) Publish(ctx context.Context, dir string) ([]Object, error) {
	files, err := collect(dir)
	if err != nil {
		return nil, errors.New("E150").WithDetail("could not read " + dir).Wrap(err)
	}

	objects := make([]Object, 0, len(files))
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return objects, err
		}

		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return objects, errors.New("E150").Wrap(err)
		}

		obj := Object{
			Key:         p.key(rel),
			ContentType: contentType(rel),
			Size:        int64(len(data)),
		}
		_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.bucket),
			Key:         aws.String(obj.Key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(obj.ContentType),
		})
		if err != nil {
			return objects, errors.New("E150").
				WithDetail(fmt.Sprintf("upload of s3://%s/%s failed", p.bucket, obj.Key)).
				Wrap(err)
		}
		p.logger.Debug("uploaded", zap.String("key", obj.Key), zap.Int64("size", obj.Size))
		objects = append(objects, obj)
	}
	return objects, nil
}

func (p *Publisher) key(rel string) string {
	if p.prefix == "" {
		return rel
	}
	return path.Join(p.prefix, rel)
}

// collect lists regular files under dir, slash-separated and sorted.
func collect(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(files)
	return files, err
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".js", ".mjs":
		return "text/javascript; charset=utf-8"
	case ".map":
		return "application/json"
	}
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
