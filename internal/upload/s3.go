package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/goccy/go-json"
)

// S3Config はS3互換ストアへの接続設定
type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// PutObjectAPI はS3TransportがS3クライアントに求める操作
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Transport は画像を <prefix>/<vehicle>/<viewTag>.jpg としてバケットへ置く
type S3Transport struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// NewS3Client は設定からS3クライアントを作成する
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("AWS設定の読み込みに失敗: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// NewS3Transport は新しいS3Transportを作成する
func NewS3Transport(client PutObjectAPI, bucket, prefix string) *S3Transport {
	if prefix == "" {
		prefix = "images"
	}
	return &S3Transport{client: client, bucket: bucket, prefix: prefix}
}

// Key はオブジェクトキーを返す
func (t *S3Transport) Key(req Request) string {
	return path.Join(t.prefix, req.Vehicle.String(), req.Filename)
}

// Upload はPutObjectで画像を保存する
// S3がエラー応答を返した場合はHTTPステータスと detail を持つ Response に変換する
func (t *S3Transport) Upload(ctx context.Context, req Request) (*Response, error) {
	_, err := t.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(t.bucket),
		Key:         aws.String(t.Key(req)),
		Body:        bytes.NewReader(req.Body),
		ContentType: aws.String(req.ContentType),
		Metadata: map[string]string{
			"vehiculo": req.Vehicle.String(),
			"view":     req.ViewTag,
		},
	})
	if err == nil {
		body, _ := json.Marshal(map[string]string{"message": req.Filename + " stored"})
		return &Response{Status: 200, Body: body}, nil
	}

	var respErr *awshttp.ResponseError
	if !errors.As(err, &respErr) {
		return nil, err
	}

	detail := respErr.Error()
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorMessage() != "" {
		detail = apiErr.ErrorMessage()
	}
	body, _ := json.Marshal(map[string]string{"detail": detail})
	return &Response{Status: respErr.HTTPStatusCode(), Body: body}, nil
}
