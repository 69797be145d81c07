package fetch

import (
    "context"
    "fmt"
    "io"
    "strings"

    aws "github.com/aws/aws-sdk-go-v2/aws"
    "github.com/aws/aws-sdk-go-v2/config"
    "github.com/aws/aws-sdk-go-v2/service/s3"

    "github.com/odomlab/odom-data-processing/internal/ports"
)

type objectGetter interface {
    GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Opener reads s3://bucket/key URLs from AWS S3 or an S3-compatible store.
type S3Opener struct {
    client objectGetter
}

var _ ports.Opener = (*S3Opener)(nil)

type S3Config struct {
    Region    string
    Endpoint  string
    PathStyle bool
}

func NewS3Opener(ctx context.Context, cfg S3Config) (*S3Opener, error) {
    region := cfg.Region
    if region == "" { region = "us-east-1" }
    awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
    if err != nil { return nil, err }
    client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
        if cfg.PathStyle {
            o.UsePathStyle = true
        }
        if cfg.Endpoint != "" {
            o.BaseEndpoint = aws.String(cfg.Endpoint)
        }
    })
    return &S3Opener{client: client}, nil
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(url string) (bucket, key string, err error) {
    rest, ok := strings.CutPrefix(url, "s3://")
    if !ok { return "", "", fmt.Errorf("not an s3 url: %s", url) }
    bucket, key, ok = strings.Cut(rest, "/")
    if !ok || bucket == "" || key == "" { return "", "", fmt.Errorf("s3 url needs bucket and key: %s", url) }
    return bucket, key, nil
}

func (o *S3Opener) Open(ctx context.Context, url string) (io.ReadCloser, error) {
    bucket, key, err := ParseS3URL(url)
    if err != nil { return nil, err }
    out, err := o.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
    if err != nil { return nil, fmt.Errorf("get %s: %w", url, err) }
    return out.Body, nil
}
