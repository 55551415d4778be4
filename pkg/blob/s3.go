package blob

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/thannaske/storageusage/pkg/models"
)

const defaultS3Region = "us-east-1"

// S3Lister lists objects of a bucket on S3 or an S3-compatible endpoint
type S3Lister struct {
	client s3.ListObjectsV2APIClient
	bucket string
}

// NewS3Lister creates a lister for the configured bucket
func NewS3Lister(ctx context.Context, cfg models.S3Config) (*S3Lister, error) {
	if cfg.Bucket == "" {
		return nil, Error.New("s3 bucket must be provided")
	}

	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = defaultS3Region
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	// Without static keys the default credential chain applies
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		opts = append(opts, config.WithCredentialsProvider(creds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("failed to load AWS SDK configuration: %w", err))
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Lister{client: client, bucket: cfg.Bucket}, nil
}

// ListObjects lazily pages through ListObjectsV2 for the given prefix
func (l *S3Lister) ListObjects(ctx context.Context, prefix string) iter.Seq2[models.ObjectDescriptor, error] {
	return func(yield func(models.ObjectDescriptor, error) bool) {
		paginator := s3.NewListObjectsV2Paginator(l.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(l.bucket),
			Prefix: aws.String(prefix),
		})

		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(models.ObjectDescriptor{}, Error.Wrap(fmt.Errorf("failed to list objects in bucket %s: %w", l.bucket, err)))
				return
			}

			for _, obj := range page.Contents {
				desc := models.ObjectDescriptor{
					Key:           aws.ToString(obj.Key),
					ContentLength: aws.ToInt64(obj.Size),
				}
				if !yield(desc, nil) {
					return
				}
			}
		}
	}
}
