package objstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"nlo/internal/credentials"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type S3 struct {
	client *s3.Client
}

func NewS3(ctx context.Context, creds credentials.Credentials, region string, maxRetryAttempts int) (*S3, error) {
	var configOpts []func(*awsconfig.LoadOptions) error
	configOpts = append(configOpts,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(awscreds.NewStaticCredentialsProvider(
			creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken)),
	)

	if maxRetryAttempts > 0 {
		configOpts = append(configOpts,
			awsconfig.WithRetryMaxAttempts(maxRetryAttempts),
			awsconfig.WithRetryMode(aws.RetryModeStandard),
		)
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if creds.EndpointURL != "" {
			o.BaseEndpoint = aws.String(creds.EndpointURL)
			o.UsePathStyle = true
		}
	})
	slog.Debug("S3 client initialized", "endpoint", creds.EndpointURL, "region", region)

	return &S3{client: client}, nil
}

func (s *S3) Check(ctx context.Context, uri string) error {
	loc, err := ParseURI(uri)
	if err != nil {
		return err
	}

	_, err = s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(loc.Bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to verify credentials or bucket access for %s: %w", loc.Bucket, err)
	}

	slog.Info("Object store credentials verified", "bucket", loc.Bucket)
	return nil
}

func (s *S3) Head(ctx context.Context, loc Location) (*ObjectInfo, error) {
	output, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to head object %s: %w", loc, err)
	}

	info := &ObjectInfo{}
	if output.ContentLength != nil {
		info.Size = *output.ContentLength
	}
	if output.Metadata != nil {
		info.Blake3 = output.Metadata["blake3"]
	}
	return info, nil
}

func (s *S3) Download(ctx context.Context, uri, localPath string) (*ObjectInfo, error) {
	loc, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	info, err := s.Head(ctx, loc)
	if err != nil {
		return nil, err
	}

	file, err := os.Create(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create local file: %w", err)
	}
	defer file.Close()

	downloader := manager.NewDownloader(s.client, func(d *manager.Downloader) {
		d.PartSize = 64 * 1024 * 1024
	})
	numBytes, err := downloader.Download(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", loc, err)
	}

	slog.Info("Downloaded snapshot archive", "bucket", loc.Bucket, "key", loc.Key, "bytes", numBytes)
	return info, nil
}

func (s *S3) List(ctx context.Context, prefixURI string) ([]Object, error) {
	loc, err := ParseURI(prefixURI)
	if err != nil {
		return nil, err
	}
	prefix := loc.Key
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var objects []Object
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(loc.Bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefixURI, err)
		}
		for _, obj := range page.Contents {
			o := Object{URI: Location{Bucket: loc.Bucket, Key: aws.ToString(obj.Key)}.String()}
			if obj.Size != nil {
				o.Size = *obj.Size
			}
			if obj.LastModified != nil {
				o.LastModified = *obj.LastModified
			}
			objects = append(objects, o)
		}
	}
	return objects, nil
}
