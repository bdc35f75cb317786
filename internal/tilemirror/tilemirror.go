// Package tilemirror provides an optional S3/R2-compatible second tier of
// the tile cache, used to avoid redundant downloader calls across
// machines. It is additive-only: the mirror is consulted before the real
// downloader and populated after a successful fetch, but nothing ever
// deletes from it and a mirror outage never fails a pipeline run.
package tilemirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/mumuon/demregion/internal/config"
	"github.com/mumuon/demregion/internal/orchestrator"
	"github.com/mumuon/demregion/internal/tilegrid"
)

// Mirror wraps the S3/R2 client used to store and retrieve raw tile
// GeoTIFFs under bucketPath/{dataset}/{tile_filename}.
type Mirror struct {
	client     *s3.Client
	downloader *manager.Downloader
	uploader   *manager.Uploader
	bucket     string
	bucketPath string
}

// New connects a Mirror to cfg's bucket. Callers should only construct a
// Mirror when cfg.Enabled() is true.
func New(cfg config.S3Config) (*Mirror, error) {
	logger := slog.With("component", "tilemirror", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if service == s3.ServiceID {
			return aws.Endpoint{URL: cfg.Endpoint, SigningRegion: cfg.Region}, nil
		}
		return aws.Endpoint{}, &smithy.GenericAPIError{Code: "UnknownEndpoint"}
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, fmt.Errorf("loading tile mirror AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) { o.UsePathStyle = true })
	logger.Info("tile mirror client initialized")

	return &Mirror{
		client:     client,
		downloader: manager.NewDownloader(client),
		uploader:   manager.NewUploader(client),
		bucket:     cfg.Bucket,
		bucketPath: cfg.BucketPath,
	}, nil
}

func (m *Mirror) objectKey(dataset tilegrid.Dataset, id tilegrid.ID) string {
	return path.Join(m.bucketPath, string(dataset), tilegrid.Filename(id, dataset))
}

// Has reports whether the mirror already carries this tile, via HEAD.
func (m *Mirror) Has(ctx context.Context, dataset tilegrid.Dataset, id tilegrid.ID) (bool, error) {
	_, err := m.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.objectKey(dataset, id)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
			return false, nil
		}
		return false, fmt.Errorf("heading mirrored tile: %w", err)
	}
	return true, nil
}

// Download fetches a mirrored tile to destPath.
func (m *Mirror) Download(ctx context.Context, dataset tilegrid.Dataset, id tilegrid.ID, destPath string) error {
	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating mirror download destination: %w", err)
	}
	defer f.Close()

	_, err = m.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.objectKey(dataset, id)),
	})
	if err != nil {
		return fmt.Errorf("downloading mirrored tile: %w", err)
	}
	return nil
}

// Upload pushes a freshly downloaded tile into the mirror. Failures are
// the caller's to log-and-ignore; the mirror is advisory.
func (m *Mirror) Upload(ctx context.Context, dataset tilegrid.Dataset, id tilegrid.ID, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening tile for mirror upload: %w", err)
	}
	defer f.Close()

	_, err = m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.objectKey(dataset, id)),
		Body:   f,
		ACL:    types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return fmt.Errorf("uploading tile to mirror: %w", err)
	}
	return nil
}

// Downloader wraps a fallback orchestrator.Downloader with this mirror: it
// checks the mirror first, falls back to fallback.Fetch on a miss, and
// best-effort populates the mirror after a successful fallback fetch.
type Downloader struct {
	Mirror   *Mirror
	Fallback orchestrator.Downloader
}

func (d *Downloader) Fetch(ctx context.Context, dataset tilegrid.Dataset, bounds tilegrid.Bounds, destPath string) error {
	logger := slog.With("component", "tilemirror", "dataset", dataset)

	ids, err := tilegrid.TilesForBounds(bounds)
	if err != nil || len(ids) != 1 {
		return d.Fallback.Fetch(ctx, dataset, bounds, destPath)
	}
	id := ids[0]

	if has, err := d.Mirror.Has(ctx, dataset, id); err == nil && has {
		if err := d.Mirror.Download(ctx, dataset, id, destPath); err == nil {
			return nil
		}
		logger.Warn("mirror reported tile present but download failed, falling back", "error", err)
	} else if err != nil {
		logger.Warn("mirror HEAD failed, falling back to downloader", "error", err)
	}

	if err := d.Fallback.Fetch(ctx, dataset, bounds, destPath); err != nil {
		return err
	}

	if err := d.Mirror.Upload(ctx, dataset, id, destPath); err != nil {
		logger.Warn("failed to populate tile mirror after fetch", "error", err)
	}
	return nil
}
