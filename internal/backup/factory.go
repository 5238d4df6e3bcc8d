package backup

import (
	"context"
	"log/slog"

	"github.com/roach88/posvault/internal/config"
)

// SinkDeps are the collaborators DefaultSinks needs.
type SinkDeps struct {
	Capability *DirectoryCapability
	Downloader Downloader
	DialFTP    FTPDialer
	NewS3      func(ctx context.Context, cfg config.CloudConfig) (S3API, error)
	Logger     *slog.Logger
}

// DefaultSinks builds one sink per configured destination.
func DefaultSinks(deps SinkDeps) SinkFactory {
	if deps.Capability == nil {
		deps.Capability = Capability()
	}
	if deps.NewS3 == nil {
		deps.NewS3 = func(ctx context.Context, cfg config.CloudConfig) (S3API, error) {
			return NewS3Client(ctx, cfg)
		}
	}
	return func(ctx context.Context, cfg config.Backup) ([]Sink, error) {
		var sinks []Sink
		if cfg.LocalDir != "" {
			sinks = append(sinks, NewLocalSink(deps.Capability, cfg.LocalDir, deps.Downloader, deps.Logger))
		}
		if cfg.FTP != nil {
			sinks = append(sinks, NewFTPSink(*cfg.FTP, deps.DialFTP, deps.Logger))
		}
		if cfg.Cloud != nil {
			client, err := deps.NewS3(ctx, *cfg.Cloud)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, NewCloudSink(client, cfg.Cloud.Bucket, cfg.Cloud.Prefix))
		}
		return sinks, nil
	}
}
