package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/alanbriolat/playlist-archiver"
	"github.com/alanbriolat/playlist-archiver/download"
	"github.com/alanbriolat/playlist-archiver/internal/sink"
	"github.com/alanbriolat/playlist-archiver/resolver"
)

func main() {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := config.Build()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logger.Sync()
	zap.RedirectStdLog(logger)
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = playlist_archiver.WithLogger(ctx, logger)

	app := &cli.App{
		Name:      "download-video",
		Usage:     "download single videos through a resolution service",
		ArgsUsage: "URL...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "resolver-endpoint",
				Usage:   "resolution service `URL`",
				EnvVars: []string{"RESOLVER_ENDPOINT"},
			},
			&cli.StringFlag{
				Name:  "target",
				Value: ".",
				Usage: "save downloaded video to `DIR`",
			},
			&cli.StringFlag{
				Name:  "quality",
				Value: playlist_archiver.DefaultFormatOptions.VideoQuality,
				Usage: "requested video `QUALITY`",
			},
		},
		Action: func(c *cli.Context) error {
			cfg := playlist_archiver.DefaultConfig()
			cfg.ResolverEndpoint = c.String("resolver-endpoint")
			cfg.TargetDir = c.String("target")
			cfg.Format.VideoQuality = c.String("quality")
			if err := cfg.Validate(); err != nil {
				return err
			}
			res, err := resolver.New(cfg.ResolverEndpoint, resolver.WithFormat(cfg.Format), resolver.WithTimeout(cfg.RequestTimeout))
			if err != nil {
				return err
			}
			downloader := download.New(download.WithChunkSize(cfg.ChunkSize), download.WithPlaceholderTotal(cfg.PlaceholderTotal))
			console := sink.NewConsole(os.Stdout, zap.S().Named("download"))
			for i, source := range c.Args().Slice() {
				req := playlist_archiver.DownloadRequest{Title: source, SourceURL: source}
				if err := downloadOne(ctx, &cfg, res, downloader, console, i+1, c.NArg(), req); err != nil {
					return err
				}
			}
			return nil
		},
		HideHelpCommand: true,
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Fatal(err.Error())
	}
}

func downloadOne(ctx context.Context, cfg *playlist_archiver.Config, res playlist_archiver.Resolver, downloader playlist_archiver.Downloader, out playlist_archiver.Sink, index, total int, req playlist_archiver.DownloadRequest) error {
	logger := playlist_archiver.Logger(ctx).Sugar()
	logger.Infof("Downloading from %s into %s", req.SourceURL, cfg.TargetDir)

	target, err := res.Resolve(ctx, req)
	if err != nil {
		return fmt.Errorf("resolve failed: %w", err)
	}
	path, err := cfg.GetTargetPath(index, req, target.SuggestedFilename)
	if err != nil {
		return err
	}

	out.Emit(playlist_archiver.ItemStarted{Pass: 1, Index: index, Total: total, Request: req})
	success, err := downloader.Download(ctx, target, path, out)
	outcome := playlist_archiver.Outcome{Request: req}
	if err != nil {
		outcome.Failure = &playlist_archiver.Failure{Reason: err, Attempts: 1}
	} else {
		outcome.Success = &success
	}
	out.Emit(playlist_archiver.ItemFinished{Pass: 1, Index: index, Outcome: outcome})
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	logger.Infow("Download complete!", "path", success.FilePath, "bytes", success.BytesWritten, "elapsed", success.Elapsed)
	return nil
}
