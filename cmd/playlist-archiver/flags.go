package main

import (
	"github.com/urfave/cli/v2"

	"github.com/alanbriolat/playlist-archiver"
)

var (
	endpointFlag = &cli.StringFlag{
		Name:    "resolver-endpoint",
		Usage:   "resolution service `URL`",
		EnvVars: []string{"RESOLVER_ENDPOINT"},
	}
	apiKeyFlag = &cli.StringFlag{
		Name:    "api-key",
		Usage:   "YouTube Data API `KEY`; without one, playlists are listed from the public page",
		EnvVars: []string{"YOUTUBE_API_KEY"},
	}
	listerFlag = &cli.StringFlag{
		Name:  "lister",
		Usage: "force listing provider `NAME` instead of matching on the reference",
	}
	targetFlag = &cli.StringFlag{
		Name:  "target",
		Value: ".",
		Usage: "save downloaded videos to `DIR`",
	}
	failureLogFlag = &cli.StringFlag{
		Name:  "failure-log",
		Value: playlist_archiver.DefaultFailureLogPath,
		Usage: "write videos that still fail after retry to `FILE`",
	}
	historyFlag = &cli.StringFlag{
		Name:    "history",
		Usage:   "record runs in the database at `FILE`",
		EnvVars: []string{"PLAYLIST_ARCHIVER_HISTORY"},
	}
	transcriptFlag = &cli.StringFlag{
		Name:  "transcript",
		Usage: "save the run's log lines to `FILE`",
	}
	qualityFlag = &cli.StringFlag{
		Name:  "quality",
		Value: playlist_archiver.DefaultFormatOptions.VideoQuality,
		Usage: "requested video `QUALITY`",
	}
	codecFlag = &cli.StringFlag{
		Name:  "codec",
		Value: playlist_archiver.DefaultFormatOptions.VideoCodec,
		Usage: "requested video `CODEC`",
	}
	audioFormatFlag = &cli.StringFlag{
		Name:  "audio-format",
		Value: playlist_archiver.DefaultFormatOptions.AudioFormat,
		Usage: "requested audio `FORMAT`",
	}
	filenameStyleFlag = &cli.StringFlag{
		Name:  "filename-style",
		Value: playlist_archiver.DefaultFormatOptions.FilenameStyle,
		Usage: "filename `STYLE` suggested by the resolution service",
	}
	filenameTemplateFlag = &cli.StringFlag{
		Name:  "filename-template",
		Value: playlist_archiver.DefaultFileTemplate,
		Usage: "Go `TEMPLATE` for file names, with .Index, .Title and .Filename",
	}
	attemptsFlag = &cli.IntFlag{
		Name:  "attempts",
		Value: playlist_archiver.DefaultMaxAttempts,
		Usage: "download attempts per video per pass",
	}
	backoffFlag = &cli.DurationFlag{
		Name:  "backoff",
		Value: playlist_archiver.DefaultRetryBackoff,
		Usage: "pause between attempts",
	}
	timeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Value: playlist_archiver.DefaultConfig().RequestTimeout,
		Usage: "timeout for resolution and listing requests",
	}
)

func downloadFlags() []cli.Flag {
	return []cli.Flag{
		endpointFlag,
		apiKeyFlag,
		listerFlag,
		targetFlag,
		failureLogFlag,
		historyFlag,
		transcriptFlag,
		qualityFlag,
		codecFlag,
		audioFormatFlag,
		filenameStyleFlag,
		filenameTemplateFlag,
		attemptsFlag,
		backoffFlag,
		timeoutFlag,
	}
}

// configFromFlags builds and validates the run configuration.
func configFromFlags(c *cli.Context) (playlist_archiver.Config, error) {
	cfg := playlist_archiver.DefaultConfig()
	cfg.ResolverEndpoint = c.String(endpointFlag.Name)
	cfg.APIKey = c.String(apiKeyFlag.Name)
	cfg.Format = playlist_archiver.FormatOptions{
		VideoQuality:  c.String(qualityFlag.Name),
		VideoCodec:    c.String(codecFlag.Name),
		AudioFormat:   c.String(audioFormatFlag.Name),
		FilenameStyle: c.String(filenameStyleFlag.Name),
	}
	cfg.TargetDir = c.String(targetFlag.Name)
	cfg.FileTemplate = c.String(filenameTemplateFlag.Name)
	cfg.FailureLogPath = c.String(failureLogFlag.Name)
	cfg.HistoryPath = c.String(historyFlag.Name)
	cfg.MaxAttempts = c.Int(attemptsFlag.Name)
	cfg.RetryBackoff = c.Duration(backoffFlag.Name)
	cfg.RequestTimeout = c.Duration(timeoutFlag.Name)
	return cfg, cfg.Validate()
}
