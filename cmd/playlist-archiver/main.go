package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/alanbriolat/playlist-archiver"
	"github.com/alanbriolat/playlist-archiver/download"
	"github.com/alanbriolat/playlist-archiver/internal/batch"
	"github.com/alanbriolat/playlist-archiver/internal/boltdb"
	"github.com/alanbriolat/playlist-archiver/internal/failurelog"
	"github.com/alanbriolat/playlist-archiver/internal/session"
	"github.com/alanbriolat/playlist-archiver/internal/sink"
	"github.com/alanbriolat/playlist-archiver/listing/dataapi"
	"github.com/alanbriolat/playlist-archiver/listing/youtube"
	"github.com/alanbriolat/playlist-archiver/resolver"
)

func main() {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.Level.SetLevel(zapcore.InfoLevel)
	logger, err := config.Build()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logger.Sync()
	zap.RedirectStdLog(logger)
	zap.ReplaceGlobals(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = playlist_archiver.WithLogger(ctx, logger)

	app := &cli.App{
		Name:  "playlist-archiver",
		Usage: "download every video in a playlist through a resolution service",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("verbose") {
				config.Level.SetLevel(zapcore.DebugLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "fetch",
				Usage:     "download a playlist, retrying failures once",
				ArgsUsage: "PLAYLIST",
				Flags:     downloadFlags(),
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("expected exactly one playlist URL or ID", 2)
					}
					return fetch(ctx, cancel, c, c.Args().First(), c.String(listerFlag.Name))
				},
			},
			{
				Name:      "retry",
				Usage:     "download the videos listed in a failure log",
				ArgsUsage: "[FILE]",
				Flags:     downloadFlags(),
				Action: func(c *cli.Context) error {
					ref := c.Args().First()
					if ref == "" {
						ref = c.String(failureLogFlag.Name)
					}
					return fetch(ctx, cancel, c, ref, failurelog.ProviderName)
				},
			},
			{
				Name:  "history",
				Usage: "show recorded runs",
				Flags: []cli.Flag{
					historyFlag,
					&cli.IntFlag{
						Name:  "limit",
						Value: 10,
						Usage: "show at most `N` runs",
					},
				},
				ArgsUsage: "[RUN_ID]",
				Action:    history,
			},
		},
		HideHelpCommand: true,
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Fatal(err.Error())
	}
}

func newRegistry(cfg playlist_archiver.Config) (*playlist_archiver.ListerRegistry, error) {
	registry := &playlist_archiver.ListerRegistry{}
	if err := registry.Add(failurelog.Provider()); err != nil {
		return nil, err
	}
	if cfg.APIKey != "" {
		if err := registry.Add(dataapi.Provider(cfg.APIKey)); err != nil {
			return nil, err
		}
	}
	if err := registry.Add(youtube.Provider(cfg.RequestTimeout)); err != nil {
		return nil, err
	}
	return registry, nil
}

// matchLister picks the provider for ref, or the named one if name is set.
func matchLister(registry *playlist_archiver.ListerRegistry, ref string, name string) (*playlist_archiver.ListerMatch, error) {
	var match *playlist_archiver.ListerMatch
	var err error
	if name != "" {
		match, err = registry.MatchWith(name, ref)
	} else {
		match, err = registry.Match(ref)
	}
	if errors.Is(err, playlist_archiver.ErrUnknownProvider) {
		return nil, fmt.Errorf("%w (available: %s)", err, strings.Join(registry.List(), ", "))
	} else if err != nil {
		return nil, fmt.Errorf("match failed: %w", err)
	}
	return match, nil
}

func fetch(ctx context.Context, cancel context.CancelFunc, c *cli.Context, ref string, listerName string) (err error) {
	logger := zap.S()
	cfg, err := configFromFlags(c)
	if err != nil {
		return err
	}

	registry, err := newRegistry(cfg)
	if err != nil {
		return err
	}
	match, err := matchLister(registry, ref, listerName)
	if err != nil {
		return err
	}
	logger.Debugw("matched listing provider", "provider", match.ProviderName, "ref", ref)

	res, err := resolver.New(cfg.ResolverEndpoint, resolver.WithFormat(cfg.Format), resolver.WithTimeout(cfg.RequestTimeout))
	if err != nil {
		return err
	}
	downloader := download.New(download.WithChunkSize(cfg.ChunkSize), download.WithPlaceholderTotal(cfg.PlaceholderTotal))

	opts := []batch.Option{batch.WithFailureStore(failurelog.New(cfg.FailureLogPath))}
	if cfg.HistoryPath != "" {
		db, err := boltdb.New(cfg.HistoryPath)
		if err != nil {
			return err
		}
		defer db.Close()
		opts = append(opts, batch.WithHistory(db))
	}

	console := sink.NewAsync(sink.NewConsole(os.Stdout, logger.Named("batch")), sink.DefaultAsyncBufSize)
	transcript := sink.NewTranscript()
	out := sink.Tee{console, transcript}
	opts = append(opts, batch.WithSink(out))
	defer func() {
		console.Close()
		if path := c.String(transcriptFlag.Name); path != "" {
			if saveErr := transcript.Save(path); saveErr != nil {
				logger.Errorf("failed to save transcript: %v", saveErr)
			} else {
				logger.Infof("Transcript saved to %s", path)
			}
		}
	}()

	ses := session.New(batch.New(cfg, res, downloader, opts...), out)
	if err := ses.Start(ctx, match.Lister, ref); err != nil {
		return err
	}
	report, err := wait(ses, cancel)
	if err != nil {
		return err
	}
	if len(report.Failed) > 0 {
		return cli.Exit(fmt.Sprintf("%d videos failed, see %s", len(report.Failed), cfg.FailureLogPath), 1)
	}
	return nil
}

// wait runs until the session finishes. The first interrupt lets the current video finish, the second cancels it.
func wait(ses *session.Session, cancel context.CancelFunc) (*batch.Report, error) {
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt)
	defer signal.Stop(signals)
	for {
		select {
		case <-ses.Done():
			return ses.Wait()
		case <-signals:
			if ses.StopRequested() {
				zap.S().Warn("Interrupted again, cancelling the current download")
				cancel()
			} else {
				ses.Stop()
			}
		}
	}
}

func history(c *cli.Context) error {
	path := c.String(historyFlag.Name)
	if path == "" {
		return cli.Exit("--history is required", 2)
	}
	db, err := boltdb.New(path)
	if err != nil {
		return err
	}
	defer db.Close()

	if id := c.Args().First(); id != "" {
		run, err := db.GetRun(id)
		if err != nil {
			return err
		}
		printRun(run)
		for _, pass := range run.Passes {
			fmt.Printf("  pass %d: %d succeeded, %d failed, %d skipped, %d not started\n",
				pass.Number, len(pass.Succeeded), len(pass.Failed), pass.Skipped, pass.Remaining)
			for _, f := range pass.Failed {
				fmt.Printf("    %s (%s): %s\n", f.Title, f.URL, f.Error)
			}
			for _, title := range pass.Recovered {
				fmt.Printf("    recovered: %s\n", title)
			}
		}
		return nil
	}

	runs, err := db.ListRuns(c.Int("limit"))
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
	}
	for i := range runs {
		printRun(&runs[i])
	}
	return nil
}

func printRun(run *batch.RunRecord) {
	failed := 0
	if n := len(run.Passes); n > 0 {
		failed = len(run.Passes[n-1].Failed)
	}
	status := "finished"
	if run.Stopped {
		status = "stopped"
	} else if run.FinishedAt.IsZero() {
		status = "incomplete"
	}
	fmt.Printf("%s  %s  %-10s passes=%d failed=%d  %s\n",
		run.ID, run.StartedAt.Format(time.DateTime), status, len(run.Passes), failed, run.Playlist)
}
