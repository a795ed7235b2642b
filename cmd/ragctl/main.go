package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/lecturedocs/internal/app"
	"github.com/seanblong/lecturedocs/internal/config"
	"github.com/seanblong/lecturedocs/internal/jobs"
	"github.com/seanblong/lecturedocs/pkg/models"
	"github.com/spf13/pflag"
)

const usage = `usage: ragctl [flags] <command> [args]

commands:
  upload [--project-name N] [--description D] [--url U] [paths...]
  status <jobID>
  regenerate <projectID>
  ask [--history FILE] <projectID> <question...>
  search [--top-k K] <projectID> <query...>

flags:
`

func main() {
	fs := pflag.NewFlagSet("ragctl", pflag.ExitOnError)
	projectName := fs.String("project-name", "", "Project name for upload (defaults to the video title or upload-<date>)")
	description := fs.String("description", "", "Project description for upload")
	videoURL := fs.String("url", "", "Video URL to transcribe and upload")
	historyFile := fs.String("history", "", "JSON file with prior chat turns for ask")
	topK := fs.IntP("top-k", "k", 5, "Number of results for search")

	cfg, err := config.Load("", fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		cfg.Usage()
	}
	if err := app.SetupLogging(cfg.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	args := fs.Args()
	if len(args) == 0 {
		fs.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build pipeline")
	}
	defer a.Close()

	out, err := run(ctx, a, args[0], args[1:], options{
		projectName: *projectName,
		description: *description,
		url:         *videoURL,
		historyFile: *historyFile,
		topK:        *topK,
	})
	if errors.Is(err, errUsage) {
		fmt.Fprintln(os.Stderr, err)
		fs.Usage()
		a.Close()
		os.Exit(2)
	}
	if err != nil {
		a.Close()
		log.Fatal().Err(err).Str("command", args[0]).Msg("command failed")
	}
	printJSON(out)
}

var errUsage = errors.New("invalid usage")

type options struct {
	projectName string
	description string
	url         string
	historyFile string
	topK        int
}

func run(ctx context.Context, a *app.App, cmd string, args []string, opt options) (any, error) {
	needIntake := func() error {
		if a.Intake == nil {
			return app.ErrNoDatabase
		}
		return nil
	}

	switch cmd {
	case "upload":
		if err := needIntake(); err != nil {
			return nil, err
		}
		return a.Intake.SubmitUpload(ctx, jobs.UploadRequest{
			ProjectName: opt.projectName,
			Description: opt.description,
			Paths:       args,
			URL:         opt.url,
		})

	case "status":
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: status takes one job id", errUsage)
		}
		if err := needIntake(); err != nil {
			return nil, err
		}
		return a.Intake.Status(ctx, args[0])

	case "regenerate":
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: regenerate takes one project id", errUsage)
		}
		if err := needIntake(); err != nil {
			return nil, err
		}
		return a.Intake.SubmitRegenerate(ctx, args[0])

	case "ask":
		if len(args) < 2 {
			return nil, fmt.Errorf("%w: ask takes a project id and a question", errUsage)
		}
		history, err := loadHistory(opt.historyFile)
		if err != nil {
			return nil, err
		}
		return a.RAG.Answer(ctx, args[0], strings.Join(args[1:], " "), history)

	case "search":
		if len(args) < 2 {
			return nil, fmt.Errorf("%w: search takes a project id and a query", errUsage)
		}
		return a.RAG.Search(ctx, args[0], strings.Join(args[1:], " "), opt.topK)
	}
	return nil, fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func loadHistory(path string) ([]models.ChatTurn, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	var turns []models.ChatTurn
	if err := json.Unmarshal(b, &turns); err != nil {
		return nil, fmt.Errorf("decode history %s: %w", path, err)
	}
	return turns, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("encode output")
	}
}
