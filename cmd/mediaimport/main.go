// Command mediaimport uploads local files into a project the same way the
// HTTP API does, but waits for each file to be stored and recorded.
//
//	mediaimport -project project1 -user alice [-override] [server flags] file...
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dmitrijs2005/ishlearn/internal/flagx"
	"github.com/dmitrijs2005/ishlearn/internal/logging"
	"github.com/dmitrijs2005/ishlearn/internal/server"
	"github.com/dmitrijs2005/ishlearn/internal/server/config"
	"github.com/dmitrijs2005/ishlearn/internal/server/media"
	"github.com/prometheus/client_golang/prometheus"
)

var importFlags = []string{"-project", "-user", "-override"}

type importOptions struct {
	project  string
	user     string
	override bool
	files    []string
}

func parseArgs(args []string) (importOptions, []string, error) {
	own, rest := flagx.SplitArgs(args, importFlags)

	var opts importOptions
	fs := flag.NewFlagSet("mediaimport", flag.ContinueOnError)
	fs.StringVar(&opts.project, "project", "", "project id the files belong to")
	fs.StringVar(&opts.user, "user", "", "user the files are imported as")
	fs.BoolVar(&opts.override, "override", false, "replace files that already exist")
	if err := fs.Parse(own); err != nil {
		return opts, nil, err
	}

	// a bare -override may have swallowed the first file as its value
	_, positional := flagx.SplitArgs(rest, append([]string{"-c", "-config"}, config.ServerFlags...))
	opts.files = append(fs.Args(), positional...)

	if opts.project == "" || opts.user == "" {
		return opts, nil, errors.New("-project and -user are required")
	}
	if len(opts.files) == 0 {
		return opts, nil, errors.New("no files given")
	}
	return opts, rest, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	opts, rest, err := parseArgs(args)
	if err != nil {
		return err
	}
	cfg := config.LoadConfigFromArgs(rest)
	logger := logging.NewJSONLogger(os.Stderr, slog.LevelInfo)

	db, rm, store, err := server.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	comps, err := server.NewComponents(ctx, cfg, db, rm, store, prometheus.NewRegistry(), logger)
	if err != nil {
		return err
	}

	var failed int
	for _, path := range opts.files {
		id, err := importFile(ctx, comps.Service, opts, path)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			continue
		}
		fmt.Printf("%s -> media %d\n", path, id)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(opts.files))
	}
	return nil
}

func importFile(ctx context.Context, svc *media.Service, opts importOptions, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	return svc.UploadAndWait(ctx, media.UploadRequest{
		ProductID: opts.project,
		Filename:  filepath.Base(path),
		Principal: opts.user,
		Override:  opts.override,
	}, f)
}
