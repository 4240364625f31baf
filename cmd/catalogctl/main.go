// Command catalogctl checks the model catalog on disk and announces changes
// to running search instances.
//
// Usage:
//
//	catalogctl [-config file] validate [-data dir]
//	catalogctl [-config file] publish [-data dir] [-source name]
//
// validate loads the catalog, prints its version and every consistency
// problem, and exits 1 when there are problems. publish runs the same checks
// and, if the catalog loads, sends a catalog-updated event to Kafka so that
// every search instance reloads it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OpenModelDB/model-search/internal/catalog"
	"github.com/OpenModelDB/model-search/internal/searcher"
	"github.com/OpenModelDB/model-search/pkg/config"
	"github.com/OpenModelDB/model-search/pkg/kafka"
	"github.com/OpenModelDB/model-search/pkg/logger"
)

// exitProblems is returned when the catalog loads but is inconsistent.
const exitProblems = 1

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "usage: catalogctl [-config file] validate|publish [flags]")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, "text")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := 2
	switch cmd, args := flag.Arg(0), flag.Args()[1:]; cmd {
	case "validate":
		code = runValidate(ctx, cfg, args, os.Stdout)
	case "publish":
		code = runPublish(ctx, cfg, args, os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		flag.Usage()
	}
	stop()
	os.Exit(code)
}

func runValidate(ctx context.Context, cfg *config.Config, args []string, out io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	dataDir := fs.String("data", cfg.Catalog.DataDir, "catalog directory")
	_ = fs.Parse(args)

	cat, code := check(ctx, *dataDir, out)
	if cat == nil {
		return 1
	}
	return code
}

func runPublish(ctx context.Context, cfg *config.Config, args []string, out io.Writer) int {
	fs := flag.NewFlagSet("publish", flag.ExitOnError)
	dataDir := fs.String("data", cfg.Catalog.DataDir, "catalog directory")
	source := fs.String("source", "catalogctl", "free-form origin recorded in the event")
	_ = fs.Parse(args)

	cat, _ := check(ctx, *dataDir, out)
	if cat == nil {
		return 1
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.CatalogUpdated)
	defer producer.Close()
	event := searcher.CatalogUpdated{Version: cat.Version, Source: *source, Timestamp: time.Now().UTC()}
	if err := producer.Publish(ctx, kafka.Event{Key: "catalog", Value: event}); err != nil {
		fmt.Fprintf(os.Stderr, "publishing catalog update: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "published version %s to %s\n", cat.Version, cfg.Kafka.Topics.CatalogUpdated)
	return 0
}

// check loads and validates the catalog in dir, reporting to out. It returns
// nil if the catalog cannot be loaded at all.
func check(ctx context.Context, dir string, out io.Writer) (*catalog.Catalog, int) {
	cat, err := catalog.LoadDir(ctx, dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading catalog from %s: %v\n", dir, err)
		return nil, 1
	}
	fmt.Fprintf(out, "catalog %s: %d models, %d users, %d tags, version %s\n",
		dir, len(cat.Models), len(cat.Users), len(cat.Tags), cat.Version)

	if err := catalog.Validate(cat); err != nil {
		var verr *catalog.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(out, "%d problems:\n%s\n", verr.Count(), verr.Error())
			return cat, exitProblems
		}
		fmt.Fprintf(os.Stderr, "validating catalog: %v\n", err)
		return cat, 1
	}
	fmt.Fprintln(out, "no problems found")
	return cat, 0
}
