// Command cachectl inspects and maintains the service's cache file: resource
// entries, the pending sync queue and the history. It can also tail the
// Kafka topic pending items are replayed to.
//
// Usage:
//
//	go run ./cmd/cachectl [-db data/agrodecision.db] <command> [flags]
//
// Commands:
//
//	stats                          entry, pending and history counts
//	key -kind climate -lat -lon    print the cache key for a data kind
//	get -key K                     print one cached entry
//	clear                          drop every cached resource
//	pending                        list queued sync items, oldest first
//	history [-limit N]             list history entries, newest first
//	tail -brokers B [-topic T] [-n N]  print replayed items from Kafka
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	kafkaadapter "github.com/couchcryptid/agrodecision-cache/internal/adapter/kafka"
	"github.com/couchcryptid/agrodecision-cache/internal/domain"
	"github.com/couchcryptid/agrodecision-cache/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("cachectl", flag.ContinueOnError)
	global.SetOutput(stderr)
	dbPath := global.String("db", sharedcfg.EnvOrDefault("CACHE_PATH", "data/agrodecision.db"), "cache database path")
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		fmt.Fprintln(stderr, "usage: cachectl [-db path] stats|key|get|clear|pending|history|tail [flags]")
		return 2
	}
	cmd, rest := global.Arg(0), global.Args()[1:]

	// Commands that do not touch the database.
	switch cmd {
	case "key":
		return fail(stderr, cmdKey(rest, stdout, stderr))
	case "tail":
		return fail(stderr, cmdTail(ctx, rest, stdout, stderr))
	}

	backend, err := store.OpenSQLite(*dbPath, store.Options{})
	if err != nil {
		fmt.Fprintf(stderr, "FATAL: open %s: %v\n", *dbPath, err)
		return 1
	}
	defer backend.Close()

	switch cmd {
	case "stats":
		err = cmdStats(ctx, backend, stdout)
	case "get":
		err = cmdGet(ctx, backend, rest, stdout, stderr)
	case "clear":
		err = cmdClear(ctx, backend, stdout)
	case "pending":
		err = cmdPending(ctx, backend, stdout)
	case "history":
		err = cmdHistory(ctx, backend, rest, stdout, stderr)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	return fail(stderr, err)
}

func fail(stderr io.Writer, err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 2
	default:
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
}

func cmdStats(ctx context.Context, b *store.SQLite, out io.Writer) error {
	entries, err := b.Len(ctx)
	if err != nil {
		return err
	}
	pending, err := b.PendingCount(ctx)
	if err != nil {
		return err
	}
	history, err := b.List(ctx, 0)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "entries: %d\npending: %d\nhistory: %d\n", entries, pending, len(history))
	return nil
}

func cmdKey(args []string, out, stderr io.Writer) error {
	fs := flag.NewFlagSet("key", flag.ContinueOnError)
	fs.SetOutput(stderr)
	kind := fs.String("kind", string(domain.KindClimate), "data kind")
	lat := fs.Float64("lat", 0, "latitude")
	lon := fs.Float64("lon", 0, "longitude")
	if err := fs.Parse(args); err != nil {
		return err
	}
	k, err := domain.ParseKind(*kind)
	if err != nil {
		return err
	}
	c := domain.Coordinates{Lat: *lat, Lon: *lon}
	if err := c.Validate(); err != nil {
		return err
	}
	fmt.Fprintln(out, domain.ResourceKey(k, c))
	return nil
}

func cmdGet(ctx context.Context, b *store.SQLite, args []string, out, stderr io.Writer) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	fs.SetOutput(stderr)
	key := fs.String("key", "", "cache key or resource URL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" {
		return errors.New("get: -key is required")
	}
	e, err := b.Get(ctx, *key)
	if err != nil {
		return fmt.Errorf("get %s: %w", *key, err)
	}
	fmt.Fprintf(out, "key:          %s\ncontent-type: %s\nstored-at:    %s\nsize:         %d\n\n",
		e.Key, e.ContentType, e.StoredAt.UTC().Format(time.RFC3339), len(e.Value))
	out.Write(e.Value) //nolint:errcheck // terminal output
	fmt.Fprintln(out)
	return nil
}

func cmdClear(ctx context.Context, b *store.SQLite, out io.Writer) error {
	n, err := b.Len(ctx)
	if err != nil {
		return err
	}
	if err := b.Clear(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "cleared %d entries\n", n)
	return nil
}

func cmdPending(ctx context.Context, b *store.SQLite, out io.Writer) error {
	items, err := b.Pending(ctx, 0)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return err
		}
	}
	return nil
}

func cmdHistory(ctx context.Context, b *store.SQLite, args []string, out, stderr io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(stderr)
	limit := fs.Int("limit", 0, "maximum entries (0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	entries, err := b.List(ctx, *limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

func cmdTail(ctx context.Context, args []string, out, stderr io.Writer) error {
	fs := flag.NewFlagSet("tail", flag.ContinueOnError)
	fs.SetOutput(stderr)
	brokers := fs.String("brokers", os.Getenv("KAFKA_BROKERS"), "comma-separated Kafka brokers")
	topic := fs.String("topic", sharedcfg.EnvOrDefault("KAFKA_SYNC_TOPIC", "agrodecision-sync"), "sync topic")
	n := fs.Int("n", 0, "stop after n items (0 = follow)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	list := sharedcfg.ParseBrokers(*brokers)
	if len(list) == 0 {
		return errors.New("tail: -brokers or KAFKA_BROKERS is required")
	}

	reader := kafkaadapter.NewReader(list, *topic, "")
	defer reader.Close()

	enc := json.NewEncoder(out)
	for read := 0; *n == 0 || read < *n; read++ {
		item, err := reader.ReadItem(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := enc.Encode(item); err != nil {
			return err
		}
	}
	return nil
}
