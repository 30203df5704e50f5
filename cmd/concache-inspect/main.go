package main

// main.go implements the concache inspector CLI: it parses command-line
// flags, fetches diagnostic data from a target process exposing the
// concache debug endpoint, and prints it either as pretty text or JSON. It
// also supports periodic watch mode and pprof snapshot download.
//
// The target Go service is expected to expose:
//   • GET /debug/concache/snapshot      – JSON payload with cache statistics.
//   • GET /debug/pprof/{heap,goroutine} – standard pprof handlers (net/http/pprof).
//
// The snapshot object is intentionally generic; we decode into map[string]any
// to avoid version skew between CLI and library.
//
// © 2025 concache authors. MIT License.

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
)

var version = "dev"

type options struct {
	target           string
	watch            bool
	interval         time.Duration
	json             bool
	version          bool
	heapProfile      string
	goroutineProfile string
}

func parseFlags() *options {
	opts := &options{}
	flag.StringVar(&opts.target, "target", "http://localhost:6060", "base URL of the process to inspect")
	flag.BoolVar(&opts.watch, "watch", false, "poll the snapshot endpoint repeatedly")
	flag.DurationVar(&opts.interval, "interval", 2*time.Second, "poll interval when -watch is set")
	flag.BoolVar(&opts.json, "json", false, "print the raw JSON snapshot instead of a formatted summary")
	flag.BoolVar(&opts.version, "version", false, "print the CLI version and exit")
	flag.StringVar(&opts.heapProfile, "heap-profile", "", "download /debug/pprof/heap to this path and exit")
	flag.StringVar(&opts.goroutineProfile, "goroutine-profile", "", "download /debug/pprof/goroutine to this path and exit")
	flag.Parse()
	return opts
}

func main() {
	opts := parseFlags()

	if opts.version {
		fmt.Println(version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if opts.heapProfile != "" {
		if err := downloadProfile(ctx, opts.target, "heap", opts.heapProfile); err != nil {
			fatal(err)
		}
		return
	}
	if opts.goroutineProfile != "" {
		if err := downloadProfile(ctx, opts.target, "goroutine", opts.goroutineProfile); err != nil {
			fatal(err)
		}
		return
	}

	if opts.watch {
		ticker := time.NewTicker(opts.interval)
		defer ticker.Stop()
		for {
			if err := dumpOnce(ctx, opts); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
			select {
			case <-ticker.C:
				continue
			case <-ctx.Done():
				return
			}
		}
	}

	if err := dumpOnce(ctx, opts); err != nil {
		fatal(err)
	}
}

func dumpOnce(ctx context.Context, opts *options) error {
	snap, err := fetchSnapshot(ctx, opts.target)
	if err != nil {
		return err
	}

	if opts.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return prettyPrint(snap)
}

func fetchSnapshot(ctx context.Context, base string) (map[string]any, error) {
	url := base + "/debug/concache/snapshot"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", res.Status)
	}
	var data map[string]any
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

// prettyPrint formats the well-known snapshot fields (size, hits_total,
// misses_total, evictions_total, shards); unrecognized fields are ignored
// rather than rejected so
// the CLI stays usable against older or newer library versions.
func prettyPrint(data map[string]any) error {
	fmt.Printf("Entries:    %s\n", humanize.Comma(int64(toFloat(data["size"]))))
	fmt.Printf("Hits:       %s\n", humanize.Comma(int64(toFloat(data["hits_total"]))))
	fmt.Printf("Misses:     %s\n", humanize.Comma(int64(toFloat(data["misses_total"]))))
	fmt.Printf("Evictions:  %s\n", humanize.Comma(int64(toFloat(data["evictions_total"]))))
	fmt.Printf("Shards:     %s\n", humanize.Comma(int64(toFloat(data["shards"]))))
	return nil
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	default:
		return 0
	}
}

func downloadProfile(ctx context.Context, base, name, path string) error {
	url := fmt.Sprintf("%s/debug/pprof/%s", base, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", res.Status)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, res.Body); err != nil {
		return err
	}
	fmt.Printf("%s profile saved to %s\n", name, path)
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "concache-inspect:", err)
	os.Exit(1)
}
