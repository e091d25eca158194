/*
Package cmd provides the abctrawl command-line binary: one executable with a
subcommand per process role (dispatch, fetch, parse, index, supervise) plus
operational subcommands (seed, schema, inspect, reset), following the single
cobra command tree dankinder-walker/cmd/cmd.go builds over its crawl/fetch/
dispatch/seed/schema/console commands.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/abctrawl/abctrawl"
	"github.com/abctrawl/abctrawl/store"
	"github.com/abctrawl/abctrawl/supervisor"
)

// Streams holds the i/o functions the test harness can override, mirroring
// dankinder-walker/cmd's CommanderStreams: tests spoof these instead of real
// stdout/stderr/os.Exit so command output can be asserted on without process
// tricks.
type Streams struct {
	Printf func(format string, args ...interface{})
	Errorf func(format string, args ...interface{})
	Exit   func(status int)
}

var streams = Streams{
	Printf: func(format string, args ...interface{}) { fmt.Printf(format, args...) },
	Errorf: func(format string, args ...interface{}) { fmt.Fprintf(os.Stderr, format, args...) },
	Exit:   os.Exit,
}

// SetStreams overrides the package-level i/o used by every command, for
// tests.
func SetStreams(s Streams) { streams = s }

var configPath string

var rootCommand = &cobra.Command{
	Use:   "abctrawl",
	Short: "Crawl the web for ABC music notation and index tunes by melodic shape",
}

func init() {
	rootCommand.PersistentFlags().StringVar(&configPath, "config", "", "path to abctrawl.yaml")
	rootCommand.AddCommand(dispatchCommand, fetchCommand, parseCommand, indexCommand,
		superviseCommand, seedCommand, schemaCommand, inspectCommand, resetCommand)
}

// Execute runs the CLI, blocking until the invoked subcommand returns or the
// process receives SIGINT/SIGTERM.
func Execute() {
	if err := rootCommand.Execute(); err != nil {
		streams.Errorf("%v\n", err)
		streams.Exit(1)
	}
}

func loadConfig() {
	if configPath != "" {
		if err := abctrawl.ReadConfigFile(configPath); err != nil {
			streams.Errorf("config error: %v\n", err)
			streams.Exit(1)
		}
	}
}

func openStore() *store.Store {
	st, err := store.Open(abctrawl.Config.DatabasePath)
	if err != nil {
		streams.Errorf("open store: %v\n", err)
		streams.Exit(1)
	}
	return st
}

// waitForSignal blocks until SIGINT or SIGTERM, then calls stop and returns.
func waitForSignal(stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	stop()
}

var dispatchCommand = &cobra.Command{
	Use:   "dispatch",
	Short: "Run the dispatcher: the single process owning all crawl scheduling decisions",
	Run: func(cmd *cobra.Command, args []string) {
		loadConfig()
		st := openStore()
		defer st.Close()

		d := abctrawl.NewDispatcher(st)
		ctx := context.Background()
		if err := d.Start(ctx); err != nil {
			streams.Errorf("dispatcher failed to start: %v\n", err)
			streams.Exit(1)
		}
		streams.Printf("dispatcher listening on :%d\n", abctrawl.Config.DispatcherPort)
		waitForSignal(d.Stop)
	},
}

var fetchCommand = &cobra.Command{
	Use:   "fetch",
	Short: "Run a Fetcher worker connecting to a dispatcher",
	Run: func(cmd *cobra.Command, args []string) {
		loadConfig()
		runWorker(abctrawl.WorkFetch, func() (abctrawl.WorkFunc, error) {
			client, err := abctrawl.NewDefaultFetchClient(8, "abctrawlbot/1.0")
			if err != nil {
				return nil, err
			}
			return abctrawl.FetchWorkFunc(client), nil
		})
	},
}

var parseCommand = &cobra.Command{
	Use:   "parse",
	Short: "Run a Parser worker connecting to a dispatcher",
	Run: func(cmd *cobra.Command, args []string) {
		loadConfig()
		runWorker(abctrawl.WorkParse, func() (abctrawl.WorkFunc, error) {
			return abctrawl.ParseWorkFunc(abctrawl.DefaultParse), nil
		})
	},
}

var indexCommand = &cobra.Command{
	Use:   "index",
	Short: "Run an Indexer worker connecting to a dispatcher",
	Run: func(cmd *cobra.Command, args []string) {
		loadConfig()
		runWorker(abctrawl.WorkIndex, func() (abctrawl.WorkFunc, error) {
			return abctrawl.IndexWorkFunc(abctrawl.DefaultIndex), nil
		})
	},
}

func runWorker(role abctrawl.WorkKind, build func() (abctrawl.WorkFunc, error)) {
	do, err := build()
	if err != nil {
		streams.Errorf("worker setup failed: %v\n", err)
		streams.Exit(1)
	}
	addr := fmt.Sprintf("127.0.0.1:%d", abctrawl.Config.DispatcherPort)
	w := abctrawl.NewWorker(role, fmt.Sprintf("%s-%d", role, os.Getpid()), addr, do)

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigs:
		w.Stop()
		<-done
	case err := <-done:
		if err != nil {
			streams.Errorf("worker exited: %v\n", err)
			streams.Exit(1)
		}
	}
}

var superviseCommand = &cobra.Command{
	Use:   "supervise",
	Short: "Run the supervisor HTTP control surface",
	Run: func(cmd *cobra.Command, args []string) {
		loadConfig()
		st := openStore()
		defer st.Close()

		sup := supervisor.New(st)
		addr := fmt.Sprintf(":%d", abctrawl.Config.Supervisor.Port)
		streams.Printf("supervisor listening on %s\n", addr)
		if err := sup.ListenAndServe(addr); err != nil {
			streams.Errorf("supervisor failed: %v\n", err)
			streams.Exit(1)
		}
	},
}

var seedCommand = &cobra.Command{
	Use:   "seed [url]",
	Short: "Insert a seed URL into the crawl",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		loadConfig()
		st := openStore()
		defer st.Close()

		raw := args[0]
		normalized, err := abctrawl.NormalizeURL(raw)
		if err != nil {
			streams.Errorf("invalid url %q: %v\n", raw, err)
			streams.Exit(1)
		}
		host, err := abctrawl.ExtractHost(normalized)
		if err != nil {
			streams.Errorf("could not determine host for %q: %v\n", normalized, err)
			streams.Exit(1)
		}
		ext := abctrawl.URLExtension(normalized)

		id, err := st.InsertURL(context.Background(), normalized, host, ext, 0, time.Now())
		if err != nil {
			streams.Errorf("seed failed: %v\n", err)
			streams.Exit(1)
		}
		streams.Printf("seeded url %d: %s\n", id, normalized)
	},
}

var schemaCommand = &cobra.Command{
	Use:   "schema",
	Short: "Create the database schema if it does not already exist",
	Run: func(cmd *cobra.Command, args []string) {
		loadConfig()
		st := openStore()
		defer st.Close()
		streams.Printf("schema ensured at %s\n", abctrawl.Config.DatabasePath)
	},
}

var inspectCommand = &cobra.Command{
	Use:   "inspect [id]",
	Short: "Print the stored state of a single URL by id",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		loadConfig()
		st := openStore()
		defer st.Close()

		var id int64
		if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
			streams.Errorf("invalid url id %q\n", args[0])
			streams.Exit(1)
		}
		u, err := st.GetURL(context.Background(), id)
		if err != nil {
			streams.Errorf("lookup failed: %v\n", err)
			streams.Exit(1)
		}
		if u == nil {
			streams.Printf("no url with id %d\n", id)
			return
		}
		streams.Printf("id=%d url=%s host=%s status=%s retries=%d http_status=%d mime=%s\n",
			u.ID, u.URL, u.Host, u.Status, u.Retries, u.HTTPStatus, u.MimeType)
	},
}

var resetCommand = &cobra.Command{
	Use:   "reset",
	Short: "Revert every in-flight url to its pre-claim status (the same recovery the dispatcher runs at startup)",
	Run: func(cmd *cobra.Command, args []string) {
		loadConfig()
		st := openStore()
		defer st.Close()

		n, err := st.ResetOnStartup(context.Background())
		if err != nil {
			streams.Errorf("reset failed: %v\n", err)
			streams.Exit(1)
		}
		streams.Printf("reclaimed %d in-flight urls\n", n)
	},
}
