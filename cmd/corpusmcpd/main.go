// Command corpusmcpd runs the corpus MCP server: a read-only knowledge
// corpus (books, news, forum posts) exposed to AI assistants through
// the Model Context Protocol, over either the line transport (stdio) or
// the streaming HTTP transport with its OAuth 2.1 authorization
// subsystem. Configuration is loaded from environment variables; see
// internal/config for the recognized keys.
//
// Grounded on the teacher's cmd/contextd/{main,stdio}.go: flag parsing,
// signal-driven shutdown context, a dependencies struct with Close(),
// and a version subcommand. The teacher's NATS/Qdrant/embeddings
// infrastructure wiring is replaced with this module's own
// search.Backend/session/engine/transport wiring.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fyrsmithlabs/corpusmcp/internal/config"
	"github.com/fyrsmithlabs/corpusmcp/internal/corpustools"
	"github.com/fyrsmithlabs/corpusmcp/internal/httpapi"
	"github.com/fyrsmithlabs/corpusmcp/internal/logging"
	"github.com/fyrsmithlabs/corpusmcp/internal/mcpsession"
	"github.com/fyrsmithlabs/corpusmcp/internal/oauth"
	"github.com/fyrsmithlabs/corpusmcp/internal/promptregistry"
	"github.com/fyrsmithlabs/corpusmcp/internal/protocol"
	"github.com/fyrsmithlabs/corpusmcp/internal/search"
	"github.com/fyrsmithlabs/corpusmcp/internal/toolregistry"
	"github.com/fyrsmithlabs/corpusmcp/internal/transport/sse"
	"github.com/fyrsmithlabs/corpusmcp/internal/transport/stdio"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  corpusmcpd           Start the server (TRANSPORT=http|stdio)\n")
			fmt.Fprintf(os.Stderr, "  corpusmcpd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx); err != nil && !isExpectedShutdown(err) {
		log.Fatalf("server error: %v", err)
	}
	log.Println("server shutdown complete")
}

// isExpectedShutdown reports whether err is the signal-driven shutdown
// path's own sentinel rather than a genuine failure: the stdio
// transport returns ctx.Err() on cancellation, and the HTTP facade
// returns http.ErrServerClosed once its own graceful Shutdown succeeds.
func isExpectedShutdown(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed)
}

func printVersion() {
	fmt.Printf("corpusmcpd\n")
	fmt.Printf("Version: %s\n", version)
	fmt.Printf("Commit:  %s\n", gitCommit)
}

// run wires every component in dependency order (§2 of the
// specification this binary implements: search backend, tool/prompt
// registries, protocol engine, session manager, transport, and — for
// the HTTP transport only — the authorization subsystem and facade)
// and blocks until ctx is canceled.
func run(ctx context.Context) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	backend, err := search.NewFromIndexPath(cfg.Search.IndexPath, nil)
	if err != nil {
		return fmt.Errorf("initializing search backend: %w", err)
	}
	defer func() { _ = backend.Close() }()

	tools, err := buildTools(backend, logger)
	if err != nil {
		return fmt.Errorf("building tool registry: %w", err)
	}
	prompts, err := buildPrompts()
	if err != nil {
		return fmt.Errorf("building prompt registry: %w", err)
	}

	engine := protocol.NewEngine(tools, prompts, logger)
	sessions := mcpsession.NewManager(cfg.Session.IdleTimeout, logger)
	defer sessions.Stop()

	switch cfg.Transport {
	case config.TransportStdio:
		return runStdio(ctx, engine, sessions, logger)
	default:
		return runHTTP(ctx, cfg, engine, sessions, logger)
	}
}

func buildTools(backend search.Backend, logger *logging.Logger) (*toolregistry.Registry, error) {
	b := toolregistry.NewBuilder()
	b = corpustools.Register(b, backend, logger)
	return b.Build()
}

func buildPrompts() (*promptregistry.Registry, error) {
	b := promptregistry.NewBuilder()
	b.Register(
		"summarize-results",
		"Summarize a set of corpus search results for the given topic.",
		[]promptregistry.Argument{{Name: "topic", Description: "The topic the results were searched for", Required: true}},
		"Summarize the key points relevant to \"{{.topic}}\" from the search results above, citing sources by title.",
	)
	return b.Build()
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	lcfg := logging.NewDefaultConfig()
	level, err := logging.LevelFromString(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	lcfg.Level = level
	if cfg.Transport == config.TransportStdio {
		// stdout is reserved for the line transport's JSON-RPC frames;
		// the teacher's cmd/contextd/stdio.go convention of logging to
		// stderr only applies here too.
		lcfg.Output.Stdout = false
	}
	return logging.NewLogger(lcfg, nil)
}

func runStdio(ctx context.Context, engine *protocol.Engine, sessions *mcpsession.Manager, logger *logging.Logger) error {
	t := stdio.New(engine, sessions, os.Stdin, os.Stdout, logger)
	fmt.Fprintln(os.Stderr, "corpusmcpd: stdio transport started")
	return t.Run(ctx)
}

// runHTTP serves the streaming HTTP transport plus the OAuth 2.1
// authorization subsystem. An embedded, in-process NATS server backs
// the SSE fanout bus (internal/transport/sse), so no external broker is
// required for a single-process deployment.
func runHTTP(ctx context.Context, cfg *config.Config, engine *protocol.Engine, sessions *mcpsession.Manager, logger *logging.Logger) error {
	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return fmt.Errorf("starting embedded nats server: %w", err)
	}
	go ns.Start()
	defer func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	}()
	if !ns.ReadyForConnections(5 * time.Second) {
		return fmt.Errorf("embedded nats server did not become ready")
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		return fmt.Errorf("connecting to embedded nats server: %w", err)
	}
	defer nc.Close()

	sseTransport := sse.New(engine, sessions, nc, logger)

	oauthSvc := oauth.NewService(oauth.Config{
		Issuer:               cfg.Server.PublicBaseURL,
		AutoApproveClients:   cfg.OAuth.AutoApproveClients,
		RefreshEnabled:       cfg.OAuth.RefreshEnabled,
		AllowedCallbackHosts: cfg.OAuth.AllowedCallbackHosts,
		TokenTTL:             cfg.OAuth.TokenTTL,
	}, logger.Underlying())
	janitorCtx, cancelJanitor := context.WithCancel(ctx)
	defer cancelJanitor()
	go oauthSvc.RunJanitor(janitorCtx)

	srv := httpapi.New(cfg, oauthSvc, sseTransport, sessions, logger)

	logger.Info(ctx, "corpusmcpd: http transport started",
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		zap.String("public_base_url", cfg.Server.PublicBaseURL),
		zap.Bool("oauth_simplified", cfg.OAuth.Simplified))

	return srv.Start(ctx)
}
