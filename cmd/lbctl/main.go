// lbctl is a command-line client for the LittleBrother parental control API.
//
// Logins are kept per profile in ~/.config/lbctl (or in Redis with
// --redis-addr), so one "lbctl login" serves later calls until the refresh
// token expires.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/little-brother/lbclient"
	"github.com/little-brother/lbclient/session"
	"github.com/little-brother/lbclient/transport"
)

// envPassword supplies the login password without a prompt.
const envPassword = "LBCTL_PASSWORD"

type globalFlags struct {
	configPath string
	baseURL    string
	profile    string
	redisAddr  string
	sessionDir string
	jsonOutput bool
	events     bool
	verbose    bool
}

func (g *globalFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&g.configPath, "config", "", "config file (.yaml, .json or .jsonc); default $"+lbclient.EnvConfigPath)
	fs.StringVar(&g.baseURL, "base-url", "", "API base URL, e.g. http://host:5560/api")
	fs.StringVar(&g.profile, "profile", "", "session profile name")
	fs.StringVar(&g.redisAddr, "redis-addr", "", "keep sessions in Redis at this address")
	fs.StringVar(&g.sessionDir, "session-dir", session.DefaultSessionDir(), "directory for session files")
	fs.BoolVar(&g.jsonOutput, "json", false, "print results as JSON")
	fs.BoolVar(&g.events, "events", false, "print client events to stderr as JSON lines")
	fs.BoolVarP(&g.verbose, "verbose", "v", false, "debug logging")
}

// app carries what every command needs.
type app struct {
	ctx    context.Context
	client *lbclient.Client
	flags  globalFlags
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	getenv func(string) string

	loginHint sync.Once
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, os.Getenv)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "lbctl: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, getenv func(string) string) error {
	// The logger, the event sink and the login hint write from different
	// goroutines.
	stderr = &syncWriter{w: stderr}
	a := &app{ctx: ctx, stdin: stdin, stdout: stdout, stderr: stderr, getenv: getenv}

	fs := pflag.NewFlagSet("lbctl", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(io.Discard)
	a.flags.register(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			root := newRootCommand(a)
			root.printHelp(stderr)
			fs.SetOutput(stderr)
			fmt.Fprintln(stderr, "\nGlobal flags:")
			fs.PrintDefaults()
			return nil
		}
		return usageError("%v", err)
	}

	root := newRootCommand(a)
	rest := fs.Args()
	if len(rest) == 0 || isHelpFlag(rest[0]) {
		return root.execute(rest, stderr)
	}

	closeClient, err := a.connect()
	if err != nil {
		return err
	}
	defer closeClient()
	return root.execute(rest, stderr)
}

func (a *app) loadConfig() (lbclient.Config, error) {
	var (
		cfg lbclient.Config
		err error
	)
	if a.flags.configPath != "" {
		cfg, err = lbclient.LoadConfigFile(a.flags.configPath)
		if err == nil {
			lbclient.ApplyEnv(&cfg)
		}
	} else {
		cfg, err = lbclient.LoadConfig()
	}
	if err != nil {
		return cfg, err
	}
	if a.flags.baseURL != "" {
		cfg.API.BaseURL = a.flags.baseURL
	}
	if a.flags.profile != "" {
		cfg.Session.Profile = a.flags.profile
	}
	cfg.API.UserAgent = "lbctl"

	level := slog.LevelWarn
	if a.flags.verbose {
		level = slog.LevelDebug
	}
	cfg.Logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))
	return cfg, nil
}

// connect builds the client and restores the stored login.
func (a *app) connect() (func(), error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}

	b := lbclient.New().
		WithConfig(cfg).
		WithNavigator(transport.NavigatorFunc(a.navigateToLogin))
	if a.flags.events {
		b = b.WithEventSink(lbclient.NewJSONWriterSink(a.stderr))
	}

	var rdb redis.UniversalClient
	if a.flags.redisAddr != "" {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{a.flags.redisAddr}})
		b = b.WithRedis(rdb)
	} else {
		b = b.WithSessionStore(session.NewFileStore(a.flags.sessionDir))
	}

	client, err := b.Build()
	if err != nil {
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, err
	}
	cleanup := func() {
		_ = client.Close()
		if rdb != nil {
			_ = rdb.Close()
		}
	}
	if err := client.Restore(a.ctx); err != nil {
		cleanup()
		return nil, fmt.Errorf("restore session: %w", err)
	}
	a.client = client
	return cleanup, nil
}

func (a *app) navigateToLogin(context.Context, error) {
	a.loginHint.Do(func() {
		fmt.Fprintln(a.stderr, "lbctl: not logged in or session expired, run 'lbctl login -u USER'")
	})
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
