package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/sync/errgroup"

	"gsibridge/bridge"
)

func main() {
	configPath := flag.String("config", os.Getenv("GSIBRIDGE_CONFIG"), "Path to YAML config")
	configCmd := flag.String("config-cmd", "", "Config command: 'init' or 'validate'")
	logLevel := flag.String("log-level", "info", "Logging level (debug, info, warn, error)")
	flag.StringVar(logLevel, "l", "info", "Alias for -log-level")
	flag.Parse()

	level, err := parseLogLevel(*logLevel)
	if err != nil {
		log.Fatalf("invalid log level %q: %v", *logLevel, err)
	}

	out := outputs{stdout: os.Stdout, stderr: os.Stderr}
	logger := out.logger(level)

	configFile := *configPath
	if configFile == "" {
		configFile = "./config.yaml"
	}

	if *configCmd != "" {
		switch *configCmd {
		case "init":
			if err := runConfigInit(configFile, logger); err != nil {
				log.Fatalf("config init failed: %v", err)
			}
			logger.Info("configuration initialized successfully", "path", configFile)
			return
		case "validate":
			if _, err := loadConfig(configFile, logger); err != nil {
				log.Fatalf("config validation failed: %v", err)
			}
			logger.Info("configuration is valid", "path", configFile)
			return
		default:
			log.Fatalf("unknown config command %q. Use 'init' or 'validate'", *configCmd)
		}
	}

	cfg, err := loadConfig(configFile, logger)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if flag.NArg() > 0 && flag.Arg(0) == "probe" {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Google.Timeout()+5*time.Second)
		defer cancel()
		if err := runProbe(ctx, cfg, logger, nil); err != nil {
			logger.Error("identity sdk probe failed", "error", err)
			os.Exit(1)
		}
		logger.Info("identity sdk probe succeeded", "issuer", cfg.Google.Issuer)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, out); err != nil {
		log.Fatalf("run: %v", err)
	}
}

// outputs keeps stdout for credential lines; logs go to stderr.
type outputs struct {
	stdout io.Writer
	stderr io.Writer
}

func (o outputs) logger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(o.stderr, &slog.HandlerOptions{Level: level}))
}

func (o outputs) receiver(host bridge.HostConfig) (bridge.Receiver, error) {
	return bridge.NewReceiver(host, o.stdout)
}

func run(ctx context.Context, cfg bridge.Config, logger *slog.Logger, out outputs) error {
	receiver, err := out.receiver(cfg.Host)
	if err != nil {
		return fmt.Errorf("build receiver: %w", err)
	}

	mounts := bridge.NewMounts(cfg.Flows.Containers...)
	load := bridge.NewGoogleLoadFunc(cfg, mounts, nil, logger)
	application := bridge.NewApp(cfg, mounts, load, nil, logger)

	// The receiver is bound before anything can trigger a flow.
	application.Bind(receiver)

	handler := application.Routes()
	servers := buildServers(cfg, handler, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return application.Start(gctx)
	})
	for _, s := range servers {
		s := s
		g.Go(func() error {
			logger.Info("server listening", "addr", s.srv.Addr, "tls", s.tls)
			var err error
			if s.tls {
				err = s.srv.ListenAndServeTLS("", "")
			} else {
				err = s.srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", s.srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		for _, s := range servers {
			_ = s.srv.Shutdown(shutdownCtx)
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type listener struct {
	srv *http.Server
	tls bool
}

func buildServers(cfg bridge.Config, handler http.Handler, logger *slog.Logger) []listener {
	if cfg.Server.DevMode {
		return []listener{{srv: &http.Server{
			Addr:         cfg.Server.DevListenAddr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 45 * time.Second,
		}}}
	}

	m := &autocert.Manager{
		Cache:      autocert.DirCache(cfg.Server.TLS.CacheDir),
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(cfg.Server.TLS.Domains...),
		Email:      cfg.Server.TLS.Email,
	}
	logger.Debug("autocert configured", "domains", cfg.Server.TLS.Domains)

	return []listener{
		{srv: &http.Server{
			Addr:    cfg.Server.HTTPListenAddr,
			Handler: m.HTTPHandler(http.HandlerFunc(redirectToHTTPS)),
		}},
		{srv: &http.Server{
			Addr:    cfg.Server.HTTPSListenAddr,
			Handler: handler,
			TLSConfig: &tls.Config{
				GetCertificate: m.GetCertificate,
				MinVersion:     tls.VersionTLS12,
			},
		}, tls: true},
	}
}

func redirectToHTTPS(w http.ResponseWriter, r *http.Request) {
	target := "https://" + r.Host + r.URL.RequestURI()
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

// runProbe loads the SDK once and initializes throwaway clients against it.
func runProbe(ctx context.Context, cfg bridge.Config, logger *slog.Logger, httpClient *http.Client) error {
	mounts := bridge.NewMounts(cfg.Flows.Containers...)
	load := bridge.NewGoogleLoadFunc(cfg, mounts, httpClient, logger)
	application := bridge.NewApp(cfg, mounts, load, nil, logger)

	application.Loader.Start(ctx)
	if err := application.Initializer.Run(ctx, application.Loader); err != nil {
		return err
	}
	flow, err := application.Controller.TriggerOAuthFlow(ctx)
	if err != nil {
		return err
	}
	logger.Info("probe.consent_url", "url", flow.ConsentURL, "message", "Open the URL in a browser to check the consent screen")
	return nil
}

func loadConfig(path string, logger *slog.Logger) (bridge.Config, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return bridge.Config{}, fmt.Errorf("config file not found at %s. Run with -config-cmd=init to create it", path)
		}
		return bridge.Config{}, fmt.Errorf("stat config: %w", err)
	}
	logger.Debug("loading config", "path", path)
	return bridge.LoadConfig(path)
}

func runConfigInit(path string, logger *slog.Logger) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s. Remove it first or use a different path", path)
	}
	_, err := runSetup(path, bufio.NewReader(os.Stdin), logger)
	return err
}

func runSetup(path string, reader *bufio.Reader, logger *slog.Logger) (bridge.Config, error) {
	p := prompter{in: reader, out: os.Stdout}
	fmt.Fprintf(p.out, "No configuration file found at %s.\n", path)
	fmt.Fprintln(p.out, "Starting guided setup for Google Identity Services. Press Enter to accept defaults.")

	cfg := bridge.DefaultConfig()

	cfg.Server.DevMode = p.choose("Run in development mode?", "yes", "yes", "no") == "yes"
	if cfg.Server.DevMode {
		cfg.Server.DevListenAddr = p.text("Dev listen address", cfg.Server.DevListenAddr, true)
		cfg.Server.PublicURL = strings.TrimSuffix(p.text("Public URL", cfg.Server.PublicURL, true), "/")
	} else {
		domain := strings.TrimSuffix(p.text("Public domain (e.g. signin.example.com)", "", true), "/")
		cfg.Server.TLS.Domains = []string{domain}
		cfg.Server.PublicURL = "https://" + domain
		cfg.Server.TLS.Email = p.text("ACME contact email (empty for none)", "", false)
	}

	cfg.Google.ClientID = p.text("Google OAuth client ID", "", true)
	cfg.Google.ClientSecret = p.text("Google OAuth client secret (empty for none)", "", false)

	cfg.Host.Receiver = p.choose("Credential receiver", cfg.Host.Receiver, bridge.ReceiverStdout, bridge.ReceiverWebhook)
	if cfg.Host.Receiver == bridge.ReceiverWebhook {
		cfg.Host.WebhookURL = p.text("Host webhook URL", "", true)
	}

	if err := bridge.SaveConfig(path, cfg); err != nil {
		return bridge.Config{}, err
	}
	logger.Info("configuration created", "path", path)

	return bridge.LoadConfig(path)
}

// prompter asks guided-setup questions. Every question repeats until it gets
// a usable answer; at end of input the default is taken.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func (p prompter) ask(label, def string, accept func(string) (string, bool)) string {
	for {
		if def != "" {
			fmt.Fprintf(p.out, "%s [%s]: ", label, def)
		} else {
			fmt.Fprintf(p.out, "%s: ", label)
		}
		input, err := p.in.ReadString('\n')
		input = strings.TrimSpace(input)
		if input == "" && def != "" {
			return def
		}
		if v, ok := accept(input); ok {
			return v
		}
		if err != nil {
			return def
		}
	}
}

// text asks for a free-form value; required rejects an empty answer.
func (p prompter) text(label, def string, required bool) string {
	return p.ask(label, def, func(v string) (string, bool) {
		if v == "" && required {
			fmt.Fprintln(p.out, "This value is required. Please enter a value.")
			return "", false
		}
		return v, true
	})
}

// choose asks for one of options; an unambiguous prefix selects the option.
func (p prompter) choose(label, def string, options ...string) string {
	label = fmt.Sprintf("%s (%s)", label, strings.Join(options, "/"))
	return p.ask(label, def, func(v string) (string, bool) {
		v = strings.ToLower(v)
		var found string
		for _, o := range options {
			if o == v {
				return o, true
			}
			if v != "" && strings.HasPrefix(o, v) {
				if found != "" {
					found = ""
					break
				}
				found = o
			}
		}
		if found == "" {
			fmt.Fprintf(p.out, "Please answer one of: %s.\n", strings.Join(options, ", "))
			return "", false
		}
		return found, true
	})
}

// parseLogLevel accepts slog level names plus the warning and err aliases.
func parseLogLevel(value string) (slog.Level, error) {
	name := strings.ToLower(strings.TrimSpace(value))
	switch name {
	case "":
		return slog.LevelInfo, nil
	case "warning":
		name = "warn"
	case "err":
		name = "error"
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", value)
	}
	return level, nil
}
