package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/floegence/loco-go/client"
	"github.com/floegence/loco-go/internal/cmdutil"
	"github.com/floegence/loco-go/internal/config"
	"github.com/floegence/loco-go/internal/defaults"
	locoversion "github.com/floegence/loco-go/internal/version"
	"github.com/floegence/loco-go/observability"
	"github.com/floegence/loco-go/observability/prom"
	"github.com/floegence/loco-go/stream"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	showVersion := false
	configPath := cmdutil.EnvString("LOCO_CONFIG", "")
	var (
		bookingHost   string
		bookingPort   int
		publicKeyFile string
		accessToken   string
		relayURL      string
		metricsListen string
		logLevel      string
		keepalive     time.Duration
		duration      time.Duration
		noReconnect   bool
	)

	fs := flag.NewFlagSet("loco-probe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.StringVar(&configPath, "config", configPath, "TOML config file (env: LOCO_CONFIG)")
	fs.StringVar(&bookingHost, "booking-host", "", "booking host (env: LOCO_BOOKING_HOST)")
	fs.IntVar(&bookingPort, "booking-port", 0, "booking port (env: LOCO_BOOKING_PORT)")
	fs.StringVar(&publicKeyFile, "public-key-file", "", "server RSA public key PEM file (env: LOCO_PUBLIC_KEY_FILE)")
	fs.StringVar(&accessToken, "access-token", "", "login access token (env: LOCO_ACCESS_TOKEN)")
	fs.StringVar(&relayURL, "relay-url", "", "dial through a websocket relay (env: LOCO_RELAY_URL)")
	fs.StringVar(&metricsListen, "metrics-listen", "", "listen address for /metrics (empty disables) (env: LOCO_METRICS_LISTEN)")
	fs.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (env: LOCO_LOG_LEVEL)")
	fs.DurationVar(&keepalive, "keepalive", 0, "keep-alive ping interval (env: LOCO_KEEPALIVE_INTERVAL)")
	fs.DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	fs.BoolVar(&noReconnect, "no-reconnect", false, "exit on server switch instead of reconnecting")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if showVersion {
		_, _ = fmt.Fprintln(stdout, locoversion.String(version, commit, date))
		return 0
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "booking-host":
			cfg.Booking.Host = strings.TrimSpace(bookingHost)
		case "booking-port":
			cfg.Booking.Port = bookingPort
		case "public-key-file":
			cfg.PublicKeyFile = strings.TrimSpace(publicKeyFile)
		case "access-token":
			cfg.AccessToken = strings.TrimSpace(accessToken)
		case "relay-url":
			cfg.RelayURL = strings.TrimSpace(relayURL)
		case "metrics-listen":
			cfg.MetricsListen = strings.TrimSpace(metricsListen)
		case "log-level":
			cfg.LogLevel = strings.TrimSpace(logLevel)
		case "keepalive":
			cfg.KeepaliveInterval = keepalive
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		fmt.Fprintf(stderr, "invalid log level %q\n", cfg.LogLevel)
		return 2
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Str("component", "loco-probe").Logger()

	if cfg.EnsureDeviceUUID() {
		logger.Info().Str("device_uuid", cfg.Device.UUID).Msg("generated device uuid")
	}

	var dialer stream.Dialer = stream.NetDialer{Timeout: defaults.ConnectTimeout}
	if cfg.RelayURL != "" {
		dialer = stream.RelayDialer{URL: cfg.RelayURL}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	p := probe{
		cfg:       cfg,
		dialer:    dialer,
		log:       logger,
		out:       stdout,
		reconnect: !noReconnect,
	}
	if err := p.run(ctx); err != nil {
		logger.Error().Err(err).Msg("probe failed")
		return 1
	}
	return 0
}

// probe logs on, then reports session events until ctx ends.
type probe struct {
	cfg       config.Probe
	dialer    stream.Dialer
	log       zerolog.Logger
	out       io.Writer
	reconnect bool

	// onLoggedOn, when set, is called after every successful login.
	onLoggedOn func(*client.LoginResult)
}

func (p *probe) run(ctx context.Context) error {
	pub, err := p.cfg.PublicKey()
	if err != nil {
		return err
	}

	sessObs := observability.NewAtomicSessionObserver()
	dispObs := observability.NewAtomicDispatchObserver()

	g, ctx := errgroup.WithContext(ctx)

	if p.cfg.MetricsListen != "" {
		reg := prom.NewRegistry()
		sessObs.Set(prom.NewSessionObserver(reg, client.StateNames()...))
		dispObs.Set(prom.NewDispatchObserver(reg))
		ln, err := net.Listen("tcp", p.cfg.MetricsListen)
		if err != nil {
			return fmt.Errorf("listen metrics: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", prom.Handler(reg))
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		p.log.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	sess, err := client.New(p.cfg.ClientConfig(pub),
		client.WithDialer(p.dialer),
		client.WithLogger(p.log),
		client.WithObservers(sessObs, dispObs),
		client.WithRequestTimeout(p.cfg.RequestTimeout),
		client.WithKeepaliveInterval(p.cfg.KeepaliveInterval),
	)
	if err != nil {
		return err
	}
	cred := client.Credential{AccessToken: p.cfg.AccessToken}

	g.Go(func() error {
		<-ctx.Done()
		return sess.Close()
	})
	g.Go(func() error {
		res, err := sess.Connect(ctx, cred)
		if err != nil {
			return err
		}
		p.loggedOn(res)
		return p.watch(ctx, sess, cred)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (p *probe) loggedOn(res *client.LoginResult) {
	p.log.Info().Int64("user_id", res.UserID).Str("endpoint", res.Endpoint.String()).Msg("logged on")
	if p.onLoggedOn != nil {
		p.onLoggedOn(res)
	}
}

func (p *probe) watch(ctx context.Context, sess *client.Session, cred client.Credential) error {
	for ev := range sess.Events() {
		p.print(ev)
		switch ev.Kind {
		case client.EventServerSwitch:
			if !p.reconnect {
				return errors.New("server switch requested")
			}
			res, err := sess.Reconnect(ctx, cred)
			if err != nil {
				return err
			}
			p.loggedOn(res)
		case client.EventDisconnected:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if ev.Err != nil {
				return ev.Err
			}
		}
	}
	return ctx.Err()
}

func (p *probe) print(ev client.Event) {
	switch ev.Kind {
	case client.EventStateChanged:
		fmt.Fprintf(p.out, "%s %s\n", ev.Kind, ev.State)
	case client.EventPush, client.EventServerSwitch:
		fmt.Fprintf(p.out, "%s %s\n", ev.Kind, ev.Method)
	default:
		if ev.Err != nil {
			fmt.Fprintf(p.out, "%s %v\n", ev.Kind, ev.Err)
			return
		}
		fmt.Fprintln(p.out, ev.Kind)
	}
}
