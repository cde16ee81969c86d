package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/InWeCrypto/keytool/internal/bridge"
	"github.com/InWeCrypto/keytool/internal/config"
	"github.com/InWeCrypto/keytool/internal/envelope"
	"github.com/InWeCrypto/keytool/internal/host"
	"github.com/InWeCrypto/keytool/internal/listener"
	"github.com/InWeCrypto/keytool/internal/loader"
	"github.com/InWeCrypto/keytool/internal/transport"
	"github.com/InWeCrypto/keytool/ui/tui"
)

var version = "v0.1.0"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "keytool",
		Usage:   "Derive an address from a keystore or a mnemonic through a host process",
		Version: version,
		Flags: []cli.Flag{
			ConfigFlag,
			LogLevelFlag,
			TransportFlag,
			TimeoutFlag,
			StateDirFlag,
		},
		Commands: []*cli.Command{
			{
				Name:   "tui",
				Usage:  "Run the terminal front-end",
				Flags:  []cli.Flag{ServeFlag, SessionIDFlag, LangFlag},
				Action: runTUI,
			},
			{
				Name:   "derive",
				Usage:  "Derive once and print the address",
				Flags:  []cli.Flag{KeystoreFlag, PasswordFlag, MnemonicFlag, LangFlag},
				Action: runDerive,
			},
			{
				Name:   "host",
				Usage:  "Run the reference host",
				Flags:  []cli.Flag{StdioFlag, ListenFlag, BusDirFlag, AboutFlag},
				Action: runHost,
			},
		},
		Action: runTUI,
	}
}

// loadConfig merges the config file and env with any global flags set.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String(ConfigFlag.Name))
	if err != nil {
		return config.Config{}, err
	}
	if c.IsSet(LogLevelFlag.Name) {
		cfg.Log.Level = c.String(LogLevelFlag.Name)
	}
	if c.IsSet(TransportFlag.Name) {
		cfg.Bridge.Transport = strings.TrimSpace(c.String(TransportFlag.Name))
	}
	if c.IsSet(TimeoutFlag.Name) {
		cfg.Bridge.Timeout = c.Duration(TimeoutFlag.Name)
	}
	if c.IsSet(StateDirFlag.Name) {
		cfg.State.Dir = c.String(StateDirFlag.Name)
		cfg.Bridge.BusDir = filepath.Join(cfg.State.Dir, "bus")
	}
	return cfg, cfg.Validate()
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func runTUI(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	// The terminal belongs to the program; log to a file instead.
	logger, closeLog, err := config.NewLogger(cfg.Log.Level, filepath.Join(cfg.State.Dir, "keytool.log"))
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := signalContext(c)
	defer cancel()

	conn, err := connectHost(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return tui.Run(ctx, conn, tui.Options{
		StateDir:  cfg.State.Dir,
		SessionID: c.String(SessionIDFlag.Name),
		Version:   version,
		Transport: cfg.Bridge.Transport,
		Lang:      c.String(LangFlag.Name),
		Timeout:   cfg.Bridge.Timeout,
		Serve:     c.Bool(ServeFlag.Name),
		Logger:    logger,
	})
}

type printDisplay struct {
	address string
}

func (d *printDisplay) ShowIdentity(address string) {
	d.address = address
}

func runDerive(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, closeLog, err := config.NewLogger(cfg.Log.Level, "")
	if err != nil {
		return err
	}
	defer closeLog()

	var req envelope.Envelope
	switch {
	case c.String(KeystoreFlag.Name) != "" && c.String(PasswordFlag.Name) != "":
		raw, err := os.ReadFile(c.String(KeystoreFlag.Name))
		if err != nil {
			return fmt.Errorf("read keystore: %w", err)
		}
		req = envelope.NewDerivation(envelope.ActionFromKeystore, string(raw), c.String(PasswordFlag.Name))
	case c.String(MnemonicFlag.Name) != "":
		req = envelope.NewDerivation(envelope.ActionFromMnemonic, c.String(MnemonicFlag.Name), c.String(LangFlag.Name))
	default:
		return cli.Exit("use --keystore with --password, or --mnemonic with --lang", 2)
	}

	ctx, cancel := signalContext(c)
	defer cancel()

	conn, err := connectHost(ctx, cfg, logger)
	if err != nil {
		return err
	}
	state := loader.New()
	if err := state.Init(); err != nil {
		return err
	}
	state.Subscribe(func(s loader.Snapshot) {
		if n := s.Notification; n != nil && n.Level == loader.LevelInfo {
			logger.Info("host says", "message", n.Message)
		}
	})
	display := &printDisplay{}
	b, err := bridge.New(conn, state, bridge.Options{
		Display:  display,
		Listener: listener.New(logger, state, nil, conn),
		Logger:   logger,
		Timeout:  cfg.Bridge.Timeout,
	})
	if err != nil {
		return err
	}
	defer b.Close()
	b.Start(ctx)

	if _, err := b.Send(ctx, req); err != nil {
		var hostErr *bridge.HostError
		if errors.As(err, &hostErr) {
			return cli.Exit(hostErr.Message, 1)
		}
		return err
	}
	fmt.Fprintln(c.App.Writer, display.address)
	return nil
}

func runHost(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	// stdout may be the bridge itself, so the host always logs to stderr.
	logger, closeLog, err := config.NewLogger(cfg.Log.Level, "")
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := signalContext(c)
	defer cancel()

	h := host.NewHandler(host.EVMDeriver{Path: cfg.Host.DerivationPath}, logger)
	opts := host.ServeOptions{Greet: cfg.Host.Greet, AboutOnStart: c.Bool(AboutFlag.Name)}

	switch {
	case c.Bool(StdioFlag.Name):
		conn := transport.NewStream(logger, os.Stdin, os.Stdout)
		defer conn.Close()
		return h.Serve(ctx, conn, opts)
	case c.IsSet(BusDirFlag.Name):
		conn, err := transport.OpenFileBus(logger, transport.FileBusPaths(c.String(BusDirFlag.Name), true))
		if err != nil {
			return err
		}
		defer conn.Close()
		return h.Serve(ctx, conn, opts)
	default:
		addr := cfg.Host.Listen
		if c.IsSet(ListenFlag.Name) {
			addr = c.String(ListenFlag.Name)
		}
		return host.NewServer(h, opts, logger).ListenAndServe(ctx, addr)
	}
}

// connectHost opens the front-end side of the configured transport.
func connectHost(ctx context.Context, cfg config.Config, logger *slog.Logger) (transport.Conn, error) {
	switch cfg.Bridge.Transport {
	case config.TransportProcess:
		argv := cfg.Bridge.HostCommand
		if len(argv) == 0 {
			self, err := os.Executable()
			if err != nil {
				return nil, fmt.Errorf("locate keytool binary: %w", err)
			}
			argv = []string{self, "host", "--stdio"}
		}
		return transport.StartProcess(ctx, logger, argv)
	case config.TransportWS:
		return transport.DialWebSocket(ctx, logger, cfg.Bridge.HostURL, transport.DefaultDialPolicy())
	case config.TransportFileBus:
		return transport.OpenFileBus(logger, transport.FileBusPaths(cfg.Bridge.BusDir, false))
	default:
		ui, hostSide := transport.Pipe()
		h := host.NewHandler(host.EVMDeriver{Path: cfg.Host.DerivationPath}, logger)
		go func() {
			if err := h.Serve(ctx, hostSide, host.ServeOptions{Greet: cfg.Host.Greet}); err != nil {
				logger.Warn("embedded host stopped", "err", err)
			}
		}()
		return ui, nil
	}
}
