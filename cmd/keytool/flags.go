package main

import "github.com/urfave/cli/v2"

var (
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "Path to a TOML config file",
		EnvVars: []string{"KEYTOOL_CONFIG"},
	}

	LogLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level (debug, info, warn, error)",
	}

	TransportFlag = &cli.StringFlag{
		Name:  "transport",
		Usage: "How to reach the host (embedded, process, ws, filebus)",
	}

	TimeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "How long to wait for a host response",
	}

	StateDirFlag = &cli.StringFlag{
		Name:  "state-dir",
		Usage: "Directory for session logs and the file bus",
	}

	ServeFlag = &cli.BoolFlag{
		Name:  "serve",
		Usage: "Run headless, driven by <session>/commands.jsonl",
	}

	SessionIDFlag = &cli.StringFlag{
		Name:  "session-id",
		Usage: "Override the session id",
	}

	LangFlag = &cli.StringFlag{
		Name:  "lang",
		Usage: "Mnemonic language code, e.g. en_US or zh_CN",
		Value: "en_US",
	}

	KeystoreFlag = &cli.StringFlag{
		Name:  "keystore",
		Usage: "Keystore file path",
	}

	PasswordFlag = &cli.StringFlag{
		Name:    "password",
		Usage:   "Keystore password",
		EnvVars: []string{"KEYTOOL_PASSWORD"},
	}

	MnemonicFlag = &cli.StringFlag{
		Name:  "mnemonic",
		Usage: "Mnemonic phrase",
	}

	StdioFlag = &cli.BoolFlag{
		Name:  "stdio",
		Usage: "Serve one front-end over stdin/stdout",
	}

	ListenFlag = &cli.StringFlag{
		Name:  "listen",
		Usage: "Serve front-ends over WebSocket at this address",
	}

	BusDirFlag = &cli.StringFlag{
		Name:  "bus-dir",
		Usage: "Serve one front-end over the JSONL file bus in this directory",
	}

	AboutFlag = &cli.BoolFlag{
		Name:  "about",
		Usage: "Push the about dialog when a front-end connects",
	}
)
