package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/mrtsync/mrtftp"
	"github.com/mrtsync/mrtftp/event"
	"github.com/mrtsync/mrtftp/internal/logging"
)

const defaultAddr = "127.0.0.1:2121"

// app holds the flags shared by every command and the logger built from
// them.
type app struct {
	addr        string
	user        string
	password    string
	askPassword bool
	timeout     time.Duration
	retries     int
	logLevel    string
	logFormat   string

	logger *zap.Logger
	slog   *slog.Logger

	stdin  io.Reader
	stdout io.Writer
}

func newRootCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	a := &app{stdin: stdin, stdout: stdout}

	root := &cobra.Command{
		Use:   "mrtftp",
		Short: "Panel transfer server and client",
		Long: `mrtftp serves a media folder to panel clients, or connects to a panel
server to list, transfer and synchronize files.

Flags fall back to MRTFTP_* environment variables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.New(logging.Config{Level: a.logLevel, Format: a.logFormat})
			if err != nil {
				return err
			}
			a.logger = logger
			a.slog = logging.Slog(logger)
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.addr, "addr", "a", envOr("MRTFTP_ADDR", defaultAddr), "server address (host:port)")
	flags.StringVarP(&a.user, "user", "u", envOr("MRTFTP_USER", mrtftp.DefaultUser), "user name")
	flags.StringVarP(&a.password, "password", "p", envOr("MRTFTP_PASSWORD", mrtftp.DefaultPassword), "password")
	flags.BoolVarP(&a.askPassword, "ask-password", "P", false, "read the password from the terminal")
	flags.DurationVar(&a.timeout, "timeout", 30*time.Second, "control connection timeout")
	flags.IntVar(&a.retries, "retries", envIntOr("MRTFTP_RETRIES", 3), "connection attempts, 0 retries forever")
	flags.StringVar(&a.logLevel, "log-level", envOr("MRTFTP_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	flags.StringVar(&a.logFormat, "log-format", envOr("MRTFTP_LOG_FORMAT", "console"), "log format (console, json)")

	root.SetIn(stdin)
	root.SetOut(stdout)
	root.AddCommand(
		newServeCmd(a),
		newLsCmd(a),
		newGetCmd(a),
		newPutCmd(a),
		newSyncCmd(a),
		newAppCmd(a),
		newSayCmd(a),
		newShellCmd(a),
		newHashPasswordCmd(a),
	)
	return root
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

// readPassword reads a password from the terminal without echo, or a line
// from stdin when it is not a terminal.
func (a *app) readPassword(prompt string) (string, error) {
	if f, ok := a.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(a.stdout, prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.stdout)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// dial returns a logged in client. Special commands and disconnects are
// printed as they arrive.
func (a *app) dial(ctx context.Context, opts ...mrtftp.Option) (*mrtftp.Client, error) {
	password := a.password
	if a.askPassword {
		p, err := a.readPassword("Password: ")
		if err != nil {
			return nil, err
		}
		password = p
	}

	opts = append([]mrtftp.Option{
		mrtftp.WithCredentials(a.user, password),
		mrtftp.WithLogger(a.slog),
		mrtftp.WithTimeout(a.timeout),
		mrtftp.WithMaxAttempts(a.retries),
		mrtftp.WithEventHandler(a.printEvent),
	}, opts...)

	client, err := mrtftp.Dial(a.addr, opts...)
	if err != nil {
		return nil, err
	}
	if err := client.Login(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

var (
	okColor    = color.New(color.FgGreen)
	infoColor  = color.New(color.FgCyan)
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed)
	dirColor   = color.New(color.FgBlue, color.Bold)
)

func (a *app) printEvent(e event.Event) {
	switch e.Kind {
	case event.SpecialCommand:
		infoColor.Fprintf(a.stdout, "<< %s\n", e.Message)
	case event.Error:
		warnColor.Fprintf(a.stdout, "! %s: %v\n", e.Message, e.Err)
	case event.Disconnected:
		if e.Err != nil {
			errorColor.Fprintf(a.stdout, "disconnected: %v\n", e.Err)
		}
	}
}

// closeClient ends the session politely.
func closeClient(ctx context.Context, client *mrtftp.Client) {
	_ = client.Quit(ctx)
	client.Close()
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}
