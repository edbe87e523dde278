package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"

	"github.com/mrtsync/mrtftp"
	"github.com/mrtsync/mrtftp/dirsync"
)

func newLsCmd(a *app) *cobra.Command {
	var streaming bool

	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a remote directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := a.dial(ctx)
			if err != nil {
				return err
			}
			defer closeClient(ctx, client)

			if streaming {
				if err := client.GoToStreamingAssets(ctx); err != nil {
					return err
				}
			}
			path := ""
			if len(args) > 0 {
				path = args[0]
			}
			entries, err := client.List(ctx, path)
			if err != nil {
				return err
			}
			renderEntries(a.stdout, entries)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&streaming, "streaming-assets", "s", false, "start from the panel's streaming assets")
	return cmd
}

// renderEntries prints entries as a table, directories first.
func renderEntries(w io.Writer, entries []*mrtftp.Entry) {
	table := tablewriter.NewWriter(w)
	table.Header("Name", "Size", "Modified")
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Header.Alignment.Global = tw.AlignLeft
		cfg.Row.Alignment.Global = tw.AlignLeft
	})

	for _, dirs := range []bool{true, false} {
		for _, e := range entries {
			if e.IsDir() != dirs {
				continue
			}
			name, size := e.Name, formatSize(e.Size)
			if dirs {
				name = dirColor.Sprint(e.Name + "/")
				size = "-"
			}
			table.Append([]string{name, size, e.ModTime.Format(time.DateOnly)})
		}
	}
	_ = table.Render()
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func newGetCmd(a *app) *cobra.Command {
	var (
		resume    bool
		recursive bool
		localDir  string
	)

	cmd := &cobra.Command{
		Use:   "get <remote>...",
		Short: "Download files or directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := a.dial(ctx, mrtftp.WithLocalDir(localDir))
			if err != nil {
				return err
			}
			defer closeClient(ctx, client)

			for _, name := range args {
				if recursive {
					err = client.DownloadDirectory(ctx, name, true)
				} else {
					err = client.Download(ctx, name, resume)
				}
				if err != nil {
					return err
				}
				okColor.Fprintf(a.stdout, "downloaded %s\n", name)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&resume, "resume", "c", false, "continue a partial download")
	flags.BoolVarP(&recursive, "recursive", "R", false, "download directories")
	flags.StringVarP(&localDir, "local-dir", "l", ".", "local destination")
	return cmd
}

func newPutCmd(a *app) *cobra.Command {
	var (
		resume    bool
		recursive bool
		remoteDir string
	)

	cmd := &cobra.Command{
		Use:   "put <local>...",
		Short: "Upload files or directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := a.dial(ctx, mrtftp.WithRemotePath(remoteDir))
			if err != nil {
				return err
			}
			defer closeClient(ctx, client)

			for _, p := range args {
				fi, err := os.Stat(p)
				if err != nil {
					return err
				}
				if fi.IsDir() {
					err = client.UploadDirectory(ctx, p, recursive)
				} else {
					err = client.Upload(ctx, p, resume)
				}
				if err != nil {
					return err
				}
				okColor.Fprintf(a.stdout, "uploaded %s\n", p)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&resume, "resume", "c", false, "continue a partial upload")
	flags.BoolVarP(&recursive, "recursive", "R", true, "descend into subdirectories")
	flags.StringVarP(&remoteDir, "remote-dir", "d", "", "remote destination")
	return cmd
}

func newSyncCmd(a *app) *cobra.Command {
	var (
		streaming bool
		recursive bool
		watch     bool
		debounce  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sync <local-dir> [remote-dir]",
		Short: "Make a remote directory match a local one",
		Long: `Sync mirrors a local folder to the server. Files only present remotely are
deleted, and the newer side of each pair wins.

With --watch, sync keeps running and repeats the pass after local changes.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := a.dial(ctx)
			if err != nil {
				return err
			}
			defer closeClient(ctx, client)

			remote := ""
			if len(args) > 1 {
				remote = args[1]
			}

			syncer := dirsync.New(client,
				dirsync.WithLogger(a.slog),
				dirsync.WithDebounce(debounce),
				dirsync.WithPassHandler(func(r dirsync.Report, err error) {
					if err != nil {
						warnColor.Fprintf(a.stdout, "sync: %v\n", err)
					}
					if r.Changed() {
						okColor.Fprintln(a.stdout, r.String())
					}
				}),
			)

			if watch {
				ctx, stop := signalContext(ctx)
				defer stop()
				return syncer.Watch(ctx, args[0], remote, streaming, recursive)
			}

			r, err := syncer.SyncFolder(ctx, args[0], remote, streaming, recursive)
			if r.Changed() {
				okColor.Fprintln(a.stdout, r.String())
			} else if err == nil {
				fmt.Fprintln(a.stdout, "up to date")
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&streaming, "streaming-assets", "s", false, "resolve remote-dir under the panel's streaming assets")
	flags.BoolVarP(&recursive, "recursive", "R", true, "descend into subdirectories")
	flags.BoolVarP(&watch, "watch", "w", false, "keep syncing on local changes")
	flags.DurationVar(&debounce, "debounce", 500*time.Millisecond, "quiet period before a watch pass")
	return cmd
}

// appActions maps the app subcommand verbs to client calls.
var appActions = map[string]func(*mrtftp.Client, context.Context) error{
	"restart-panel":    (*mrtftp.Client).RestartPanel,
	"restart-launcher": (*mrtftp.Client).RestartLauncher,
	"stop-panel":       (*mrtftp.Client).StopPanel,
	"stop-launcher":    (*mrtftp.Client).StopLauncher,
	"start-panel":      (*mrtftp.Client).StartPanel,
}

func newAppCmd(a *app) *cobra.Command {
	verbs := slices.Sorted(maps.Keys(appActions))

	return &cobra.Command{
		Use:       "app <action>",
		Short:     "Restart, stop or start the panel application",
		ValidArgs: verbs,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := a.dial(ctx)
			if err != nil {
				return err
			}
			defer closeClient(ctx, client)

			if err := appActions[args[0]](client, ctx); err != nil {
				return err
			}
			okColor.Fprintf(a.stdout, "%s requested\n", args[0])
			return nil
		},
	}
}

func newSayCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "say <line>...",
		Short: "Send a line on the special channel",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := a.dial(ctx)
			if err != nil {
				return err
			}
			defer closeClient(ctx, client)

			return client.SendSpecialCommand(strings.Join(args, " "))
		},
	}
}
