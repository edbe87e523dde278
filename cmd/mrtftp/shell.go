package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"

	"github.com/mrtsync/mrtftp"
	"github.com/mrtsync/mrtftp/clipboard"
	"github.com/mrtsync/mrtftp/dirsync"
)

var errQuit = errors.New("quit")

func newShellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			client, err := a.dial(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			sh := newShell(ctx, client, a.stdout)
			okColor.Fprintf(a.stdout, "connected to %s, type help for commands\n", a.addr)
			for {
				line := prompt.Input(sh.prefix(), sh.complete,
					prompt.OptionTitle("mrtftp"),
					prompt.OptionPrefixTextColor(prompt.Green),
					prompt.OptionPreviewSuggestionTextColor(prompt.Blue),
					prompt.OptionSelectedSuggestionBGColor(prompt.LightGray),
					prompt.OptionSuggestionBGColor(prompt.DarkGray),
					prompt.OptionCompletionWordSeparator(" "),
				)
				if err := sh.exec(line); err != nil {
					if errors.Is(err, errQuit) {
						return nil
					}
					errorColor.Fprintf(a.stdout, "%v\n", err)
				}
			}
		},
	}
}

type shellCommand struct {
	usage string
	help  string
	run   func(sh *shell, args []string) error
}

// shell runs one line at a time against a client. The clipboard is
// shared by copy, lcopy and paste.
type shell struct {
	ctx    context.Context
	client *mrtftp.Client
	out    io.Writer
	clip   clipboard.Slot
}

func newShell(ctx context.Context, client *mrtftp.Client, out io.Writer) *shell {
	return &shell{ctx: ctx, client: client, out: out}
}

func (sh *shell) prefix() string {
	return fmt.Sprintf("%s> ", sh.client.RemotePath())
}

func (sh *shell) exec(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, ok := shellCommands[strings.ToLower(fields[0])]
	if !ok {
		return fmt.Errorf("unknown command %q", fields[0])
	}
	return cmd.run(sh, fields[1:])
}

func (sh *shell) complete(d prompt.Document) []prompt.Suggest {
	words := strings.Fields(d.TextBeforeCursor())
	if len(words) > 1 || (len(words) == 1 && strings.HasSuffix(d.TextBeforeCursor(), " ")) {
		return nil
	}

	suggestions := make([]prompt.Suggest, 0, len(shellCommands))
	for _, name := range slices.Sorted(maps.Keys(shellCommands)) {
		suggestions = append(suggestions, prompt.Suggest{Text: name, Description: shellCommands[name].help})
	}
	return prompt.FilterHasPrefix(suggestions, d.GetWordBeforeCursor(), true)
}

func exactArgs(n int, run func(sh *shell, args []string) error) func(*shell, []string) error {
	return func(sh *shell, args []string) error {
		if len(args) != n {
			return fmt.Errorf("expected %d argument(s), got %d", n, len(args))
		}
		return run(sh, args)
	}
}

func optionalArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

// resumeFlag strips a leading -c from args.
func resumeFlag(args []string) (bool, []string) {
	if len(args) > 0 && args[0] == "-c" {
		return true, args[1:]
	}
	return false, args
}

func removeCmd(help string, fn func(*mrtftp.Client, context.Context) (int, error)) shellCommand {
	return shellCommand{help: help, run: func(sh *shell, _ []string) error {
		n, err := fn(sh.client, sh.ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "removed %d\n", n)
		return nil
	}}
}

func actionCmd(help string, fn func(*mrtftp.Client, context.Context) error) shellCommand {
	return shellCommand{help: help, run: func(sh *shell, _ []string) error {
		return fn(sh.client, sh.ctx)
	}}
}

var shellCommands map[string]shellCommand

func init() {
	shellCommands = map[string]shellCommand{
		"help": {help: "list commands", run: func(sh *shell, _ []string) error {
			for _, name := range slices.Sorted(maps.Keys(shellCommands)) {
				c := shellCommands[name]
				fmt.Fprintf(sh.out, "  %-22s %s\n", strings.TrimSpace(name+" "+c.usage), c.help)
			}
			return nil
		}},
		"quit": {help: "end the session", run: func(sh *shell, _ []string) error {
			_ = sh.client.Quit(sh.ctx)
			return errQuit
		}},
		"ls": {usage: "[path]", help: "list a remote directory", run: func(sh *shell, args []string) error {
			entries, err := sh.client.List(sh.ctx, optionalArg(args))
			if err != nil {
				return err
			}
			renderEntries(sh.out, entries)
			return nil
		}},
		"nlst": {usage: "[path]", help: "list remote names", run: func(sh *shell, args []string) error {
			names, err := sh.client.NameList(sh.ctx, optionalArg(args))
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(sh.out, n)
			}
			return nil
		}},
		"cd": {usage: "<path>", help: "change remote directory", run: exactArgs(1, func(sh *shell, args []string) error {
			return sh.client.ChangeDir(sh.ctx, args[0])
		})},
		"up": {help: "go to the remote parent", run: func(sh *shell, _ []string) error {
			return sh.client.ChangeDirUp(sh.ctx)
		}},
		"pwd": {help: "print remote directory", run: func(sh *shell, _ []string) error {
			dir, err := sh.client.CurrentDir(sh.ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(sh.out, dir)
			return nil
		}},
		"lcd": {usage: "<path>", help: "change local directory", run: exactArgs(1, func(sh *shell, args []string) error {
			if args[0] == ".." {
				sh.client.LocalUp()
				return nil
			}
			return sh.client.LocalDown(args[0])
		})},
		"lpwd": {help: "print local directory", run: func(sh *shell, _ []string) error {
			fmt.Fprintln(sh.out, sh.client.LocalDir())
			return nil
		}},
		"get": {usage: "[-c] <name>", help: "download a file", run: func(sh *shell, args []string) error {
			resume, args := resumeFlag(args)
			if len(args) != 1 {
				return fmt.Errorf("usage: get [-c] <name>")
			}
			return sh.client.Download(sh.ctx, args[0], resume)
		}},
		"put": {usage: "[-c] <path>", help: "upload a file", run: func(sh *shell, args []string) error {
			resume, args := resumeFlag(args)
			if len(args) != 1 {
				return fmt.Errorf("usage: put [-c] <path>")
			}
			return sh.client.Upload(sh.ctx, args[0], resume)
		}},
		"getdir": {usage: "<name>", help: "download a directory tree", run: exactArgs(1, func(sh *shell, args []string) error {
			return sh.client.DownloadDirectory(sh.ctx, args[0], true)
		})},
		"putdir": {usage: "<path>", help: "upload a directory tree", run: exactArgs(1, func(sh *shell, args []string) error {
			return sh.client.UploadDirectory(sh.ctx, args[0], true)
		})},
		"mkdir": {usage: "<name>", help: "create a remote directory", run: exactArgs(1, func(sh *shell, args []string) error {
			return sh.client.MakeDir(sh.ctx, args[0])
		})},
		"rmdir": {usage: "<name>", help: "remove a remote directory", run: exactArgs(1, func(sh *shell, args []string) error {
			return sh.client.RemoveDir(sh.ctx, args[0])
		})},
		"rm": {usage: "<name>", help: "delete a remote file", run: exactArgs(1, func(sh *shell, args []string) error {
			return sh.client.DeleteFile(sh.ctx, args[0])
		})},
		"mv": {usage: "<from> <to>", help: "rename a remote entry", run: exactArgs(2, func(sh *shell, args []string) error {
			return sh.client.Rename(sh.ctx, args[0], args[1])
		})},
		"size": {usage: "<name>", help: "print a remote file size", run: exactArgs(1, func(sh *shell, args []string) error {
			n, err := sh.client.FileSize(sh.ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(sh.out, n)
			return nil
		})},
		"mtime": {usage: "<name>", help: "print a remote modification time", run: exactArgs(1, func(sh *shell, args []string) error {
			t, ok, err := sh.client.ModTime(sh.ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s: not found", args[0])
			}
			fmt.Fprintln(sh.out, t.Format("2006-01-02 15:04:05"))
			return nil
		})},
		"clear": {usage: "[path]", help: "empty a remote directory", run: func(sh *shell, args []string) error {
			return sh.client.ClearDir(sh.ctx, optionalArg(args))
		}},
		"sa": {help: "go to the streaming assets", run: func(sh *shell, _ []string) error {
			return sh.client.GoToStreamingAssets(sh.ctx)
		}},
		"panel": {help: "print the panel name", run: func(sh *shell, _ []string) error {
			name, ok, err := sh.client.PanelName(sh.ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no panel found")
			}
			fmt.Fprintln(sh.out, name)
			return nil
		}},
		"index": {usage: "<text>", help: "write the directory index", run: func(sh *shell, args []string) error {
			return sh.client.CreateIndex(sh.ctx, strings.Join(args, " "))
		}},
		"rmindex":    removeCmd("delete the directory index", (*mrtftp.Client).RemoveIndex),
		"rmvideo":    removeCmd("delete the first video", (*mrtftp.Client).RemoveFirstVideo),
		"rmimage":    removeCmd("delete the first image", (*mrtftp.Client).RemoveFirstImage),
		"rmaudio":    removeCmd("delete the first audio file", (*mrtftp.Client).RemoveFirstAudio),
		"rmvideos":   removeCmd("delete every video", (*mrtftp.Client).RemoveAllVideos),
		"rmimages":   removeCmd("delete every image", (*mrtftp.Client).RemoveAllImages),
		"rmaudios":   removeCmd("delete every audio file", (*mrtftp.Client).RemoveAllAudios),
		"restart":    actionCmd("restart the panel", (*mrtftp.Client).RestartPanel),
		"relaunch":   actionCmd("restart the launcher", (*mrtftp.Client).RestartLauncher),
		"stop":       actionCmd("stop the panel", (*mrtftp.Client).StopPanel),
		"stoplaunch": actionCmd("stop the launcher", (*mrtftp.Client).StopLauncher),
		"start":      actionCmd("start the panel", (*mrtftp.Client).StartPanel),
		"copy": {usage: "<name>", help: "copy a remote path", run: exactArgs(1, func(sh *shell, args []string) error {
			p := args[0]
			if !path.IsAbs(p) {
				p = path.Join(sh.client.RemotePath(), p)
			}
			sh.clip.Copy(p, clipboard.Remote)
			return nil
		})},
		"lcopy": {usage: "<path>", help: "copy a local path", run: exactArgs(1, func(sh *shell, args []string) error {
			p := args[0]
			if !filepath.IsAbs(p) {
				p = filepath.Join(sh.client.LocalDir(), p)
			}
			if _, err := os.Stat(p); err != nil {
				return err
			}
			sh.clip.Copy(p, clipboard.Local)
			return nil
		})},
		"paste": {usage: "[dir]", help: "paste the copied path", run: func(sh *shell, args []string) error {
			item, ok := sh.clip.Get()
			if !ok {
				return fmt.Errorf("clipboard is empty")
			}
			return sh.client.Paste(sh.ctx, item, optionalArg(args))
		}},
		"say": {usage: "<line>", help: "send a special command", run: func(sh *shell, args []string) error {
			return sh.client.SendSpecialCommand(strings.Join(args, " "))
		}},
		"ping": {help: "print the heartbeat round trip", run: func(sh *shell, _ []string) error {
			fmt.Fprintln(sh.out, sh.client.Ping())
			return nil
		}},
		"buffer": {usage: "<bytes>", help: "set the data buffer size", run: exactArgs(1, func(sh *shell, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid buffer size %q", args[0])
			}
			return sh.client.SetDataBufferSize(sh.ctx, n)
		})},
		"sync": {usage: "<local> [remote]", help: "mirror a local directory", run: func(sh *shell, args []string) error {
			if len(args) < 1 || len(args) > 2 {
				return fmt.Errorf("usage: sync <local> [remote]")
			}
			remote := ""
			if len(args) == 2 {
				remote = args[1]
			}
			r, err := dirsync.New(sh.client).SyncFolder(sh.ctx, args[0], remote, false, true)
			fmt.Fprintln(sh.out, r.String())
			return err
		}},
	}
	shellCommands["exit"] = shellCommands["quit"]
}
