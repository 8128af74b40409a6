package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"jsbox/internal/config"
	"jsbox/internal/jsvm"
)

// NewReplCmd creates the repl command.
func NewReplCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Evaluate JavaScript interactively",
		Long: `Start a read-eval-print loop in a fresh sandbox.

On a terminal the repl offers line editing and history. Otherwise each line
of standard input is evaluated in turn and its result printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)

			sb, err := cliCtx.NewSandbox()
			if err != nil {
				return err
			}

			if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
				return interactiveRepl(cmd, cliCtx.Config.Repl, sb)
			}
			return scriptedRepl(cmd.InOrStdin(), cmd.OutOrStdout(), sb)
		},
	}
}

// scriptedRepl evaluates every line of in, printing one result per line.
func scriptedRepl(in io.Reader, out io.Writer, sb *jsvm.Sandbox) error {
	var cmds []string
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		cmds = append(cmds, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	return sb.Repl(cmds, lineWriter{out})
}

func interactiveRepl(cmd *cobra.Command, rc config.ReplConfig, sb *jsvm.Sandbox) error {
	historyFile, err := config.ExpandPath(rc.HistoryFile)
	if err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          rc.Prompt,
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       ".exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	out := cmd.OutOrStdout()
	session := sb.NewReplSession()
	defer session.Close()

	stop := interruptOnSignal(session)
	defer stop()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		switch strings.TrimSpace(line) {
		case "":
			continue
		case ".exit":
			return nil
		case ".help":
			fmt.Fprintln(out, jsvm.ReplHelp)
			continue
		}

		res, err := session.Eval(line)
		if err != nil {
			res = jsvm.FormatError(err)
		}
		fmt.Fprintln(out, res)

		// Drop an interrupt that arrived after the command finished.
		session.ClearInterrupt()
	}
}

// lineWriter terminates every write with a newline.
type lineWriter struct {
	w io.Writer
}

func (lw lineWriter) Write(p []byte) (int, error) {
	if _, err := lw.w.Write(append(p[:len(p):len(p)], '\n')); err != nil {
		return 0, err
	}
	return len(p), nil
}
