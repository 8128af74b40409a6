package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewWorkerCmd creates the worker command.
func NewWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker <file>",
		Short: "Run a worker, exchanging messages over stdin and stdout",
		Long: `Run a file as a worker entry point on its own sandbox and realm.

Each line of standard input is posted to the worker, decoded as JSON when
it parses and as a plain string otherwise; end of input closes the worker's
inbox. Every message the worker posts back is printed as one JSON line.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)

			sb, err := cliCtx.NewSandbox()
			if err != nil {
				return err
			}

			w, err := sb.StartWorker(args[0])
			if err != nil {
				return err
			}
			cliCtx.Logger.Debug().Str("worker", w.ID()).Str("file", args[0]).Msg("worker started")

			go feedWorker(cmd.InOrStdin(), w.PostMessage, w.CloseInbox)

			out := cmd.OutOrStdout()
			for msg := range w.Messages() {
				data, err := json.Marshal(msg)
				if err != nil {
					data, _ = json.Marshal(fmt.Sprint(msg))
				}
				fmt.Fprintln(out, string(data))
			}
			return w.Wait()
		},
	}
}

// feedWorker posts each input line and closes the inbox at end of input.
// It stops early once the worker no longer accepts messages.
func feedWorker(in io.Reader, post func(any) error, done func()) {
	defer done()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()

		var v any
		if err := json.Unmarshal([]byte(line), &v); err != nil {
			v = line
		}
		if err := post(v); err != nil {
			return
		}
	}
}
