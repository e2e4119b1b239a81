package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/killallgit/threadline/pkg/controllers"
	"github.com/killallgit/threadline/pkg/markup"
	"github.com/spf13/cobra"
)

const flushTimeout = 10 * time.Second

var errNoPrompt = errors.New("no message given: pass it as arguments or pipe it on stdin")

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Send a message and stream the reply",
	Long: `Send a message to a thread and stream the reply into the terminal.
Without --thread or --continue a new thread is started. Press Ctrl+C to stop
a reply; the partial answer is kept.`,
	RunE: runChat,
}

var retryCmd = &cobra.Command{
	Use:   "retry <thread-id>",
	Short: "Answer the last message of a thread again",
	Long: `Run the reply to the last message of a thread again. A failed or
stopped reply is replaced, and so is a completed one.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRetry,
}

func init() {
	chatCmd.Flags().StringP("thread", "t", "", "thread to continue")
	chatCmd.Flags().Bool("continue", false, "continue the most recently updated thread")
	chatCmd.Flags().StringArrayP("file", "f", nil, "attach a file reference (repeatable)")
	chatCmd.MarkFlagsMutuallyExclusive("thread", "continue")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(retryCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	text, err := promptText(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	threadID, _ := cmd.Flags().GetString("thread")
	continueLast, _ := cmd.Flags().GetBool("continue")
	paths, _ := cmd.Flags().GetStringArray("file")

	files, err := fileRefs(paths)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, appOptions{online: true, live: true, out: cmd.OutOrStdout()})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if err := a.manager.Load(ctx); err != nil {
		return err
	}

	if continueLast && threadID == "" {
		if infos := a.manager.ListThreads(); len(infos) > 0 {
			threadID = infos[0].ID
		}
	}
	if _, err := a.manager.SelectThread(ctx, threadID); err != nil {
		return err
	}

	id, err := a.manager.Send(ctx, text, files...)
	if err != nil {
		return err
	}

	return a.follow(ctx, cmd.ErrOrStderr(), id)
}

func runRetry(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, appOptions{online: true, live: true, out: cmd.OutOrStdout()})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if err := a.manager.Load(ctx); err != nil {
		return err
	}
	id, err := a.manager.SelectThread(ctx, args[0])
	if err != nil {
		return err
	}

	if err := a.manager.Regenerate(ctx, id); err != nil {
		if errors.Is(err, controllers.ErrNoUserMessage) {
			return fmt.Errorf("thread %s has no message to answer", id)
		}
		return err
	}

	return a.follow(ctx, cmd.ErrOrStderr(), id)
}

// follow streams the reply of thread id until it ends. Cancelling ctx stops
// the exchange and keeps what arrived so far.
func (a *app) follow(ctx context.Context, status io.Writer, id string) error {
	finished := make(chan error, 1)
	go func() {
		finished <- a.manager.Wait(context.Background(), id)
	}()

	select {
	case err := <-finished:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		if err := a.manager.Stop(id); err != nil {
			return err
		}
		<-finished
	}
	a.stream.Finish()

	flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := a.manager.Flush(flushCtx); err != nil {
		a.log.Warn("Flush did not finish", "error", err)
	}

	fmt.Fprintln(status, a.format.Dim("thread "+id))

	state, err := a.manager.Status(id)
	if err != nil {
		return err
	}
	if state == controllers.StatusError {
		return fmt.Errorf("reply failed; run 'threadline retry %s' to try again", id)
	}
	return nil
}

// promptText joins args into the message, falling back to piped stdin
func promptText(args []string, stdin io.Reader) (string, error) {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text != "" {
		return text, nil
	}

	if f, ok := stdin.(*os.File); ok && isTerminal(f) {
		return "", errNoPrompt
	}

	data, err := io.ReadAll(bufio.NewReader(stdin))
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	text = strings.TrimSpace(string(data))
	if text == "" {
		return "", errNoPrompt
	}
	return text, nil
}

// fileRefs turns local paths into attachment references
func fileRefs(paths []string) ([]markup.FileRef, error) {
	refs := make([]markup.FileRef, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("invalid file path %q: %w", p, err)
		}
		if _, err := os.Stat(abs); err != nil {
			return nil, fmt.Errorf("cannot attach %q: %w", p, err)
		}
		refs = append(refs, markup.FileRef{URL: "file://" + filepath.ToSlash(abs), Name: filepath.Base(abs)})
	}
	return refs, nil
}
