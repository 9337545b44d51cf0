package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/lenylvt/aurora-sub000/internal/adapter/host"
	"github.com/lenylvt/aurora-sub000/internal/adapter/piston"
	"github.com/lenylvt/aurora-sub000/internal/domain"
	"github.com/lenylvt/aurora-sub000/internal/service"
	"github.com/lenylvt/aurora-sub000/internal/session"
)

type runOptions struct {
	hostURL    string
	language   string
	stdinFile  string
	forceBatch bool
	timeout    time.Duration
}

func newRunCmd() *cobra.Command {
	opts := runOptions{}
	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Run a source file and stream its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFile(cmd, opts, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.hostURL, "host", envOr("AURORA_HOST", "http://localhost:8091"), "Execution host base URL")
	flags.StringVar(&opts.language, "language", "", "Language name, derived from the file extension when empty")
	flags.StringVar(&opts.stdinFile, "stdin-file", "", "File supplying stdin in batch mode")
	flags.BoolVar(&opts.forceBatch, "batch", false, "Skip the capability probe and run in batch mode")
	flags.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Abort the run after this long")

	return cmd
}

var errRunFailed = errors.New("run did not complete")

func runFile(cmd *cobra.Command, opts runOptions, path string) error {
	ctx := cmd.Context()

	code, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	client := host.NewClient(opts.hostURL, opts.timeout)
	mode, interactiveURL := domain.ModeBatch, ""
	if !opts.forceBatch {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		mode, interactiveURL = session.SelectMode(probeCtx, client)
		cancel()
	}

	out := newTerminal(cmd.OutOrStdout(), cmd.ErrOrStderr(), isTerminal(os.Stderr))
	m := session.NewManager(session.Config{
		BufferID:       filepath.Base(path),
		Mode:           mode,
		InteractiveURL: interactiveURL,
		Dial:           service.PistonDial(piston.NewDialer(10*time.Second, 10*time.Second, 1<<20)),
		Batch:          client,
		Languages:      domain.NewLanguages(nil),
		Sink:           out,
		RunTimeout:     opts.timeout,
		BatchTimeout:   opts.timeout,
	})

	req := domain.RunRequest{
		Filename: filepath.Base(path),
		Code:     string(code),
		Language: opts.language,
	}

	if mode == domain.ModeBatch {
		stdin, err := batchStdin(opts.stdinFile, os.Stdin)
		if err != nil {
			m.Close()
			return err
		}
		req.Stdin = stdin
		if err := m.Run(ctx, req); err != nil {
			m.Close()
			return err
		}
		m.Close()
		printHint(cmd.ErrOrStderr(), m, req)
		return exitErr(m.Snapshot())
	}

	if err := m.Run(ctx, req); err != nil {
		m.Close()
		return err
	}
	go forwardInput(os.Stdin, out.Ready(), out.Done(), m.SendInput)

	select {
	case <-out.Done():
	case <-ctx.Done():
		if err := m.Stop(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "failed to stop: %v\n", err)
		}
	}
	m.Close()
	return exitErr(m.Snapshot())
}

// batchStdin reads stdin from path, or from r when it is piped.
func batchStdin(path string, r *os.File) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin file: %w", err)
		}
		return string(data), nil
	}
	if r == nil || isTerminal(r) {
		return "", nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}

// forwardInput sends each terminal line to the running program. Nothing is
// read until the run is connected, so early lines wait in the terminal.
func forwardInput(r io.Reader, ready, done <-chan struct{}, send func(string) error) {
	select {
	case <-ready:
	case <-done:
		return
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := send(scanner.Text()); err != nil && !errors.Is(err, session.ErrNoActiveRun) {
			return
		}
	}
}

func printHint(w io.Writer, m *session.Manager, req domain.RunRequest) {
	lang, err := domain.NewLanguages(nil).Resolve(req.Language, req.Filename)
	if err != nil {
		return
	}
	hint := session.CountInputs(lang.Name, req.Code, req.Stdin)
	if hint.Expected > hint.Supplied {
		fmt.Fprintf(w, "hint: the program reads input %d time(s) but %d line(s) of stdin were supplied (use --stdin-file)\n",
			hint.Expected, hint.Supplied)
	}
}

func exitErr(snap domain.Snapshot) error {
	switch snap.State {
	case domain.StateCompleted:
		if snap.ExitCode != nil && *snap.ExitCode != 0 {
			return fmt.Errorf("%w: exit code %d", errRunFailed, *snap.ExitCode)
		}
		return nil
	case domain.StateFailed:
		return fmt.Errorf("%w: %s error", errRunFailed, snap.ErrorKind)
	default:
		return fmt.Errorf("%w: %s", errRunFailed, snap.State)
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
