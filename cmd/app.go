package cmd

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/config"
	"github.com/killallgit/threadline/pkg/controllers"
	"github.com/killallgit/threadline/pkg/logger"
	"github.com/killallgit/threadline/pkg/render"
	"github.com/killallgit/threadline/pkg/store"
	"github.com/killallgit/threadline/pkg/threads"
	"github.com/killallgit/threadline/pkg/transport"
	"github.com/mattn/go-isatty"
)

var errNoModel = errors.New("this command does not talk to a model")

// offlineTransport backs commands that only read and edit stored threads
type offlineTransport struct{}

func (offlineTransport) Stream(ctx context.Context, req controllers.Request) (<-chan chat.Event, error) {
	return nil, errNoModel
}

// app wires the store, the model transport and the thread manager for one
// command invocation
type app struct {
	cfg     *config.Config
	store   threads.Store
	manager *threads.Manager
	format  *render.Formatter
	stream  *render.StreamWriter
	log     *logger.ComponentLogger
}

type appOptions struct {
	online bool
	live   bool // stream replies to out as they arrive
	out    io.Writer
}

func newApp(cfg *config.Config, opts appOptions) (*app, error) {
	log := logger.WithComponent("app")

	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, err
	}

	var tr controllers.Transport = offlineTransport{}
	if opts.online {
		lc, err := transport.New(cfg)
		if err != nil {
			store.Close(st)
			return nil, err
		}
		tr = lc
	}

	out := opts.out
	if out == nil {
		out = os.Stdout
	}
	f, isFile := out.(*os.File)
	color := isFile && isTerminal(f)

	a := &app{
		cfg:    cfg,
		store:  st,
		format: render.NewFormatter(render.WithColor(color), render.WithThinking(cfg.Chat.ShowThinking)),
		log:    log,
	}

	managerOpts := []threads.Option{
		threads.WithControllerOptions(
			controllers.WithSystemPrompt(cfg.Chat.SystemPrompt),
			controllers.WithTitleLength(cfg.Chat.TitleLength),
		),
	}
	if opts.live {
		a.stream = render.NewStreamWriter(out, a.format)
		managerOpts = append(managerOpts, threads.WithObserver(func(id string, s controllers.Snapshot) {
			a.stream.Update(s)
		}))
	}

	a.manager = threads.NewManager(st, tr, managerOpts...)
	log.Debug("App ready", "store", cfg.Store.Backend, "online", opts.online)
	return a, nil
}

// Close drains pending saves, then releases the store
func (a *app) Close() error {
	if err := a.manager.Close(); err != nil {
		return err
	}
	return store.Close(a.store)
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
