package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"gloss/internal/adapter/llm"
	"gloss/internal/domain"
	"gloss/internal/infra/config"
	"gloss/internal/infra/logger"
	"gloss/internal/infra/tracer"
	"gloss/internal/render"
	"gloss/internal/usecase/explain"
)

const systemPrompt = "You are a code explanation assistant. Answer concisely in markdown. " +
	"When you mention a code location, write it as path:line (for example src/parser.go:42)."

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "config.yaml", "config file path")
		model      = flag.String("model", "", "override the configured model")
		allowSpec  = flag.String("allow", "", "comma-separated path:line refs eligible for linking")
	)
	flag.Parse()

	prompt := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if prompt == "" {
		return fmt.Errorf("usage: gloss [flags] <prompt>")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *model != "" {
		cfg.Provider.Model = *model
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	streamer := llm.NewStreamer(cfg.Provider, log)
	renderer := render.NewRenderer(cfg.Render.PathAliases, cfg.Render.HighlightStyle, log)

	display := newConsoleDisplay(os.Stdout, os.Stderr)
	session := explain.NewSession(streamer, renderer, display, cfg.Provider, cfg.Session, log)

	session.Explain(ctx, explain.Request{
		Messages: []domain.Message{
			domain.SystemMessage(systemPrompt),
			domain.UserMessage(prompt),
		},
		AllowedLinks: parseAllowList(*allowSpec),
	})

	select {
	case <-display.done:
	case <-ctx.Done():
		session.Cancel()
	}
	return nil
}

func parseAllowList(spec string) domain.AllowedLinkSet {
	var keys []string
	for _, part := range strings.Split(spec, ",") {
		if part = strings.TrimSpace(part); part != "" {
			keys = append(keys, part)
		}
	}
	return domain.NewAllowedLinkSet(keys...)
}

// consoleDisplay is a minimal Display: it holds the latest markup and
// prints it once the session settles.
type consoleDisplay struct {
	out    io.Writer
	errOut io.Writer

	mu     sync.Mutex
	markup string
	once   sync.Once
	done   chan struct{}
}

func newConsoleDisplay(out, errOut io.Writer) *consoleDisplay {
	return &consoleDisplay{out: out, errOut: errOut, done: make(chan struct{})}
}

func (d *consoleDisplay) ShowMarkup(markup string) {
	d.mu.Lock()
	d.markup = markup
	d.mu.Unlock()
}

func (d *consoleDisplay) ShowState(state domain.PanelState) {
	switch state {
	case domain.StateReady:
		d.mu.Lock()
		fmt.Fprintln(d.out, d.markup)
		d.mu.Unlock()
		d.finish()
	case domain.StateError, domain.StateIdle:
		d.finish()
	}
}

func (d *consoleDisplay) ShowError(message string) {
	fmt.Fprintf(d.errOut, "error: %s\n", message)
}

func (d *consoleDisplay) finish() {
	d.once.Do(func() { close(d.done) })
}
