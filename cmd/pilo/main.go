// Package main provides the Pilo command line runner. It takes a natural
// language task and a starting URL, drives a browser session through the
// task loop, and reports the outcome.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mozilla/pilo-sub005/pkg/browser"
	"github.com/mozilla/pilo-sub005/pkg/config"
	"github.com/mozilla/pilo-sub005/pkg/llm/openai"
	"github.com/mozilla/pilo-sub005/pkg/snapshot"
	"github.com/mozilla/pilo-sub005/pkg/task"
	"github.com/mozilla/pilo-sub005/pkg/types"
)

const version = "0.1.0"

// CLIFlags holds command-line configuration.
type CLIFlags struct {
	Task        string
	URL         string
	ConfigFile  string
	Model       string
	BaseURL     string
	Headed      bool
	Timeout     time.Duration
	Verbose     bool
	ShowVersion bool
}

func main() {
	flags := parseFlags()

	if flags.ShowVersion {
		fmt.Printf("Pilo v%s\n", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n\nShutting down gracefully...")
		cancel()
	}()

	if err := run(ctx, flags); err != nil {
		cancel()
		log.Printf("Task run failed: %v", err)
		os.Exit(1)
	}
	cancel()
}

// parseFlags parses command line flags.
func parseFlags() *CLIFlags {
	flags := &CLIFlags{}

	flag.StringVar(&flags.Task, "task", "", "Task description (required)")
	flag.StringVar(&flags.URL, "url", "", "Starting page URL (if omitted, the model plans one)")
	flag.StringVar(&flags.ConfigFile, "config", "", "Path to configuration file (default ~/.pilo/config.yaml)")
	flag.StringVar(&flags.Model, "model", "", "LLM model, overrides the config file")
	flag.StringVar(&flags.BaseURL, "base-url", "", "LLM API base URL, overrides the config file")
	flag.BoolVar(&flags.Headed, "headed", false, "Run the browser with a visible window")
	flag.DurationVar(&flags.Timeout, "timeout", 10*time.Minute, "Overall run timeout")
	flag.BoolVar(&flags.Verbose, "verbose", false, "Print every lifecycle event")
	flag.BoolVar(&flags.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Pilo - Browser Task Agent\n\n")
		fmt.Fprintf(os.Stderr, "Usage: pilo -task \"...\" -url https://... [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Search a site and read back the first result\n")
		fmt.Fprintf(os.Stderr, "  pilo -task \"Search for wireless keyboards and open the first result\" -url https://shop.example.com\n\n")
		fmt.Fprintf(os.Stderr, "  # Watch the browser work\n")
		fmt.Fprintf(os.Stderr, "  pilo -task \"Log in with the saved credentials\" -url https://app.example.com -headed\n\n")
	}

	flag.Parse()
	return flags
}

// run wires the configuration, provider, browser session, and task loop
// together and executes one task.
func run(ctx context.Context, flags *CLIFlags) error {
	if flags.Task == "" {
		return fmt.Errorf("task is required (see -help)")
	}

	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// CLI flags override the config file.
	if flags.Model != "" {
		cfg.LLM.Model = flags.Model
	}
	if flags.BaseURL != "" {
		cfg.LLM.BaseURL = flags.BaseURL
	}
	if flags.Headed {
		cfg.Browser.Headless = false
	}

	providerOpts := []openai.ProviderOption{
		openai.WithModel(cfg.LLM.Model),
	}
	if cfg.LLM.BaseURL != "" {
		providerOpts = append(providerOpts, openai.WithBaseURL(cfg.LLM.BaseURL))
	}
	provider, err := openai.NewProvider(cfg.LLM.APIKey, providerOpts...)
	if err != nil {
		return fmt.Errorf("failed to create LLM provider: %w", err)
	}

	manager := browser.NewSessionManager()
	if err := manager.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize browser runtime: %w", err)
	}
	defer func() {
		if err := manager.Shutdown(); err != nil {
			log.Printf("Browser shutdown: %v", err)
		}
	}()

	session, err := manager.StartSession(browser.SessionOptions{
		Headless: cfg.Browser.Headless,
		Viewport: &browser.Viewport{
			Width:  cfg.Browser.ViewportWidth,
			Height: cfg.Browser.ViewportHeight,
		},
		Timeout: float64(cfg.Browser.ActionTimeout.Milliseconds()),
	})
	if err != nil {
		return fmt.Errorf("failed to start browser session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Printf("Session close: %v", err)
		}
	}()

	compressor := snapshot.NewCompressor()
	if cfg.Snapshot.DedupeRepeatedText {
		compressor.DedupeRepeatedText()
	}
	driver := browser.NewDriver(session,
		browser.WithActionTimeout(cfg.Browser.ActionTimeout),
		browser.WithCompressor(compressor),
		browser.WithCompression(cfg.Snapshot.Compress),
	)

	bus := types.NewBus()
	subscribeProgress(bus, flags.Verbose)

	orchestrator := task.NewOrchestrator(provider, driver,
		task.WithBus(bus),
		task.WithMaxIterations(cfg.Task.MaxIterations),
		task.WithTokenBudget(cfg.Task.TokenBudget),
	)

	if flags.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flags.Timeout)
		defer cancel()
	}

	log.Printf("Starting task: %s", flags.Task)
	if flags.URL != "" {
		log.Printf("Starting URL: %s", flags.URL)
	}
	log.Printf("Model: %s", provider.GetModel())

	outcome, err := orchestrator.Run(ctx, flags.Task, flags.URL)
	if err != nil {
		return err
	}

	fmt.Printf("\nState:      %s\n", outcome.State)
	fmt.Printf("Quality:    %s\n", outcome.Quality)
	fmt.Printf("Iterations: %d\n", outcome.Iterations)
	if outcome.Summary != "" {
		fmt.Printf("Summary:    %s\n", outcome.Summary)
	}
	for _, extracted := range outcome.Extracted {
		fmt.Printf("\nExtracted:\n%s\n", extracted)
	}

	if outcome.State != task.StateDone {
		return fmt.Errorf("task ended in state %s", outcome.State)
	}
	return nil
}

// subscribeProgress prints task progress to stderr as it happens.
func subscribeProgress(bus *types.Bus, verbose bool) {
	bus.Subscribe(func(e *types.Event) {
		log.Printf("[%d] iteration", e.Iteration)
	}, types.EventIteration)

	bus.Subscribe(func(e *types.Event) {
		if e.Action != nil {
			log.Printf("[%d] %s", e.Iteration, e.Action.String())
		}
	}, types.EventActionStarted)

	bus.Subscribe(func(e *types.Event) {
		log.Printf("[%d] validation error: %v", e.Iteration, e.Detail["messages"])
	}, types.EventValidationError)

	bus.Subscribe(func(e *types.Event) {
		log.Printf("navigation retry %v for %v", e.Detail["attempt"], e.Detail["url"])
	}, types.EventNavigationRetry)

	if verbose {
		bus.SubscribeAll(func(e *types.Event) {
			log.Printf("event %s: %+v", e.Type, e.Detail)
		})
	}
}
