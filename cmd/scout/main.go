package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/chris/scout/config"
	"github.com/chris/scout/internal/agent"
	"github.com/chris/scout/internal/db"
	"github.com/chris/scout/internal/discord"
	"github.com/chris/scout/internal/llm"
	"github.com/chris/scout/internal/scheduler"
	"github.com/chris/scout/internal/search"
	"github.com/chris/scout/internal/session"
	"github.com/chris/scout/internal/tools"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()

	// History lives only as long as the process.
	database, err := db.Open(":memory:")
	if err != nil {
		log.Printf("failed to open database: %v", err)
		return 1
	}
	defer database.Close()

	client, err := llm.NewClient(llm.ProviderConfig{
		Provider: cfg.LLMProvider,
		APIKey:   cfg.APIKey(),
		Model:    cfg.LLMModel,
		BaseURL:  cfg.OllamaBaseURL,
	})
	if err != nil {
		log.Printf("failed to create LLM client: %v", err)
		return 1
	}

	if cfg.TavilyKey == "" {
		log.Printf("warning: TAVILY_API_KEY is not set, searches will fail")
	}
	registry := tools.NewSearchRegistry(search.NewTavilyClient(cfg.TavilyKey), cfg.SearchMaxResults)

	ag := agent.New(client, registry, agent.Options{
		MaxToolRounds:     cfg.MaxToolRounds,
		ParallelToolCalls: cfg.ParallelToolCalls,
		SystemPrompt:      llm.SystemPrompt,
		MaxContextTokens:  cfg.MaxContextTokens,
	})
	sessions := session.NewManager(database, llm.MessageBudget(cfg.MaxContextTokens, llm.SystemPrompt, registry.Specs()))

	sched, err := scheduler.New(sessions, cfg.PruneCron, cfg.ThreadMaxIdle)
	if err != nil {
		log.Printf("failed to create scheduler: %v", err)
		return 1
	}
	sched.Start()
	defer sched.Stop()

	// If Discord token is set, run as bot
	if cfg.DiscordToken != "" {
		return runBot(cfg, ag, sessions)
	}

	// Otherwise, CLI mode
	fd := os.Stdin.Fd()
	interactive := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	c := &cli{
		runner:      ag,
		sessions:    sessions,
		threadID:    cfg.ThreadID,
		turnTimeout: cfg.TurnTimeout,
		in:          os.Stdin,
		out:         os.Stdout,
		errOut:      os.Stderr,
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if interactive {
		c.repl(ctx)
		return 0
	}
	// single exchange in pipe mode
	if err := c.once(ctx); err != nil {
		return 1
	}
	return 0
}

func runBot(cfg *config.Config, ag *agent.Agent, sessions *session.Manager) int {
	bot, err := discord.NewBot(cfg.DiscordToken, ag, sessions, cfg.ThreadID, cfg.TurnTimeout)
	if err != nil {
		log.Printf("failed to start Discord bot: %v", err)
		return 1
	}
	defer bot.Close()

	log.Println("bot is running. Press Ctrl+C to exit.")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down.")
	return 0
}
