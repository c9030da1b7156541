package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/go-ticketchat/internal/api"
	"github.com/npezzotti/go-ticketchat/internal/chat"
	"github.com/npezzotti/go-ticketchat/internal/config"
	"github.com/npezzotti/go-ticketchat/internal/stats"
)

var (
	configPath string
	envFile    string
	serverURL  string
	apiBase    string
	ticketId   int
	channel    string
	token      string
	tokenFile  string
	debugAddr  string
	verbose    bool
)

func main() {
	flag.StringVar(&configPath, "config", "", "path to a config file (json, yaml or toml)")
	flag.StringVar(&envFile, "env-file", ".env", "dotenv file loaded into the environment before reading config")
	flag.StringVar(&serverURL, "server", "", "chat server base url (default "+config.DefaultServerURL+")")
	flag.StringVar(&apiBase, "api", "", "REST API base url (default "+config.DefaultAPIBase+")")
	flag.IntVar(&ticketId, "ticket", 0, "ticket id")
	flag.StringVar(&channel, "channel", "", "conversation channel: client_employee or admin_employee")
	flag.StringVar(&token, "token", "", "access token")
	flag.StringVar(&tokenFile, "token-file", "", "file holding the access token, re-read on every reconnect")
	flag.StringVar(&debugAddr, "debug-addr", "", "address for the /debug/vars and /metrics server, disabled when empty")
	flag.BoolVar(&verbose, "v", false, "log connection details to stderr")
	flag.Parse()

	logger := log.New(os.Stderr, "[ticketchat] ", log.LstdFlags)

	if err := loadEnvFile(envFile); err != nil {
		logger.Fatal("env file: ", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal("config: ", err)
	}

	sessionLog := logger
	if !verbose {
		sessionLog = log.New(io.Discard, "", 0)
	}

	var (
		statsProvider stats.StatsProvider = stats.Nop{}
		debug         *debugServer
		errCh         = make(chan error, 1)
	)
	if cfg.DebugAddr != "" {
		debug, err = newDebugServer(cfg.DebugAddr, logger)
		if err != nil {
			logger.Fatal("debug server: ", err)
		}
		statsProvider = debug.provider
		go func() {
			errCh <- debug.Start()
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tokens := cfg.TokenSource()
	client := api.NewClient(cfg.APIBase, tokens, nil, sessionLog)

	self, err := client.ResolveSelf(ctx)
	if err != nil {
		logger.Fatal("resolve user: ", err)
	}

	session, err := chat.Open(ctx, chat.Options{
		BaseURL:  cfg.ServerURL,
		TicketId: cfg.TicketId,
		Channel:  cfg.ChannelType(),
		Tokens:   tokens,
		Stats:    statsProvider,
		Logger:   sessionLog,
	}, self)
	if err != nil {
		logger.Fatal("open chat: ", err)
	}

	fmt.Printf("ticket #%d (%s) as %s, /help for commands\n", cfg.TicketId, cfg.Channel, self.Username)

	con := newConsole(session, self, os.Stdout)
	updates, cancel := session.Subscribe()
	defer cancel()

	renderDone := make(chan struct{})
	ended := make(chan struct{})
	go func() {
		defer close(renderDone)
		forced := false
		for st := range updates {
			con.render(st)
			if st.Conn == chat.StateForcedDisconnect && !forced {
				forced = true
				close(ended)
			}
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

loop:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if err := con.handleLine(line); errors.Is(err, errQuit) {
				break loop
			}
		case <-ended:
			break loop
		case <-ctx.Done():
			logger.Println("received signal, leaving conversation")
			break loop
		case err := <-errCh:
			logger.Println("debug server:", err)
			break loop
		}
	}

	session.Close()
	<-renderDone

	if debug != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := debug.Shutdown(shutdownCtx); err != nil {
			logger.Println(err)
		}
	}
}

// loadEnvFile loads path into the environment without overriding
// variables already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// loadConfig merges the config file and environment with the command
// line, which wins, and validates the result.
func loadConfig() (*config.Config, error) {
	cfg, err := config.ReadConfig(configPath)
	if err != nil {
		return nil, err
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["server"] {
		cfg.ServerURL = serverURL
	}
	if set["api"] {
		cfg.APIBase = apiBase
	}
	if set["ticket"] {
		cfg.TicketId = ticketId
	}
	if set["channel"] {
		cfg.Channel = channel
	}
	if set["token"] {
		cfg.Token = token
	}
	if set["token-file"] {
		cfg.TokenFile = tokenFile
	}
	if set["debug-addr"] {
		cfg.DebugAddr = debugAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
