package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/leeineian/gtatunes/audio"
	"github.com/leeineian/gtatunes/catalog"
	"github.com/leeineian/gtatunes/home"
	"github.com/leeineian/gtatunes/proc"
	"github.com/leeineian/gtatunes/sys"
)

const (
	MsgBotStarting       = "Starting %s..."
	MsgBotShutdown       = "%s has been shut down."
	MsgBotRegisterFail   = "Failed to register commands: %v"
	MsgBotKillingOld     = "Killing running instance... (PID: %d)"
	MsgBotOldTerminated  = "Old instance terminated."
	MsgBotRestoreFail    = "Failed to restore players: %v"
	MsgBotSaveFail       = "Final autosave failed: %v"
	MsgBotSkipReg        = "Skipping command registration as requested."
	MsgBotShuttingDown   = "Shutting down all daemons..."
	MsgBotGenericFailure = "Fatal error: %v"

	pidFile         = ".bot.pid"
	shutdownTimeout = 10 * time.Second
)

func main() {
	// LogFatal panics so deferred cleanup still runs.
	defer func() {
		if r := recover(); r != nil {
			if msg, ok := r.(string); ok {
				fmt.Fprintf(os.Stderr, "\n[FATAL] %s\n", msg)
				os.Exit(1)
			}
			panic(r)
		}
	}()

	cfg, err := sys.LoadConfig()
	if err != nil {
		sys.LogFatal(sys.MsgConfigFailedToLoad, err)
	}

	silent := flag.Bool("silent", cfg.Silent, "Disable all log output")
	skipReg := flag.Bool("skip-reg", false, "Skip command registration")
	clearAll := flag.Bool("clear-all", false, "Force clear guild commands (scan all guilds)")
	flag.Parse()

	sys.InitLogger(*silent, true)

	if err := sys.InitDatabase(context.Background(), cfg.DatabasePath); err != nil {
		sys.LogFatal(sys.MsgDatabaseInitFail, err)
	}
	defer sys.CloseDatabase()

	sys.LogInfo(MsgBotStarting, sys.GetProjectName())

	release := acquirePIDLock()
	defer release()

	if err := run(cfg, *silent, *skipReg, *clearAll); err != nil {
		sys.LogFatal(MsgBotGenericFailure, err)
	}
}

// acquirePIDLock takes an exclusive lock on the PID file, terminating the
// instance that holds it.
func acquirePIDLock() func() {
	f, err := os.OpenFile(pidFile, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		sys.LogFatal("Failed to open PID file: %v", err)
	}

	for {
		err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if err != syscall.EWOULDBLOCK {
			sys.LogFatal("Failed to lock PID file: %v", err)
		}

		var oldPid int
		_, _ = f.Seek(0, 0)
		if _, err := fmt.Fscanf(f, "%d", &oldPid); err != nil || oldPid == os.Getpid() {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		process, err := os.FindProcess(oldPid)
		if err != nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		sys.LogInfo(MsgBotKillingOld, oldPid)
		_ = process.Signal(syscall.SIGTERM)
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if process.Signal(syscall.Signal(0)) != nil {
				break
			}
			time.Sleep(100 * time.Millisecond)
		}
		if process.Signal(syscall.Signal(0)) == nil {
			sys.LogWarn("Old process %d is stubborn. Sending SIGKILL...", oldPid)
			_ = process.Signal(syscall.SIGKILL)
		}
		sys.LogInfo(MsgBotOldTerminated)
	}

	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	_, _ = fmt.Fprintf(f, "%d", os.Getpid())
	_ = f.Sync()

	return func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		_ = os.Remove(pidFile)
	}
}

func run(cfg *sys.Config, silent, skipReg, clearAll bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	sys.SetAppContext(ctx)

	client, err := sys.CreateClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create Discord client: %w", err)
	}

	gtaTunes := catalog.NewClient(cfg.GTATunesHost)
	transport := audio.NewTransport(client)
	registry := proc.NewRegistry(proc.RegistryOptions{
		Catalog:         gtaTunes,
		Transport:       transport,
		Messenger:       home.NewMessenger(client, gtaTunes),
		Settings:        sys.NewGuildSettingsStore(sys.DB),
		Hub:             proc.NewHub(home.Occupancy(client)),
		EmptyChannelTTL: cfg.EmptyChannelTTL,
		OnCreate:        home.WatchSession,
	})
	autosaver := proc.NewAutosaver(registry, home.NewVerifier(client), proc.AutosaveOptions{
		Path:     cfg.AutosavePath,
		Interval: cfg.AutosaveInterval,
	})

	home.Bind(&home.App{
		Client:    client,
		Catalog:   gtaTunes,
		Registry:  registry,
		Transport: transport,
	})

	sys.OnGuildsReady(func(ctx context.Context, _ *bot.Client) {
		if _, err := autosaver.Restore(ctx); err != nil {
			sys.LogAutosave(MsgBotRestoreFail, err)
		}
	})
	sys.RegisterDaemon(sys.LogAutosave, func(ctx context.Context) (bool, func(), func()) {
		daemonCtx, cancel := context.WithCancel(ctx)
		return true, func() { autosaver.Run(daemonCtx) }, cancel
	})
	rotator := home.NewStatusRotator(client, registry)
	sys.RegisterDaemon(sys.LogBot, func(ctx context.Context) (bool, func(), func()) {
		daemonCtx, cancel := context.WithCancel(ctx)
		return true, func() { rotator.Run(daemonCtx) }, cancel
	})

	if !skipReg {
		if err := sys.RegisterCommands(client, cfg.GuildID, clearAll); err != nil {
			sys.LogError(MsgBotRegisterFail, err)
		}
	} else {
		sys.LogInfo(MsgBotSkipReg)
	}

	if err := client.OpenGateway(ctx); err != nil {
		return fmt.Errorf("failed to open gateway: %w", err)
	}

	<-ctx.Done()
	if !silent {
		fmt.Println()
	}

	sys.LogInfo(MsgBotShuttingDown)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	sys.ShutdownDaemons(shutdownCtx)
	if err := autosaver.Save(); err != nil {
		sys.LogAutosave(MsgBotSaveFail, err)
	}
	registry.Shutdown()
	transport.Shutdown(shutdownCtx)

	name := sys.GetProjectName()
	if self, ok := client.Caches.SelfUser(); ok {
		name = self.Username
	}
	client.Close(shutdownCtx)
	sys.LogInfo(MsgBotShutdown, name)
	return nil
}
