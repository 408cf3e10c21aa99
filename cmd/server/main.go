package main

import (
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"netval/internal/ai"
	"netval/internal/config"
	"netval/internal/db"
	"netval/internal/engine"
	"netval/internal/jobs"
	"netval/internal/remediate"
	"netval/internal/sshio"
	"netval/internal/store"
	"netval/internal/vault"
	"netval/internal/web"

	"github.com/gofiber/fiber/v2"
)

func main() {
	cfg := config.Load()

	conn := db.Open(cfg.DBPath)

	creds := vault.New()
	st := store.New(conn, creds)
	jm := jobs.NewManager(st)
	eng := engine.New(st, jm)
	pool := sshio.NewPool(sshio.NewNetDialer(cfg.ConnectTimeout), cfg.MaxSSHConnections, cfg.CommandTimeout)
	applicator := remediate.NewApplicator(st, pool, creds, jm, cfg.RollbackRetention)
	bridge := ai.New(ai.Settings{
		Provider: cfg.LLMProvider,
		Model:    cfg.LLMModel,
		BaseURL:  cfg.LLMBaseURL,
		APIKey:   cfg.LLMAPIKey,
	})

	app := fiber.New(fiber.Config{
		AppName:               "netval",
		DisableStartupMessage: true,
	})
	web.NewServer(st, jm, eng, pool, creds, applicator, bridge).SetupRoutes(app)

	// Jobs do not survive a restart; mark leftovers failed on the way out.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		slog.Info("shutting down")
		if err := st.FailRunningJobs("server shut down"); err != nil {
			slog.Error("failing leftover jobs", "error", err)
		}
		if err := app.Shutdown(); err != nil {
			slog.Error("shutdown", "error", err)
		}
	}()

	addr := cfg.Host + ":" + cfg.Port
	log.Printf("Server running at http://%s\n", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}
