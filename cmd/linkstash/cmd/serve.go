package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"linkstash/internal/bot"
	"linkstash/internal/jobs"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Telegram bot with background enrichment",
	Long: `Run the Telegram bot. Messages containing links are saved immediately and
enriched in the background; pending enrichment jobs from earlier runs resume.
Requires TELEGRAM_BOT_TOKEN and TELEGRAM_ALLOWED_CHAT_IDS.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log.SetOutput(os.Stdout)
		if err := cfg.RequireBotToken(); err != nil {
			return err
		}

		log.WithFields(logrus.Fields{
			"badgerdb_path":   cfg.BadgerDBPath,
			"scraper_backend": cfg.ScraperBackend,
			"workers":         cfg.EnrichWorkers,
		}).Info("Configuration loaded successfully")

		// --- Initialize Components ---
		log.Info("Initializing components...")
		a, err := openApp(cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		botHandler, err := bot.NewHandler(cfg, a.links, log)
		if err != nil {
			return err
		}

		tasks := jobs.NewTaskExecutor([]jobs.CronJob{
			jobs.NewGCTask(cfg.GCSchedule, a.repo),
			jobs.NewSweepTask(cfg.SweepSchedule, a.repo, a.scheduler, log),
		}, log)

		// --- Application Startup ---
		log.Info("Starting linkstash...")
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := a.scheduler.Start(ctx); err != nil {
			return err
		}
		if err := tasks.Start(ctx); err != nil {
			return err
		}
		defer tasks.Stop()

		go botHandler.Start(ctx)

		log.Info("linkstash is running. Press Ctrl+C to exit.")
		<-ctx.Done()

		// --- Graceful Shutdown ---
		log.Info("Shutting down linkstash...")
		stop()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
