package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/telemod/joingate_bot/internal/bot"
	"github.com/telemod/joingate_bot/internal/config"
	"github.com/telemod/joingate_bot/internal/db"
	"github.com/telemod/joingate_bot/internal/session"
	"github.com/telemod/joingate_bot/internal/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	database, err := db.New(cfg)
	if err != nil {
		log.Fatalf("Error connecting to database: %v", err)
	}
	defer database.Close()

	err = db.RunMigrations(database.Conn, "db_scripts/init.sql")
	if err != nil {
		log.Fatalf("Error running migrations: %v", err)
	}

	client, err := telegram.NewClient(cfg.BotToken)
	if err != nil {
		log.Fatalf("Error creating telegram bot: %v", err)
	}

	sessionRepo := db.NewSessionRepository(database.Conn)
	store := session.NewStore(sessionRepo)

	service := bot.New(
		client,
		store,
		cfg.ModerationChatID,
		cfg.MainChatID,
		cfg.ErrorChatID,
		client.Self().ID,
	)

	if err := service.Restore(); err != nil {
		log.Fatalf("Error restoring sessions: %v", err)
	}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		log.Printf("shutting down")
		client.Stop()
	}()

	log.Printf("Bot started as @%s", client.Self().UserName)

	service.Run(client.Updates(60))

	// Let in-flight button retraction finish before exiting.
	service.Drain()
}
