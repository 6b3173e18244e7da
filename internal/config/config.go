package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	BotToken         string
	ModerationChatID int64
	MainChatID       int64
	ErrorChatID      int64
	DBUser           string
	DBPassword       string
	DBName           string
	DBHost           string
	DBPort           string
}

func Load() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Printf("config.Load: no .env file found - using env variables")
	}

	cfg := &Config{
		BotToken:   os.Getenv("BOT_TOKEN"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     os.Getenv("DB_PORT"),
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("config.Load: BOT_TOKEN is required")
	}

	cfg.ModerationChatID, err = parseChatID("MODERATION_CHAT_ID")
	if err != nil {
		return nil, err
	}

	cfg.MainChatID, err = parseChatID("MAIN_CHAT_ID")
	if err != nil {
		return nil, err
	}

	cfg.ErrorChatID, err = parseChatID("ERROR_CHAT_ID")
	if err != nil {
		return nil, err
	}

	if cfg.DBUser == "" || cfg.DBPassword == "" || cfg.DBName == "" {
		return nil, fmt.Errorf("config.Load: DB_USER, DB_PASSWORD, DB_NAME are required")
	}

	if cfg.DBHost == "" {
		cfg.DBHost = "localhost"
	}

	if cfg.DBPort == "" {
		cfg.DBPort = "5432"
	}

	return cfg, nil
}

func parseChatID(name string) (int64, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, fmt.Errorf("config.Load: %s is required", name)
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config.Load: %s must be a chat id: %w", name, err)
	}

	return id, nil
}
