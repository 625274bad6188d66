package main

import (
	"context"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/cityduty/dutybot/internal/bot"
	"github.com/cityduty/dutybot/internal/store"
)

func main() {
	// Best-effort: a .env file is a local-development convenience.
	_ = godotenv.Load()

	log.Println("Starting City Duty bot...")

	cfg := loadConfig()

	st, err := store.New()
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()

	b, err := bot.New(bot.Config{
		Token:    cfg.Token,
		DutyChat: cfg.DutyChat,
		Debug:    cfg.Debug,
	}, st)
	if err != nil {
		log.Fatalf("Failed to initialize bot: %v", err)
	}

	log.Println("Bot is running. Press Ctrl+C to stop.")

	if err := b.Run(context.Background()); err != nil {
		log.Fatalf("Bot error: %v", err)
	}
}

type Config struct {
	Token    string
	DutyChat int64
	Debug    bool
}

func loadConfig() Config {
	cfg := Config{
		Token: mustGetEnv("BOT_TOKEN"),
		Debug: os.Getenv("DEBUG") == "1",
	}

	dutyChatStr := mustGetEnv("DUTY_CHAT_ID")
	dutyChat, err := strconv.ParseInt(dutyChatStr, 10, 64)
	if err != nil {
		log.Fatalf("Invalid DUTY_CHAT_ID: %v", err)
	}
	cfg.DutyChat = dutyChat

	return cfg
}

func mustGetEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("Required environment variable %s is not set", key)
	}
	return value
}
