package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	appconfig "github.com/wolfman30/send-money-agent/internal/config"
	"github.com/wolfman30/send-money-agent/internal/conversation"
)

var previewModels = []string{
	"gemini-3-flash-preview",
	"gemini-3-pro-preview",
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := appconfig.Load()
	if cfg.GoogleAPIKey == "" {
		fmt.Println("GOOGLE_API_KEY (or GEMINI_API_KEY) is not set")
		os.Exit(1)
	}

	models := append([]string{cfg.GeminiModel}, previewModels...)

	fmt.Println("Testing Gemini Models")
	fmt.Println(strings.Repeat("=", 60))

	failed := 0
	for _, model := range models {
		fmt.Printf("\nTesting %s...\n", model)
		text, elapsed, err := probe(cfg.GoogleAPIKey, model)
		if err != nil {
			failed++
			msg := err.Error()
			if len(msg) > 300 {
				msg = msg[:300]
			}
			fmt.Printf("❌ %s - FAILED\n", model)
			fmt.Printf("   Error: %s\n", msg)
			continue
		}
		fmt.Printf("✅ %s - SUCCESS (%v)\n", model, elapsed.Round(time.Millisecond))
		fmt.Printf("   Response: %s\n", text)
	}

	if failed == len(models) {
		os.Exit(1)
	}
}

func probe(apiKey, model string) (string, time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := conversation.NewGeminiLLMClient(ctx, apiKey, model)
	if err != nil {
		return "", 0, err
	}
	defer client.Close()

	start := time.Now()
	resp, err := client.Complete(ctx, conversation.LLMRequest{
		Turns:       []conversation.Turn{conversation.TextTurn(conversation.RoleUser, "Say 'Hello, I am working!'")},
		Temperature: 0.7,
	})
	if err != nil {
		return "", 0, err
	}
	return resp.Turn.Text(), time.Since(start), nil
}
