package cmd

import (
	"os"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/spf13/viper"

	"github.com/joescharf/ait/internal/llm"
)

// newLLMClient creates an LLM client from config/env, or returns nil if no API key is configured.
func newLLMClient() *llm.Client {
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil
	}
	var opts []option.RequestOption
	if base := viper.GetString("anthropic.base_url"); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	return llm.NewClient(apiKey, viper.GetString("anthropic.model"), opts...)
}
