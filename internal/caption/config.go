package caption

import (
	"fmt"
)

const DefaultPrompt = "Describe this image in one short sentence."

// Config holds the configuration for the vision captioning client.
// Works with any OpenAI-compatible chat completions endpoint that accepts
// image_url content parts (OpenRouter, OpenAI, local gateways).
//
// Timeout is in seconds; 0 disables the client timeout so a slow model
// keeps its job in processing until it answers.
type Config struct {
	APIKey    string `json:"api_key"`
	APIURL    string `json:"api_url"`
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
	Timeout   int    `json:"timeout"`
	SiteURL   string `json:"site_url"`
	AppName   string `json:"app_name"`
}

func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.APIURL == "" {
		return fmt.Errorf("API URL is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max tokens must be greater than 0")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}

// GetHeaders returns the headers for the captioning API request
func (c *Config) GetHeaders() map[string]string {
	headers := map[string]string{
		"Authorization": "Bearer " + c.APIKey,
		"Content-Type":  "application/json",
	}

	if c.SiteURL != "" {
		headers["HTTP-Referer"] = c.SiteURL
	}
	if c.AppName != "" {
		headers["X-Title"] = c.AppName
	}

	return headers
}
