package config

// DefaultConfig returns the baseline configuration before file and
// environment overrides are applied.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:        "0.0.0.0",
			Port:      8000,
			AuthToken: "",
		},
		Log: LogConfig{
			Level:  "INFO",
			Dir:    "logs",
			File:   "server.log",
			Format: "json",
		},
		Vision: VisionConfig{
			Type:        "openai",
			ModelName:   "gpt-4o",
			Temperature: 0.1,
			MaxTokens:   2000,
			Detail:      "high",
		},
		Upload: UploadConfig{
			MaxFileSize: 20 * 1024 * 1024,
			MaxPixels:   50_000_000,
			MaxWidth:    10000,
			MaxHeight:   10000,
			AllowedFormats: []string{
				"image/jpeg", "image/jpg", "image/png", "image/webp",
				"image/gif", "image/avif", "image/heic", "image/heif",
			},
		},
		Prompt: PromptConfig{
			Path: "prompt.txt",
		},
	}
}
