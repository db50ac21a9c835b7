package config

type Config struct {
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
	Vision VisionConfig `yaml:"vision"`
	Upload UploadConfig `yaml:"upload"`
	Prompt PromptConfig `yaml:"prompt"`
}

type ServerConfig struct {
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
	// AuthToken is the optional static bearer secret. Empty disables auth.
	AuthToken string `yaml:"auth_token"`
}

type LogConfig struct {
	Level  string `yaml:"log_level"`
	Dir    string `yaml:"log_dir"`
	File   string `yaml:"log_file"`
	Format string `yaml:"log_format"`
}

// VisionConfig describes the external vision-language model endpoint.
type VisionConfig struct {
	Type        string  `yaml:"type"`
	ModelName   string  `yaml:"model_name"`
	BaseURL     string  `yaml:"url"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Detail      string  `yaml:"detail"`
}

// UploadConfig bounds accepted image payloads.
type UploadConfig struct {
	MaxFileSize    int64    `yaml:"max_file_size"`
	MaxPixels      int64    `yaml:"max_pixels"`
	MaxWidth       int      `yaml:"max_width"`
	MaxHeight      int      `yaml:"max_height"`
	AllowedFormats []string `yaml:"allowed_formats"`
}

type PromptConfig struct {
	Path string `yaml:"path"`
}
