package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"boxcount-server-go/internal/platform/config"
	"boxcount-server-go/internal/platform/errors"
	"boxcount-server-go/internal/platform/logging"
	"boxcount-server-go/internal/platform/observability"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// thinkPattern removes reasoning-model scratchpads from replies.
var thinkPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Gateway makes the single outbound call to the external vision-language
// model. One blocking round trip per request; no retry, no caching.
type Gateway struct {
	cfg    *config.VisionConfig
	logger *logging.Logger

	openaiClient *openai.Client
	httpClient   *http.Client
}

// ollamaRequest is the non-streaming /api/chat payload.
type ollamaRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaMessage        `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Message   struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// NewGateway builds the long-lived gateway client for the configured provider.
func NewGateway(cfg *config.VisionConfig, logger *logging.Logger) (*Gateway, error) {
	if cfg == nil {
		return nil, errors.New(errors.KindConfig, "gateway.new", "vision config is required")
	}
	if logger == nil {
		logger = logging.DefaultLogger
	}

	g := &Gateway{
		cfg:        cfg,
		logger:     logger,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}

	switch strings.ToLower(cfg.Type) {
	case "openai":
		if cfg.APIKey == "" {
			return nil, errors.New(errors.KindConfig, "gateway.new", "OpenAI API key is required")
		}

		clientConfig := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
		g.openaiClient = openai.NewClientWithConfig(clientConfig)

	case "ollama":
		if g.cfg.BaseURL == "" {
			g.cfg.BaseURL = defaultOllamaBaseURL
		}

	default:
		return nil, errors.New(errors.KindConfig, "gateway.new",
			fmt.Sprintf("unsupported vision provider type: %s", cfg.Type))
	}

	logger.InfoTag("GATEWAY", "vision gateway initialized: type=%s model=%s", cfg.Type, cfg.ModelName)
	return g, nil
}

// Analyze sends the prompt plus the base64-encoded image to the model and
// returns the raw text reply with reasoning scratchpads stripped.
func (g *Gateway) Analyze(ctx context.Context, imageBase64, promptText string) (string, error) {
	ctx, spanEnd := observability.StartSpan(ctx, "gateway", "analyze")

	var (
		reply string
		err   error
	)
	switch strings.ToLower(g.cfg.Type) {
	case "openai":
		reply, err = g.analyzeWithOpenAI(ctx, imageBase64, promptText)
	case "ollama":
		reply, err = g.analyzeWithOllama(ctx, imageBase64, promptText)
	default:
		err = errors.New(errors.KindInternal, "gateway.analyze",
			fmt.Sprintf("unsupported vision provider type: %s", g.cfg.Type))
	}
	spanEnd(err)

	if err != nil {
		return "", err
	}

	return stripThinkTags(reply), nil
}

func (g *Gateway) analyzeWithOpenAI(ctx context.Context, imageBase64, promptText string) (string, error) {
	message := openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{
				Type: openai.ChatMessagePartTypeText,
				Text: promptText,
			},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    fmt.Sprintf("data:image/jpeg;base64,%s", imageBase64),
					Detail: openai.ImageURLDetail(g.cfg.Detail),
				},
			},
		},
	}

	resp, err := g.openaiClient.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.cfg.ModelName,
		Messages:    []openai.ChatCompletionMessage{message},
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: float32(g.cfg.Temperature),
	})
	if err != nil {
		g.logger.ErrorTag("GATEWAY", "OpenAI vision call failed: %v", err)
		return "", errors.Wrap(errors.KindUpstream, "gateway.analyze",
			fmt.Sprintf("AI analysis failed: %v", err), err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New(errors.KindUpstream, "gateway.analyze",
			"AI analysis failed: model returned no choices")
	}

	g.logger.DebugTag("GATEWAY", "OpenAI vision call succeeded: model=%s tokens=%d",
		g.cfg.ModelName, resp.Usage.TotalTokens)
	return resp.Choices[0].Message.Content, nil
}

func (g *Gateway) analyzeWithOllama(ctx context.Context, imageBase64, promptText string) (string, error) {
	request := ollamaRequest{
		Model: g.cfg.ModelName,
		Messages: []ollamaMessage{
			{
				Role:    "user",
				Content: promptText,
				// Ollama takes bare base64 without the data URL prefix.
				Images: []string{imageBase64},
			},
		},
		Stream: false,
		Options: map[string]interface{}{
			"temperature": g.cfg.Temperature,
			"num_predict": g.cfg.MaxTokens,
		},
	}

	body, err := json.Marshal(request)
	if err != nil {
		return "", errors.Wrap(errors.KindInternal, "gateway.analyze", "failed to marshal ollama request", err)
	}

	url := fmt.Sprintf("%s/api/chat", strings.TrimSuffix(g.cfg.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(errors.KindInternal, "gateway.analyze", "failed to build ollama request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.ErrorTag("GATEWAY", "ollama vision call failed: %v", err)
		return "", errors.Wrap(errors.KindUpstream, "gateway.analyze",
			fmt.Sprintf("AI analysis failed: %v", err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		g.logger.ErrorTag("GATEWAY", "ollama returned %s: %s", resp.Status, payload)
		return "", errors.New(errors.KindUpstream, "gateway.analyze",
			fmt.Sprintf("AI analysis failed: ollama returned status %d", resp.StatusCode))
	}

	var decoded ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", errors.Wrap(errors.KindUpstream, "gateway.analyze",
			fmt.Sprintf("AI analysis failed: %v", err), err)
	}

	return decoded.Message.Content, nil
}

func stripThinkTags(reply string) string {
	if !strings.Contains(reply, "<think>") {
		return reply
	}
	return strings.TrimSpace(thinkPattern.ReplaceAllString(reply, ""))
}
