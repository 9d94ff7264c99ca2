package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"AdReel-server/models"
	"AdReel-server/pipeline"
)

const openaiProvider = "openai"

// GenerateSchema reflects a JSON schema for structured outputs.
func GenerateSchema[T any]() interface{} {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

var scriptSchema = GenerateSchema[models.Script]()

type OpenAIOptions struct {
	APIKey      string
	BaseURL     string
	ScriptModel string
	ImageModel  string
	ImageSize   string
	// MaxDialogueWords and SceneDuration are stated in the script prompt.
	MaxDialogueWords int
	SceneDuration    int
}

// OpenAIClient writes ideas and scripts, and renders scene keyframes.
type OpenAIClient struct {
	client openai.Client
	opts   OpenAIOptions
	blobs  pipeline.BlobStore
}

func NewOpenAIClient(opts OpenAIOptions, blobs pipeline.BlobStore) *OpenAIClient {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		// retries are owned by the pipeline
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &OpenAIClient{client: openai.NewClient(reqOpts...), opts: opts, blobs: blobs}
}

func (c *OpenAIClient) GenerateIdea(ctx context.Context, productName, productDescription string) (string, error) {
	prompt := FormatPrompt(MustPrompt("idea"), map[string]string{
		"ProductName":        productName,
		"ProductDescription": productDescription,
	})
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model:       openai.ChatModel(c.opts.ScriptModel),
		Temperature: openai.Float(0.8),
	})
	if err != nil {
		return "", classifyOpenAI(err)
	}
	if len(completion.Choices) == 0 {
		return "", &pipeline.TransientProviderError{Provider: openaiProvider, Message: "no choices in idea response"}
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) GenerateScript(ctx context.Context, req pipeline.ScriptRequest) (*models.Script, error) {
	prompt := FormatPrompt(MustPrompt("script"), map[string]string{
		"ProductName":        req.ProductName,
		"ProductDescription": req.ProductDescription,
		"Idea":               req.Idea,
		"SceneDuration":      strconv.Itoa(c.opts.SceneDuration),
		"MaxWords":           strconv.Itoa(c.opts.MaxDialogueWords),
	})

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model:       openai.ChatModel(c.opts.ScriptModel),
		Temperature: openai.Float(0.5),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "ad_script",
					Description: openai.String("Scene-by-scene video ad script"),
					Schema:      scriptSchema,
					Strict:      openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return nil, classifyOpenAI(err)
	}
	if len(completion.Choices) == 0 {
		return nil, &pipeline.TransientProviderError{Provider: openaiProvider, Message: "no choices in script response"}
	}

	raw := completion.Choices[0].Message.Content
	var script models.Script
	if err := json.Unmarshal([]byte(cleanJSONBlock(raw)), &script); err != nil {
		// 模型偶尔输出截断的 JSON，重试通常可以恢复
		return nil, &pipeline.TransientProviderError{Provider: openaiProvider, Message: "invalid script JSON", Cause: err}
	}
	return &script, nil
}

func (c *OpenAIClient) GenerateImage(ctx context.Context, scene models.Scene, dstKey string) error {
	resp, err := c.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         scene.ImagePrompt(),
		Model:          openai.ImageModel(c.opts.ImageModel),
		Size:           openai.ImageGenerateParamsSize(c.opts.ImageSize),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
		N:              openai.Int(1),
	})
	if err != nil {
		return classifyOpenAI(err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return &pipeline.TransientProviderError{Provider: openaiProvider, Message: fmt.Sprintf("no image for scene %d", scene.ID)}
	}
	png, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return &pipeline.PermanentError{Provider: openaiProvider, Message: "decode image", Cause: err}
	}
	return c.blobs.Put(ctx, dstKey, bytes.NewReader(png), int64(len(png)))
}

// classifyOpenAI maps SDK errors onto the pipeline's retry taxonomy.
func classifyOpenAI(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if classified := pipeline.ClassifyHTTPStatus(openaiProvider, apiErr.StatusCode, apiErr.Message); classified != nil {
			return classified
		}
	}
	return &pipeline.TransientProviderError{Provider: openaiProvider, Cause: err}
}

// cleanJSONBlock removes markdown code block wrappers from JSON
func cleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
