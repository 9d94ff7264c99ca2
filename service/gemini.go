package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"AdReel-server/models"
	"AdReel-server/pipeline"
)

const geminiProvider = "gemini"

// JSONGenerator produces a JSON document for a prompt.
type JSONGenerator interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// GeminiClient implements JSONGenerator for Google Gemini
type GeminiClient struct {
	client *genai.Client
	model  string
}

func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

func (c *GeminiClient) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	model := c.client.GenerativeModel(c.model)
	model.SetTemperature(0.2)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", classifyGemini(err)
	}
	text, err := extractText(resp)
	if err != nil {
		return "", &pipeline.TransientProviderError{Provider: geminiProvider, Cause: err}
	}
	return cleanJSONBlock(text), nil
}

func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}
	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}
	return strings.Join(parts, ""), nil
}

func classifyGemini(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if classified := pipeline.ClassifyHTTPStatus(geminiProvider, apiErr.Code, apiErr.Message); classified != nil {
			return classified
		}
	}
	return &pipeline.TransientProviderError{Provider: geminiProvider, Cause: err}
}

// verdictSchema is the Verdict JSON schema without draft metadata, shared by
// the prompt and the response validator.
var verdictSchema = func() string {
	r := &jsonschema.Reflector{AllowAdditionalProperties: false, DoNotReference: true}
	s := r.Reflect(&models.Verdict{})
	s.Version = ""
	s.ID = ""
	raw, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("verdict schema: %v", err))
	}
	return string(raw)
}()

// ScriptEvaluator scores scripts with an LLM in JSON mode and checks the
// answer against the Verdict schema before trusting it.
type ScriptEvaluator struct {
	llm JSONGenerator
}

func NewScriptEvaluator(llm JSONGenerator) *ScriptEvaluator {
	return &ScriptEvaluator{llm: llm}
}

func (e *ScriptEvaluator) EvaluateScript(ctx context.Context, req pipeline.ScriptRequest, script *models.Script) (*models.Verdict, error) {
	scriptJSON, err := json.Marshal(script)
	if err != nil {
		return nil, fmt.Errorf("marshal script: %w", err)
	}
	prompt := FormatPrompt(MustPrompt("evaluate"), map[string]string{
		"ProductName":        req.ProductName,
		"ProductDescription": req.ProductDescription,
		"Script":             string(scriptJSON),
		"Schema":             verdictSchema,
	})

	raw, err := e.llm.GenerateJSON(ctx, prompt)
	if err != nil {
		return nil, err
	}
	if err := validateVerdict(raw); err != nil {
		return nil, &pipeline.TransientProviderError{Provider: geminiProvider, Message: "verdict rejected", Cause: err}
	}
	var v models.Verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, &pipeline.TransientProviderError{Provider: geminiProvider, Message: "decode verdict", Cause: err}
	}
	v.Decision = strings.ToLower(strings.TrimSpace(v.Decision))
	return &v, nil
}

func validateVerdict(doc string) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(verdictSchema),
		gojsonschema.NewStringLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("invalid verdict: %s", strings.Join(msgs, "; "))
}
