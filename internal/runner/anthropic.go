package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/rgoodall/quartermaster/pkg/models"
)

// ClientConfig contains configuration for the Anthropic-backed runner.
type ClientConfig struct {
	// Model is the model to use (e.g., anthropic.ModelClaudeSonnet4_20250514).
	Model anthropic.Model
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY env var.
	APIKey string
	// UseAWSBedrock indicates whether to use AWS Bedrock instead of direct API.
	UseAWSBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
}

// AnthropicRunner executes payloads against the Anthropic Messages API.
type AnthropicRunner struct {
	inner anthropic.Client
	model anthropic.Model
}

// NewAnthropicRunner creates a runner over the direct API or AWS Bedrock.
func NewAnthropicRunner(cfg ClientConfig) (*AnthropicRunner, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		ctx := context.Background()

		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}

		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, NewError(CodeNotConfigured, false,
				errors.New("ANTHROPIC_API_KEY environment variable is not set"))
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	if cfg.UseAWSBedrock {
		model = translateModelForBedrock(model)
	}

	return &AnthropicRunner{inner: anthropic.NewClient(opts...), model: model}, nil
}

// translateModelForBedrock converts standard model names to Bedrock
// cross-region inference profile format: us.anthropic.{model}-v1:0.
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}

	if bedrockModel, ok := bedrockModels[model]; ok {
		return anthropic.Model(bedrockModel)
	}
	return model
}

// Model returns the configured model name.
func (r *AnthropicRunner) Model() string {
	return string(r.model)
}

// pricing is approximate per-million-token cost in USD, input and output
// averaged, used to charge the ledger. Unknown models use the default row.
var pricing = map[string]float64{
	"claude-sonnet": 9.0,
	"claude-haiku":  2.4,
	"claude-opus":   45.0,
}

const defaultPricePerMTok = 9.0

func pricePerToken(model string) float64 {
	for prefix, perMTok := range pricing {
		if strings.Contains(model, prefix) {
			return perMTok / 1_000_000
		}
	}
	return defaultPricePerMTok / 1_000_000
}

// Execute implements Runner.
func (r *AnthropicRunner) Execute(ctx context.Context, payload Payload, budget models.ResourceBudget) (Result, error) {
	maxTokens := budget.MaxTokens
	if maxTokens <= 0 {
		return Result{}, NewError(CodeRejected, false,
			fmt.Errorf("node %s has a zero token budget", payload.NodeID))
	}

	log.Printf("[runner] node=%s attempt=%d role=%s model=%s max_tokens=%d",
		payload.NodeID, payload.Attempt, payload.Role, r.model, maxTokens)

	resp, err := r.inner.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       r.model,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(payload.Temperature),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt(payload)},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(payload.Prompt)),
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, NewError(CodeTimeout, true, ctx.Err())
		}
		return Result{}, NewError(CodeTransport, true, err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			out.WriteString(variant.Text)
		}
	}

	tokens := resp.Usage.InputTokens + resp.Usage.OutputTokens
	return Result{
		Output:     out.String(),
		TokensUsed: tokens,
		CostUSD:    float64(tokens) * pricePerToken(string(r.model)),
	}, nil
}

// systemPrompt frames the payload's role for the model.
func systemPrompt(payload Payload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are acting as the %s for one subtask of a larger plan.", payload.Role)
	if payload.Capability != "" {
		fmt.Fprintf(&b, " Your specialty is %s.", payload.Capability)
	}
	b.WriteString(" Produce only the deliverable for this subtask.")
	return b.String()
}
