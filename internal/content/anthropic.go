package content

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/cory-johannsen/wildlands/internal/config"
	"github.com/cory-johannsen/wildlands/internal/game/world"
)

const systemPrompt = `You write terse content for a text adventure set on an endless grid.
Always answer with a single JSON object and nothing else.`

// AnthropicGenerator produces content through the Anthropic Messages API.
type AnthropicGenerator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	logger    *zap.Logger
}

var _ Generator = (*AnthropicGenerator)(nil)

// NewAnthropicGenerator builds a generator from cfg. Extra request options
// (base URL, HTTP client) are appended after the API key.
//
// Precondition: cfg.APIKey and cfg.Model must be non-empty; logger must be non-nil.
func NewAnthropicGenerator(cfg config.GeneratorConfig, logger *zap.Logger, opts ...option.RequestOption) *AnthropicGenerator {
	all := append([]option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}, opts...)
	if cfg.Timeout > 0 {
		all = append(all, option.WithRequestTimeout(cfg.Timeout))
	}
	return &AnthropicGenerator{
		client:    anthropic.NewClient(all...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger.Named("anthropic"),
	}
}

// GenerateBiome asks the model for a biome that suits the adjacent territory.
func (g *AnthropicGenerator) GenerateBiome(ctx context.Context, req BiomeRequest) (*BiomeProposal, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Invent a biome for the region around grid position %d,%d (world seed %d).\n",
		req.Coordinate.X, req.Coordinate.Y, req.Seed)
	if len(req.AdjacentBiomes) > 0 {
		fmt.Fprintf(&b, "Neighbouring regions: %s. Make it distinct from them but plausible beside them.\n",
			strings.Join(req.AdjacentBiomes, ", "))
	}
	b.WriteString(`Respond as {"name": string, "description": string, "color": "#RRGGBB"}.`)

	text, err := g.complete(ctx, b.String())
	if err != nil {
		return nil, err
	}
	return parseBiome(text)
}

// GenerateRoomDescription asks the model for a room description.
func (g *AnthropicGenerator) GenerateRoomDescription(ctx context.Context, rc RoomContext) (*RoomContent, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Describe the location at grid position %d,%d.\n", rc.Coordinate.X, rc.Coordinate.Y)
	if rc.Biome != nil {
		fmt.Fprintf(&b, "It lies in the %s: %s\n", rc.Biome.DisplayName, rc.Biome.Description)
	}
	if len(rc.NeighborTitles) > 0 {
		dirs := make([]string, 0, len(rc.NeighborTitles))
		for d := range rc.NeighborTitles {
			dirs = append(dirs, string(d))
		}
		sort.Strings(dirs)
		for _, d := range dirs {
			fmt.Fprintf(&b, "To the %s lies %q.\n", d, rc.NeighborTitles[world.Direction(d)])
		}
	}
	if rc.Landmark {
		b.WriteString("This is the region's landmark: make it memorable and unique.\n")
	}
	b.WriteString(`Respond as {"title": string, "description": string, "image_prompt": string, ` +
		`"monsters": [{"name": string, "description": string, "aggressive": bool}], "items": [string]}.`)

	text, err := g.complete(ctx, b.String())
	if err != nil {
		return nil, err
	}
	return parseRoom(text)
}

func (g *AnthropicGenerator) complete(ctx context.Context, prompt string) (string, error) {
	msg, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: g.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	g.logger.Debug("completion received",
		zap.String("model", g.model),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
	)
	return out.String(), nil
}

// extractObject returns the outermost JSON object in text, tolerating prose
// or code fences around it.
func extractObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", fmt.Errorf("%w: no JSON object in response", ErrInvalidContent)
	}
	obj := text[start : end+1]
	if !gjson.Valid(obj) {
		return "", fmt.Errorf("%w: malformed JSON in response", ErrInvalidContent)
	}
	return obj, nil
}

func parseBiome(text string) (*BiomeProposal, error) {
	obj, err := extractObject(text)
	if err != nil {
		return nil, err
	}
	fields := gjson.GetMany(obj, "name", "description", "color")
	return &BiomeProposal{
		Name:        strings.TrimSpace(fields[0].String()),
		Description: strings.TrimSpace(fields[1].String()),
		Color:       strings.TrimSpace(fields[2].String()),
	}, nil
}

func parseRoom(text string) (*RoomContent, error) {
	obj, err := extractObject(text)
	if err != nil {
		return nil, err
	}
	parsed := gjson.Parse(obj)
	rc := &RoomContent{
		Title:       strings.TrimSpace(parsed.Get("title").String()),
		Description: strings.TrimSpace(parsed.Get("description").String()),
		ImagePrompt: strings.TrimSpace(parsed.Get("image_prompt").String()),
		Monsters:    []MonsterSpec{},
		Items:       []string{},
	}
	parsed.Get("monsters").ForEach(func(_, m gjson.Result) bool {
		rc.Monsters = append(rc.Monsters, MonsterSpec{
			Name:        strings.TrimSpace(m.Get("name").String()),
			Description: strings.TrimSpace(m.Get("description").String()),
			Aggressive:  m.Get("aggressive").Bool(),
		})
		return true
	})
	parsed.Get("items").ForEach(func(_, it gjson.Result) bool {
		rc.Items = append(rc.Items, strings.TrimSpace(it.String()))
		return true
	})
	return rc, nil
}
