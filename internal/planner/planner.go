// File: internal/planner/planner.go
// Description: Turns a natural-language objective into drafted actions.
// The model proposes, strictly in JSON; this package coerces the
// proposal into typed actions and clamps anything oversized. Nothing
// the planner emits executes without going through the preview and
// approval gate like any hand-written action.
package planner

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/karavolt/deskpilot-cli/api/schemas"
	"github.com/karavolt/deskpilot-cli/internal/config"
	"github.com/karavolt/deskpilot-cli/internal/registry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const systemPrompt = `You are a desktop action planner. Given an objective, respond with ONLY a JSON array of action objects, no prose and no markdown fences. Each object has:
  "type": one of "fs.create_folder", "fs.write_file", "doc.create", "doc.open", "ui.preview_html", "ui.automation"
  "params": an object of string values for that action type.
Paths must be relative; they are resolved under the user's workspace. Prefer fs.write_file with complete content over ui.automation. Use ui.automation only for steps no other action type can express.`

// Planner drives the LLM and validates its output.
type Planner struct {
	llm      schemas.LLMClient
	registry *registry.Registry
	cfg      config.PlannerConfig
	logger   *zap.Logger
}

// New builds a Planner.
func New(llm schemas.LLMClient, reg *registry.Registry, cfg config.PlannerConfig, logger *zap.Logger) *Planner {
	if cfg.MaxContentBytes <= 0 {
		cfg.MaxContentBytes = 200_000
	}
	return &Planner{llm: llm, registry: reg, cfg: cfg, logger: logger.Named("planner")}
}

// proposedAction is the wire shape the model must produce.
type proposedAction struct {
	Type   string            `json:"type"`
	Params map[string]string `json:"params"`
}

// Plan asks the model for a plan and returns drafted actions. Every
// action is schema-validated here; a proposal with any invalid action
// is rejected whole, because a partial plan is worse than no plan.
func (p *Planner) Plan(ctx context.Context, objective string) ([]schemas.Action, error) {
	if strings.TrimSpace(objective) == "" {
		return nil, fmt.Errorf("empty objective")
	}
	raw, err := p.llm.Generate(ctx, systemPrompt, objective)
	if err != nil {
		return nil, err
	}

	proposals, err := parseProposals(raw)
	if err != nil {
		return nil, err
	}
	if len(proposals) == 0 {
		return nil, fmt.Errorf("planner produced no actions")
	}

	actions := make([]schemas.Action, 0, len(proposals))
	for i, prop := range proposals {
		action := schemas.NewAction(schemas.ActionType(prop.Type), p.normalize(prop.Params))
		if action.Type == schemas.ActionUIAutomation {
			action.SandboxOnly = true
		}
		if action.Type == schemas.ActionFSWriteFile || action.Type == schemas.ActionDocCreate {
			action.FallbackEligible = false
		}
		if _, err := p.registry.Validate(action); err != nil {
			return nil, fmt.Errorf("planner action %d invalid: %w", i, err)
		}
		actions = append(actions, action)
	}
	p.logger.Info("Planned actions",
		zap.String("objective", objective), zap.Int("count", len(actions)))
	return actions, nil
}

// parseProposals tolerates the fenced-JSON habit models never quite
// lose.
func parseProposals(raw string) ([]proposedAction, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	var proposals []proposedAction
	if err := json.Unmarshal([]byte(text), &proposals); err != nil {
		return nil, fmt.Errorf("planner output is not a JSON action array: %w", err)
	}
	return proposals, nil
}

// normalize rebases paths under the configured folder and clamps
// generated content.
func (p *Planner) normalize(params map[string]string) map[string]string {
	if params == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	for _, key := range []string{"path", "parent", "target_rel"} {
		v, ok := out[key]
		if !ok || v == "" {
			continue
		}
		if !filepath.IsAbs(v) && p.cfg.BaseFolder != "" && !strings.HasPrefix(v, p.cfg.BaseFolder+"/") && v != p.cfg.BaseFolder {
			out[key] = filepath.Join(p.cfg.BaseFolder, v)
		}
	}
	if content, ok := out["content"]; ok && len(content) > p.cfg.MaxContentBytes {
		out["content"] = content[:p.cfg.MaxContentBytes]
	}
	return out
}
