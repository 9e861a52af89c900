// File: cmd/planfile.go
// Description: Plans travel between commands as a JSON file: `plan` and
// `autoplan` write one, `exec` reads it back. The file holds drafted
// actions only; approval never persists, it happens live in `exec`.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	homedir "github.com/mitchellh/go-homedir"

	"github.com/karavolt/deskpilot-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// defaultPlanPath is used when no --plan flag is given.
const defaultPlanPath = "~/deskpilot/plan.json"

// planFile is the on-disk shape.
type planFile struct {
	Actions  []schemas.Action         `json:"actions"`
	Previews []schemas.PreviewSummary `json:"previews,omitempty"`
}

func resolvePlanPath(path string) (string, error) {
	if path == "" {
		path = defaultPlanPath
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("cannot expand plan path %q: %w", path, err)
	}
	return filepath.Clean(expanded), nil
}

func savePlan(path string, pf planFile) error {
	resolved, err := resolvePlanPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("cannot create plan directory: %w", err)
	}
	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot encode plan: %w", err)
	}
	if err := os.WriteFile(resolved, data, 0o644); err != nil {
		return fmt.Errorf("cannot write plan: %w", err)
	}
	return nil
}

func loadPlan(path string) (planFile, string, error) {
	resolved, err := resolvePlanPath(path)
	if err != nil {
		return planFile{}, "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return planFile{}, resolved, fmt.Errorf("cannot read plan %q: %w", resolved, err)
	}
	var pf planFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return planFile{}, resolved, fmt.Errorf("corrupt plan file %q: %w", resolved, err)
	}
	return pf, resolved, nil
}
