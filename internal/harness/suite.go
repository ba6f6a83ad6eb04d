package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SuiteOptions configures RunSuite.
type SuiteOptions struct {
	// Update rewrites golden files instead of comparing against them.
	Update bool
}

// ScenarioOutcome is the result of one scenario file.
type ScenarioOutcome struct {
	Name   string   `json:"name"`
	Path   string   `json:"path"`
	Pass   bool     `json:"pass"`
	Golden string   `json:"golden,omitempty"` // "match", "updated", "mismatch" or "" when absent
	Errors []string `json:"errors,omitempty"`
}

// SuiteResult summarizes a scenario run.
type SuiteResult struct {
	Scenarios []ScenarioOutcome `json:"scenarios"`
	Total     int               `json:"total"`
	Passed    int               `json:"passed"`
	Failed    int               `json:"failed"`
}

// Golden comparison states.
const (
	GoldenMatch    = "match"
	GoldenUpdated  = "updated"
	GoldenMismatch = "mismatch"
)

// FindScenarios returns the YAML files below dir, sorted. A non-empty filter
// is a glob matched against the file name without extension.
func FindScenarios(dir, filter string) ([]string, error) {
	if filter != "" {
		if _, err := filepath.Match(filter, ""); err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "golden" && path != dir {
				return filepath.SkipDir
			}
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			if matched, _ := filepath.Match(filter, name); !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})
	return files, err
}

// GoldenPath returns the golden file of a scenario file: a "golden"
// directory next to it, named after the file.
func GoldenPath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

// RunFile loads and runs one scenario file, then compares or updates its
// golden trace. A scenario without a golden file is judged by its
// assertions only.
func RunFile(path string, opts SuiteOptions) ScenarioOutcome {
	out := ScenarioOutcome{Name: filepath.Base(path), Path: path}

	scenario, err := LoadScenario(path)
	if err != nil {
		out.Errors = []string{fmt.Sprintf("failed to load scenario: %v", err)}
		return out
	}
	out.Name = scenario.Name

	result, err := Run(scenario)
	if err != nil {
		out.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return out
	}
	out.Errors = result.Errors

	trace, err := MarshalTrace(scenario, result)
	if err != nil {
		out.Errors = append(out.Errors, fmt.Sprintf("failed to marshal trace: %v", err))
		return out
	}

	goldenPath := GoldenPath(path)
	switch {
	case opts.Update:
		if err := os.MkdirAll(filepath.Dir(goldenPath), 0o755); err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("failed to create golden directory: %v", err))
			return out
		}
		if err := os.WriteFile(goldenPath, trace, 0o644); err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("failed to write golden file: %v", err))
			return out
		}
		out.Golden = GoldenUpdated

	default:
		golden, err := os.ReadFile(goldenPath)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			out.Errors = append(out.Errors, fmt.Sprintf("failed to read golden file: %v", err))
			return out
		case bytes.Equal(bytes.TrimSpace(golden), trace):
			out.Golden = GoldenMatch
		default:
			out.Golden = GoldenMismatch
			out.Errors = append(out.Errors, "trace does not match golden file (run with --update to regenerate)")
		}
	}

	out.Pass = result.Pass && out.Golden != GoldenMismatch
	return out
}

// RunSuite runs every scenario file and tallies the outcomes.
func RunSuite(paths []string, opts SuiteOptions) *SuiteResult {
	res := &SuiteResult{
		Scenarios: make([]ScenarioOutcome, 0, len(paths)),
		Total:     len(paths),
	}
	for _, path := range paths {
		out := RunFile(path, opts)
		res.Scenarios = append(res.Scenarios, out)
		if out.Pass {
			res.Passed++
		} else {
			res.Failed++
		}
	}
	return res
}
