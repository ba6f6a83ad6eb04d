package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/flowrt/internal/definition"
	"github.com/roach88/flowrt/internal/ir"
)

// Error code constants - unified across all CLI commands. Definition
// validation codes (E2xx) come from the definition package.
const (
	ErrCodeGeneric      = "E001" // Generic/unknown error
	ErrCodeLoadFailed   = "E004" // File could not be parsed
	ErrCodeNotFound     = "E005" // Path not found
	ErrCodeWriteFailed  = "E007" // File write error
	ErrCodeInvalidInput = "E008" // Bad flag or argument value
	ErrCodeTestFailed   = "E_TEST_FAILED"
	ErrCodeIntegrity    = "E_INTEGRITY"
)

// LoadError represents an error that occurred while reading an input file.
type LoadError struct {
	Code    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// errorCode returns the LoadError code of err, or ErrCodeGeneric.
func errorCode(err error) string {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code
	}
	return ErrCodeGeneric
}

// LoadDefinition reads a JSON, YAML or CUE definition file.
func LoadDefinition(path string) (*ir.Definition, error) {
	if err := checkFile(path, "definition"); err != nil {
		return nil, err
	}
	def, err := definition.Load(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "loading definition", Err: err}
	}
	return def, nil
}

// LoadContext reads a JSON or YAML document. An empty path yields an empty
// context.
func LoadContext(path string) (ir.Document, error) {
	if path == "" {
		return ir.Document{}, nil
	}
	if err := checkFile(path, "context file"); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "reading context", Err: err}
	}

	var raw any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &raw)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("unsupported context file extension %q", filepath.Ext(path))}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "parsing context", Err: err}
	}

	doc, err := ir.NormalizeDocument(raw)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "normalizing context", Err: err}
	}
	return doc, nil
}

func checkFile(path, what string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s not found: %s", what, path)}
	}
	if err != nil {
		return &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing %s", what), Err: err}
	}
	if info.IsDir() {
		return &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s is a directory: %s", what, path)}
	}
	return nil
}
