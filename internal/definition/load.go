package definition

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/flowrt/internal/ir"
)

// Format is a definition source format.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCUE  Format = "cue"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", fmt.Errorf("unsupported definition file extension %q", filepath.Ext(path))
	}
}

// Load reads a definition file. The format follows the file extension.
func Load(path string) (*ir.Definition, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	def, err := parse(data, format, path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return def, nil
}

// Parse decodes a definition from memory.
func Parse(data []byte, format Format) (*ir.Definition, error) {
	return parse(data, format, "definition."+string(format))
}

func parse(data []byte, format Format, filename string) (*ir.Definition, error) {
	switch format {
	case FormatJSON:
		return decodeJSON(data)
	case FormatYAML:
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode definition: %w", err)
		}
		js, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("decode definition: %w", err)
		}
		return decodeJSON(js)
	case FormatCUE:
		v := cuecontext.New().CompileBytes(data, cue.Filename(filename))
		if err := v.Err(); err != nil {
			return nil, formatCUEError(err)
		}
		if nested := v.LookupPath(cue.ParsePath("definition")); nested.Exists() {
			v = nested
		}
		return CompileDefinition(v)
	default:
		return nil, fmt.Errorf("unsupported definition format %q", format)
	}
}
