package definition

import (
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/flowrt/internal/ir"
)

// CompileDefinition converts a concrete CUE value into a Definition.
//
// The value should be the definition struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`pages: [{stateName: "store", ...}]`)
//	def, err := CompileDefinition(v)
func CompileDefinition(v cue.Value) (*ir.Definition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	pagesVal := v.LookupPath(cue.ParsePath("pages"))
	if !pagesVal.Exists() {
		return nil, &CompileError{
			Field:   "pages",
			Message: "pages is required",
			Pos:     v.Pos(),
		}
	}
	if pagesVal.IncompleteKind() != cue.ListKind {
		return nil, &CompileError{
			Field:   "pages",
			Message: "pages must be a list",
			Pos:     pagesVal.Pos(),
		}
	}

	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	data, err := v.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}
	return decodeJSON(data)
}

func decodeJSON(data []byte) (*ir.Definition, error) {
	var def ir.Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("decode definition: %w", err)
	}
	if def.Pages == nil {
		def.Pages = []*ir.Page{}
	}
	return &def, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// First error with a position wins.
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
