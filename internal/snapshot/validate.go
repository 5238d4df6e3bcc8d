package snapshot

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	cuejson "cuelang.org/go/encoding/json"

	"github.com/roach88/posvault/internal/model"
)

//go:embed schema.cue
var schemaCUE string

// ErrSnapshotInvalid means a document failed validation. Nothing derived from
// it has been written.
var ErrSnapshotInvalid = errors.New("invalid snapshot")

// ValidationError locates a validation failure in a document.
type ValidationError struct {
	Path    string
	Message string
	Pos     token.Pos
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%v: %s: %s", ErrSnapshotInvalid, e.Path, e.Message)
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%v: %d:%d: %s", ErrSnapshotInvalid, e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return fmt.Sprintf("%v: %s", ErrSnapshotInvalid, e.Message)
}

// Unwrap makes every ValidationError match ErrSnapshotInvalid.
func (e *ValidationError) Unwrap() error {
	return ErrSnapshotInvalid
}

// validator holds the compiled schema. A cue.Context is not safe for
// concurrent use, so validations are serialized.
var validator struct {
	once   sync.Once
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
	err    error
}

func loadSchema() {
	validator.ctx = cuecontext.New()
	v := validator.ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		validator.err = fmt.Errorf("compile snapshot schema: %w", err)
		return
	}
	validator.schema = v.LookupPath(cue.ParsePath("#Snapshot"))
	validator.err = validator.schema.Err()
}

// Validate checks data against the snapshot schema without decoding it.
func Validate(data []byte) error {
	validator.once.Do(loadSchema)
	if validator.err != nil {
		return validator.err
	}

	expr, err := cuejson.Extract("snapshot.json", data)
	if err != nil {
		return formatCUEError(err)
	}

	validator.mu.Lock()
	defer validator.mu.Unlock()

	doc := validator.ctx.BuildExpr(expr)
	if err := doc.Err(); err != nil {
		return formatCUEError(err)
	}
	// An open list is concrete on its own, so presence is checked here.
	for _, name := range model.Collections {
		if requiredCollections[name] && !doc.LookupPath(cue.ParsePath(name)).Exists() {
			return &ValidationError{Path: name, Message: "required collection is missing"}
		}
	}
	if err := validator.schema.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	return nil
}

// formatCUEError converts the first CUE error into a ValidationError with
// its path and position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &ValidationError{Message: err.Error()}
	}

	first := errs[0]
	ve := &ValidationError{
		Path:    pathString(first.Path()),
		Message: first.Error(),
	}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		ve.Pos = positions[0]
	}
	return ve
}

func pathString(selectors []string) string {
	return strings.Join(selectors, ".")
}
