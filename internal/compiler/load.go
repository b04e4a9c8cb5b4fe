package compiler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/attest/internal/ledger"
)

// Load error codes (E001-E099).
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeCompile     = "E010" // Declaration does not compile
)

// LoadMode controls how errors are handled during schema loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the schemas loaded from a directory.
type LoadResult struct {
	Schemas   []ledger.Schema
	FileCount int
}

// LoadError represents an error that occurred during schema loading.
type LoadError struct {
	Code    string
	Ledger  string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	prefix := e.Code
	if e.Ledger != "" {
		prefix = fmt.Sprintf("%s: ledger.%s", e.Code, e.Ledger)
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), prefix, e.Message)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// LoadSchemas loads, compiles and validates every declaration under the
// "ledger" struct of the CUE files in dir.
func LoadSchemas(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schemas directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing schemas directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result := &LoadResult{FileCount: len(cueFiles)}
	schemas, errs := CompileAll(value, mode)
	result.Schemas = schemas
	return result, errs
}

// CompileAll compiles every declaration under the "ledger" struct of v.
func CompileAll(v cue.Value, mode LoadMode) ([]ledger.Schema, []error) {
	ledgersVal := v.LookupPath(cue.ParsePath("ledger"))
	if !ledgersVal.Exists() {
		return nil, []error{&LoadError{Code: ErrCodeGeneric, Message: "no ledger declarations found"}}
	}
	iter, err := ledgersVal.Fields()
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating ledgers: %v", err)}}
	}

	var (
		schemas []ledger.Schema
		errs    []error
	)
	for iter.Next() {
		name := selectorName(iter.Selector())
		schema, err := CompileSchema(iter.Value())
		if err != nil {
			errs = append(errs, convertCompileError(err, name))
			if mode == LoadModeFailFast {
				return schemas, errs
			}
			continue
		}
		if verrs := Validate(schema); len(verrs) > 0 {
			for _, ve := range verrs {
				errs = append(errs, &LoadError{Code: ve.Code, Ledger: name, Message: fmt.Sprintf("%s: %s", ve.Field, ve.Message), Pos: iter.Value().Pos()})
			}
			if mode == LoadModeFailFast {
				return schemas, errs
			}
			continue
		}
		schemas = append(schemas, schema)
	}
	return schemas, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, name string) *LoadError {
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeCompile,
			Ledger:  name,
			Message: fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Ledger:  name,
		Message: err.Error(),
	}
}

// Merge combines built-in and loaded schemas. Names must be unique.
func Merge(builtin, loaded []ledger.Schema) ([]ledger.Schema, error) {
	seen := make(map[string]bool, len(builtin)+len(loaded))
	out := make([]ledger.Schema, 0, len(builtin)+len(loaded))
	for _, s := range append(append([]ledger.Schema{}, builtin...), loaded...) {
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate ledger name %q", s.Name)
		}
		seen[s.Name] = true
		out = append(out, s)
	}
	return out, nil
}

// LoadWithBuiltins returns the built-in schemas plus those declared in dir.
// An empty dir yields just the built-ins. Load errors are joined.
func LoadWithBuiltins(dir string) ([]ledger.Schema, error) {
	if dir == "" {
		return ledger.Builtins(), nil
	}
	result, errs := LoadSchemas(dir, LoadModeCollectAll)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return Merge(ledger.Builtins(), result.Schemas)
}
