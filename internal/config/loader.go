// Package config loads compiler settings from CUE files checked against a
// closed schema.
package config

import (
	"errors"
	"iter"
	"os"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

var ErrValueNotFound = errors.New("value not found")

type Loader struct {
	getRoots func() ([]rootInfo, error)
}

type rootInfo struct {
	value cue.Value
	path  string
}

// NewLoader parses the files lazily on first use. Every file is unified with
// the schema, so unknown fields and out-of-range values fail the load.
func NewLoader(filePaths []string, schemaSrc string) Loader {
	return Loader{
		getRoots: sync.OnceValues(func() (ret []rootInfo, err error) {
			ctx := cuecontext.New()

			var schema cue.Value
			if schemaSrc != "" {
				schema = ctx.CompileString("close({" + schemaSrc + "})")
				if err := schema.Err(); err != nil {
					return nil, err
				}
			}

			for _, filePath := range filePaths {
				content, err := os.ReadFile(filePath)
				if err != nil {
					return nil, err
				}

				value := ctx.CompileBytes(content, cue.Filename(filePath))
				if err := value.Err(); err != nil {
					return nil, err
				}

				if schema.Exists() {
					value = schema.Unify(value)
					if err := value.Validate(); err != nil {
						return nil, err
					}
				}

				ret = append(ret, rootInfo{value: value, path: filePath})
			}
			return
		}),
	}
}

func (l Loader) IterValues(path string) iter.Seq2[*cue.Value, error] {
	return func(yield func(*cue.Value, error) bool) {
		roots, err := l.getRoots()
		if err != nil {
			yield(nil, err)
			return
		}

		cuePath := cue.ParsePath(path)
		for _, info := range roots {
			value := info.value.LookupPath(cuePath)
			if !value.Exists() {
				continue
			}
			if !yield(&value, nil) {
				break
			}
		}
	}
}

// AssignFirst decodes the first file that defines path into target.
func (l Loader) AssignFirst(path string, target any) error {
	for value, err := range l.IterValues(path) {
		if err != nil {
			return err
		}
		return value.Decode(target)
	}
	return ErrValueNotFound
}

// AssignAll decodes path from every file in order, so later files override
// the fields they set.
func (l Loader) AssignAll(path string, target any) error {
	for value, err := range l.IterValues(path) {
		if err != nil {
			return err
		}
		if err := value.Decode(target); err != nil {
			return err
		}
	}
	return nil
}

// First returns the zero value when no file defines path.
func First[T any](loader Loader, path string) (T, error) {
	var value T
	if err := loader.AssignFirst(path, &value); err != nil {
		if errors.Is(err, ErrValueNotFound) {
			return value, nil
		}
		return value, err
	}
	return value, nil
}
