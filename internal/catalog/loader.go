package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaCUE string

// Load reads a catalog CUE document, unifies it with the embedded
// schema, and decodes it. Schema violations are reported with CUE
// positions.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(path, data)
}

// Parse validates and decodes catalog CUE source. filename is used in
// error positions only.
func Parse(filename string, data []byte) (*Catalog, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("internal: compile catalog schema: %w", err)
	}

	doc := ctx.CompileBytes(data, cue.Filename(filename))
	if err := doc.Err(); err != nil {
		return nil, fmt.Errorf("parse catalog: %s", errors.Details(err, nil))
	}

	unified := schema.Unify(doc)
	if err := unified.Validate(cue.Concrete(true), cue.Final()); err != nil {
		return nil, fmt.Errorf("validate catalog: %s", errors.Details(err, nil))
	}

	var c Catalog
	if err := unified.LookupPath(cue.ParsePath("resources")).Decode(&c.Resources); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if c.Resources == nil {
		c.Resources = []Resource{}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}
	return &c, nil
}
