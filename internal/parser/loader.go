package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"dario.cat/mergo"
	"github.com/goccy/go-yaml"

	"github.com/corintai/corint/internal/ast"
)

// Repository is the parsed form of a DSL source tree: every document plus
// non-fatal load warnings.
type Repository struct {
	Documents []*ast.Document
	Warnings  []string
}

// DocumentsOfKind returns documents of one kind in load order.
func (r *Repository) DocumentsOfKind(kind ast.DocumentKind) []*ast.Document {
	var docs []*ast.Document
	for _, d := range r.Documents {
		if d.Kind == kind {
			docs = append(docs, d)
		}
	}
	return docs
}

// rawDoc is one YAML document before building, with its origin retained for
// error reporting.
type rawDoc struct {
	source string
	data   map[string]any
}

// LoadRoot parses every YAML file under root, resolving include directives
// relative to root and merging template references before building.
func LoadRoot(root string) (*Repository, error) {
	resolver := newResolver(root)
	entries, err := dslFiles(root)
	if err != nil {
		return nil, err
	}
	var raws []rawDoc
	for _, file := range entries {
		docs, err := resolver.resolve(file)
		if err != nil {
			return nil, err
		}
		raws = append(raws, docs...)
	}
	return buildRepository(raws)
}

// LoadYAML parses DSL documents from a single in-memory YAML source. Multi-
// document streams are supported.
func LoadYAML(data []byte) (*Repository, error) {
	raws, err := decodeStream("<memory>", data)
	if err != nil {
		return nil, err
	}
	return buildRepository(raws)
}

func dslFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".yaml", ".yml":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func decodeStream(source string, data []byte) ([]rawDoc, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var raws []rawDoc
	for {
		var doc map[string]any
		err := dec.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &LoadError{Source: source, Err: fmt.Errorf("%w: %s", ErrInvalidYAML, err)}
		}
		if len(doc) == 0 {
			continue
		}
		raws = append(raws, rawDoc{source: source, data: doc})
	}
	return raws, nil
}

// buildRepository converts raw documents into AST documents. Templates are
// collected in a first pass so later documents can merge them regardless of
// file order.
func buildRepository(raws []rawDoc) (*Repository, error) {
	repo := &Repository{}
	templates := map[string]map[string]any{}

	for _, raw := range raws {
		kind, _ := raw.data["kind"].(string)
		if ast.DocumentKind(kind) != ast.KindTemplate {
			continue
		}
		var def templateDef
		if err := decode(raw.data, &def); err != nil {
			return nil, annotate(raw.source, err)
		}
		if def.ID == "" {
			return nil, annotate(raw.source, loadErr("id", "non-empty string", "empty", ErrTemplateIDRequired))
		}
		templates[def.ID] = def.Body
		repo.Documents = append(repo.Documents, &ast.Document{
			Kind:     ast.KindTemplate,
			Source:   raw.source,
			Template: &ast.TemplateDoc{ID: def.ID, Body: def.Body},
		})
	}

	for _, raw := range raws {
		kindStr, ok := raw.data["kind"].(string)
		if !ok || kindStr == "" {
			return nil, annotate(raw.source, loadErr("kind", "rule|ruleset|pipeline|registry|template", "missing", ErrMissingKind))
		}
		kind := ast.DocumentKind(kindStr)
		if kind == ast.KindTemplate {
			continue
		}

		// Removed concept: parses as a warning, never an error.
		if _, found := raw.data["decision_template"]; found {
			repo.Warnings = append(repo.Warnings,
				fmt.Sprintf("%s: decision_template directive is not supported and was ignored", raw.source))
			delete(raw.data, "decision_template")
		}

		data, err := applyTemplate(raw.data, templates)
		if err != nil {
			return nil, annotate(raw.source, err)
		}

		doc := &ast.Document{Kind: kind, Source: raw.source}
		switch kind {
		case ast.KindRule:
			var def ruleDef
			if err := decode(data, &def); err != nil {
				return nil, annotate(raw.source, err)
			}
			rule, err := buildRule(&def)
			if err != nil {
				return nil, annotate(raw.source, err)
			}
			doc.Rule = rule
		case ast.KindRuleset:
			var def rulesetDef
			if err := decode(data, &def); err != nil {
				return nil, annotate(raw.source, err)
			}
			rs, err := buildRuleset(&def)
			if err != nil {
				return nil, annotate(raw.source, err)
			}
			doc.Ruleset = rs
		case ast.KindPipeline:
			var def pipelineDef
			if err := decode(data, &def); err != nil {
				return nil, annotate(raw.source, err)
			}
			p, err := buildPipeline(&def)
			if err != nil {
				return nil, annotate(raw.source, err)
			}
			doc.Pipeline = p
		case ast.KindRegistry:
			var def registryDef
			if err := decode(data, &def); err != nil {
				return nil, annotate(raw.source, err)
			}
			reg, err := buildRegistry(&def)
			if err != nil {
				return nil, annotate(raw.source, err)
			}
			doc.Registry = reg
		default:
			return nil, annotate(raw.source, loadErr("kind", "rule|ruleset|pipeline|registry|template", kindStr, ErrUnknownKind))
		}
		repo.Documents = append(repo.Documents, doc)
	}
	return repo, nil
}

// applyTemplate merges a referenced template body under the document's own
// fields; the document wins on conflicts.
func applyTemplate(data map[string]any, templates map[string]map[string]any) (map[string]any, error) {
	name, _ := data["template"].(string)
	if name == "" {
		return data, nil
	}
	body, ok := templates[name]
	if !ok {
		return nil, loadErr("template", "declared template id", name, ErrUnknownTemplate)
	}
	merged := map[string]any{}
	for k, v := range data {
		merged[k] = v
	}
	if err := mergo.Merge(&merged, body); err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}
	return merged, nil
}

func annotate(source string, err error) error {
	var le *LoadError
	if errors.As(err, &le) && le.Source == "" {
		le.Source = source
		return err
	}
	return &LoadError{Source: source, Err: err}
}
