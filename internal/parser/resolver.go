package parser

import (
	"fmt"
	"os"
	"path/filepath"
)

// color is the DFS visit state used for include cycle detection.
type color int

const (
	white color = iota // unvisited
	gray               // on the current path
	black              // fully resolved
)

// resolver loads files relative to a virtual root and resolves include
// directives lazily, rejecting cycles with the offending path listed.
type resolver struct {
	root   string
	colors map[string]color
	stack  []string
	done   map[string][]rawDoc
}

func newResolver(root string) *resolver {
	return &resolver{
		root:   root,
		colors: map[string]color{},
		done:   map[string][]rawDoc{},
	}
}

// resolve loads a file and, recursively, everything it includes. Each file
// contributes its documents exactly once no matter how often it is included.
func (r *resolver) resolve(path string) ([]rawDoc, error) {
	abs, err := r.normalize(path)
	if err != nil {
		return nil, err
	}
	switch r.colors[abs] {
	case gray:
		return nil, r.cycleError(abs)
	case black:
		// Already contributed by an earlier traversal.
		return nil, nil
	}

	r.colors[abs] = gray
	r.stack = append(r.stack, abs)
	defer func() {
		r.stack = r.stack[:len(r.stack)-1]
	}()

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, &LoadError{Source: abs, Err: err}
	}
	docs, err := decodeStream(relSource(r.root, abs), data)
	if err != nil {
		return nil, err
	}

	var resolved []rawDoc
	for _, doc := range docs {
		includes, err := includeList(doc)
		if err != nil {
			return nil, annotate(doc.source, err)
		}
		for _, inc := range includes {
			sub, err := r.resolve(inc)
			if err != nil {
				return nil, err
			}
			resolved = append(resolved, sub...)
		}
		delete(doc.data, "include")
		if len(doc.data) > 0 {
			resolved = append(resolved, doc)
		}
	}

	r.colors[abs] = black
	r.done[abs] = resolved
	return resolved, nil
}

func (r *resolver) normalize(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.root, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return abs, nil
}

func (r *resolver) cycleError(offender string) error {
	cycle := make([]string, 0, len(r.stack)+1)
	start := 0
	for i, p := range r.stack {
		if p == offender {
			start = i
			break
		}
	}
	for _, p := range r.stack[start:] {
		cycle = append(cycle, relSource(r.root, p))
	}
	cycle = append(cycle, relSource(r.root, offender))
	return &CyclicImportError{Cycle: cycle}
}

// includeList extracts the include directive of a raw document: a path or a
// list of paths relative to the root.
func includeList(doc rawDoc) ([]string, error) {
	raw, ok := doc.data["include"]
	if !ok {
		return nil, nil
	}
	switch inc := raw.(type) {
	case string:
		return []string{inc}, nil
	case []any:
		paths := make([]string, 0, len(inc))
		for _, item := range inc {
			s, ok := item.(string)
			if !ok {
				return nil, loadErr("include", "string or list of strings", fmt.Sprintf("%T", item), ErrInvalidYAML)
			}
			paths = append(paths, s)
		}
		return paths, nil
	default:
		return nil, loadErr("include", "string or list of strings", fmt.Sprintf("%T", raw), ErrInvalidYAML)
	}
}

func relSource(root, abs string) string {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return abs
	}
	return rel
}
