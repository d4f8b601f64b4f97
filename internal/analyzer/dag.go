package analyzer

import (
	"fmt"
	"strings"

	"github.com/corintai/corint/internal/ast"
)

// ValidateDAG checks a pipeline's step graph: the entry must be declared,
// every referenced successor must resolve to a declared step or the literal
// "end", and the graph reached from entry must be acyclic.
func ValidateDAG(p *ast.Pipeline) error {
	if _, ok := p.StepByID(p.Entry); !ok {
		return fmt.Errorf("%w: pipeline %s entry %q", ErrEntryMissing, p.ID, p.Entry)
	}
	for _, step := range p.Steps {
		for _, succ := range successors(step) {
			if succ == ast.EndStepID {
				continue
			}
			if _, ok := p.StepByID(succ); !ok {
				return fmt.Errorf("%w: pipeline %s step %s -> %q", ErrUnknownStep, p.ID, step.ID, succ)
			}
		}
	}
	return checkAcyclic(p)
}

// successors returns every successor id a step declares, in the order the
// runner considers them: routes first, then the default fallback, then
// next.
func successors(step *ast.Step) []string {
	var succ []string
	for _, route := range step.Routes {
		if route.Next != "" {
			succ = append(succ, route.Next)
		}
	}
	if step.Default != "" {
		succ = append(succ, step.Default)
	}
	if step.Next != "" {
		succ = append(succ, step.Next)
	}
	return succ
}

type visitColor int

const (
	colorWhite visitColor = iota
	colorGray
	colorBlack
)

// checkAcyclic runs a DFS from entry; an edge to a gray node is a back
// edge, i.e. a cycle modulo the end sink.
func checkAcyclic(p *ast.Pipeline) error {
	colors := map[string]visitColor{}
	var path []string

	var visit func(id string) error
	visit = func(id string) error {
		if id == ast.EndStepID {
			return nil
		}
		switch colors[id] {
		case colorGray:
			start := 0
			for i, p := range path {
				if p == id {
					start = i
					break
				}
			}
			cycle := append(append([]string{}, path[start:]...), id)
			return fmt.Errorf("%w: pipeline %s: %s", ErrCyclicPipeline, p.ID, strings.Join(cycle, " -> "))
		case colorBlack:
			return nil
		}
		colors[id] = colorGray
		path = append(path, id)
		step, _ := p.StepByID(id)
		for _, succ := range successors(step) {
			if err := visit(succ); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		colors[id] = colorBlack
		return nil
	}

	return visit(p.Entry)
}

// Reachable returns the set of step ids reachable from the entry, in BFS
// order. Steps outside this set are declared but never executed.
func Reachable(p *ast.Pipeline) []string {
	seen := map[string]bool{p.Entry: true}
	order := []string{p.Entry}
	queue := []string{p.Entry}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		step, ok := p.StepByID(id)
		if !ok {
			continue
		}
		for _, succ := range successors(step) {
			if succ == ast.EndStepID || seen[succ] {
				continue
			}
			seen[succ] = true
			order = append(order, succ)
			queue = append(queue, succ)
		}
	}
	return order
}
