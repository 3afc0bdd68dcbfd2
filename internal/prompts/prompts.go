// Package prompts resolves named prompt templates from Langfuse or a local
// YAML file and compiles them with {{NAME}} placeholders.
package prompts

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrNotFound is returned when no provider knows a prompt name.
var ErrNotFound = errors.New("prompts: not found")

// Provider resolves prompt templates by name. Implementations are safe for
// concurrent use.
type Provider interface {
	Get(ctx context.Context, name string) (Template, error)
}

// Template is a named prompt text with {{NAME}} placeholders.
type Template struct {
	Name    string
	Version int
	Text    string
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Compile substitutes vars into the template. Placeholders without a
// matching variable are left as written.
func (t Template) Compile(vars map[string]string) string {
	if len(vars) == 0 {
		return t.Text
	}
	return placeholder.ReplaceAllStringFunc(t.Text, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

// Chain tries each provider in order and returns the first template found.
// Errors other than ErrNotFound stop the search.
type Chain []Provider

func (c Chain) Get(ctx context.Context, name string) (Template, error) {
	for _, p := range c {
		if p == nil {
			continue
		}
		t, err := p.Get(ctx, name)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Template{}, err
		}
	}
	return Template{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Compile fetches name from p and compiles it with vars.
func Compile(ctx context.Context, p Provider, name string, vars map[string]string) (string, error) {
	t, err := p.Get(ctx, name)
	if err != nil {
		return "", err
	}
	return t.Compile(vars), nil
}
