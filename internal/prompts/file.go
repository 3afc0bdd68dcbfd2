package prompts

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileProvider serves prompts from a YAML document mapping names either to
// text or to {prompt, version}:
//
//	email_planner: |
//	  You plan replies...
//	email_execution:
//	  version: 3
//	  prompt: |
//	    You write replies...
type FileProvider struct {
	prompts map[string]Template
}

type filePrompt struct {
	Prompt  string `yaml:"prompt"`
	Version int    `yaml:"version"`
}

func (p *filePrompt) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&p.Prompt)
	}
	type plain filePrompt
	return node.Decode((*plain)(p))
}

// LoadFile reads a prompt file.
func LoadFile(path string) (*FileProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("prompts: read %s: %w", path, err)
	}
	return ParseFile(data)
}

// ParseFile parses prompt file contents.
func ParseFile(data []byte) (*FileProvider, error) {
	var raw map[string]filePrompt
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("prompts: parse file: %w", err)
	}
	p := &FileProvider{prompts: make(map[string]Template, len(raw))}
	for name, fp := range raw {
		p.prompts[name] = Template{Name: name, Version: fp.Version, Text: fp.Prompt}
	}
	return p, nil
}

func (p *FileProvider) Get(_ context.Context, name string) (Template, error) {
	t, ok := p.prompts[name]
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return t, nil
}
