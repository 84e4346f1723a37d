package compiler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/wabaflow/internal/dto"
	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// ErrEmptyDocument is returned when a flow file has no content.
var ErrEmptyDocument = errors.New("empty flow document")

// Parser converts flow documents into flows ready to be stored.
type Parser struct{}

// NewParser creates a new parser instance.
func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes a YAML or JSON flow document. Both formats are read into
// a generic map first and then decoded into the document struct by mapstructure.
// The returned flow has no tenant; the caller assigns it.
func (p *Parser) Parse(data []byte) (*domain.Flow, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrEmptyDocument
	}

	var raw map[string]any
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse flow document: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse flow document: %w", err)
	}

	return p.Decode(raw)
}

// Decode converts an already unmarshalled document into a flow.
// Unknown keys are rejected.
func (p *Parser) Decode(raw map[string]any) (*domain.Flow, error) {
	var doc dto.FlowDocument
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &doc,
		TagName:          "mapstructure",
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode flow document: %w", err)
	}

	return Compile(doc)
}

// ParseFile reads and parses the flow document at path.
// A missing name defaults to the file name without extension.
func (p *Parser) ParseFile(path string) (*domain.Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow file: %w", err)
	}
	flow, err := p.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if flow.Name == "" {
		base := filepath.Base(path)
		flow.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return flow, nil
}

// Compile converts a decoded document into a validated flow.
func Compile(doc dto.FlowDocument) (*domain.Flow, error) {
	status := domain.FlowStatus(strings.ToLower(strings.TrimSpace(doc.Status)))
	switch status {
	case "", domain.FlowStatusDraft, domain.FlowStatusPublished, domain.FlowStatusArchived:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidDefinition, doc.Status)
	}
	if doc.Version < 0 {
		return nil, fmt.Errorf("%w: version must not be negative", domain.ErrInvalidDefinition)
	}

	nodes := make([]domain.Node, 0, len(doc.Nodes))
	for _, n := range doc.Nodes {
		if n.Next != "" && n.To != "" && n.Next != n.To {
			return nil, fmt.Errorf("%w: node %q has conflicting next %q and to %q",
				domain.ErrInvalidDefinition, n.ID, n.Next, n.To)
		}
		nodes = append(nodes, domain.Node{
			ID:      strings.TrimSpace(n.ID),
			Type:    domain.NodeType(strings.TrimSpace(n.Type)),
			Next:    strings.TrimSpace(n.Target()),
			Message: n.Message,
			Prompt:  n.Prompt,
		})
	}

	def := domain.Definition{Nodes: nodes}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	return &domain.Flow{
		Name:       doc.Name,
		Version:    doc.Version,
		Status:     status,
		Definition: def,
	}, nil
}
