package a2a

import (
	"encoding/json"
	"fmt"
)

// Part is a piece of message or artifact content. Implementations are
// TextPart, FilePart, and DataPart, discriminated on the wire by "type".
type Part interface {
	partType() string
}

// TextPart carries plain text content.
type TextPart struct {
	Type     string         `json:"type"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (TextPart) partType() string { return "text" }

// NewTextPart creates a TextPart with the given text.
func NewTextPart(text string) TextPart {
	return TextPart{Type: "text", Text: text}
}

// FilePart carries file content, either inline or by URI.
type FilePart struct {
	Type     string         `json:"type"`
	File     FileContent    `json:"file"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (FilePart) partType() string { return "file" }

// DataPart carries arbitrary structured data.
type DataPart struct {
	Type     string         `json:"type"`
	Data     map[string]any `json:"data"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (DataPart) partType() string { return "data" }

// FileContent holds file data. Exactly one of Bytes (base64) or URI must
// be set.
type FileContent struct {
	Name     *string `json:"name,omitempty"`
	MimeType *string `json:"mimeType,omitempty"`
	Bytes    *string `json:"bytes,omitempty"`
	URI      *string `json:"uri,omitempty"`
}

// Validate enforces the bytes/uri exclusivity rule.
func (f FileContent) Validate() error {
	if f.Bytes != nil && f.URI != nil {
		return fmt.Errorf("file content cannot have both bytes and uri")
	}
	if f.Bytes == nil && f.URI == nil {
		return fmt.Errorf("file content requires either bytes or uri")
	}
	return nil
}

// unmarshalParts decodes a list of raw parts using the "type" discriminator.
func unmarshalParts(raw []json.RawMessage) ([]Part, error) {
	if raw == nil {
		return nil, nil
	}
	parts := make([]Part, 0, len(raw))
	for i, r := range raw {
		p, err := unmarshalPart(r)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
		parts = append(parts, p)
	}
	return parts, nil
}

func unmarshalPart(raw json.RawMessage) (Part, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}
	switch probe.Type {
	case "text":
		var p TextPart
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case "file":
		var p FilePart
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		if err := p.File.Validate(); err != nil {
			return nil, err
		}
		return p, nil
	case "data":
		var p DataPart
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown part type %q", probe.Type)
	}
}
