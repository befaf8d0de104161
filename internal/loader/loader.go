package loader

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/lowerkit/internal/source"
)

// Error codes shared with the CLI.
const (
	ErrCodeGeneric      = "E001" // Generic/unknown error
	ErrCodeNotFound     = "E005" // Path not found
	ErrCodeLoadFailed   = "E004" // CUE load failed
	ErrCodeBuildFailed  = "E006" // CUE build failed
	ErrCodeParseFailed  = "E008" // YAML parse failed
	ErrCodeUnknownExt   = "E009" // Unsupported file extension
	ErrCodeInvalidGraph = "E201" // Graph description is inconsistent
	ErrCodeInvalidAttr  = "E202" // Attribute value cannot be represented
)

// LoadError is a failure to read a graph description.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Load reads a graph description, choosing the format by extension:
// .cue for CUE, .yaml/.yml/.json for YAML. A directory is loaded as a CUE package.
func Load(path string) (*source.Graph, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("graph description not found: %s", path)}
	}
	if info.IsDir() {
		return LoadCUEDir(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("reading %s: %v", path, err)}
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return LoadCUE(path, data)
	case ".yaml", ".yml", ".json":
		return LoadYAML(path, data)
	default:
		return nil, &LoadError{Code: ErrCodeUnknownExt, Message: fmt.Sprintf("unsupported graph description %s (want .cue, .yaml or .json)", path)}
	}
}

// LoadYAML parses a YAML (or JSON) description. Unknown fields are rejected.
func LoadYAML(filename string, data []byte) (*source.Graph, error) {
	var doc Document
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&doc); err != nil {
		return nil, &LoadError{Code: ErrCodeParseFailed, Message: fmt.Sprintf("%s: %v", filename, err)}
	}
	if doc.Name == "" {
		doc.Name = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}
	return doc.Build()
}
