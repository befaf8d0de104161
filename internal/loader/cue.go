package loader

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"

	"github.com/roach88/lowerkit/internal/source"
)

// LoadCUE compiles a single CUE file and builds the graph it describes.
//
// The CUE value uses the same shape as the YAML form:
//
//	name:  "demo"
//	opset: 11
//	tensors: x: {dtype: "float32", shape: [4, 8]}
//	nodes: [{
//		name: "sort0"
//		op:   "argsort"
//		inputs: X: ["x"]
//		outputs: {Out: ["sorted"], Indices: ["order"]}
//		attrs: {axis: -1, descending: true}
//	}]
func LoadCUE(filename string, data []byte) (*source.Graph, error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(data, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, cueLoadError(ErrCodeBuildFailed, err)
	}
	return decodeCUE(value)
}

// LoadCUEDir loads the CUE package in dir, letting descriptions be split
// across files and use CUE definitions for shared tensor shapes.
func LoadCUEDir(dir string) (*source.Graph, error) {
	ctx := cuecontext.New()
	cfg := &load.Config{Dir: dir}
	instances := load.Instances([]string{"."}, cfg)
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, cueLoadError(ErrCodeBuildFailed, err)
	}
	return decodeCUE(value)
}

func decodeCUE(v cue.Value) (*source.Graph, error) {
	var doc Document
	var err error

	if doc.Name, err = optionalString(v, "name"); err != nil {
		return nil, err
	}
	if opset := v.LookupPath(cue.ParsePath("opset")); opset.Exists() {
		n, err := opset.Int64()
		if err != nil {
			return nil, cueLoadError(ErrCodeInvalidGraph, err)
		}
		doc.Opset = int(n)
	}

	if doc.Tensors, err = decodeTensors(v.LookupPath(cue.ParsePath("tensors"))); err != nil {
		return nil, err
	}
	if doc.Nodes, err = decodeNodes(v.LookupPath(cue.ParsePath("nodes"))); err != nil {
		return nil, err
	}
	return doc.Build()
}

func decodeTensors(v cue.Value) (map[string]TensorEntry, error) {
	out := map[string]TensorEntry{}
	if !v.Exists() {
		return out, nil
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, cueLoadError(ErrCodeInvalidGraph, err)
	}
	for iter.Next() {
		tv := iter.Value()
		dtype, err := optionalString(tv, "dtype")
		if err != nil {
			return nil, err
		}
		entry := TensorEntry{DType: dtype}
		if shape := tv.LookupPath(cue.ParsePath("shape")); shape.Exists() {
			var dims []int64
			if err := shape.Decode(&dims); err != nil {
				return nil, cueLoadError(ErrCodeInvalidGraph, err)
			}
			entry.Shape = dims
		}
		out[iter.Label()] = entry
	}
	return out, nil
}

func decodeNodes(v cue.Value) ([]NodeEntry, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.List()
	if err != nil {
		return nil, cueLoadError(ErrCodeInvalidGraph, err)
	}

	var nodes []NodeEntry
	for iter.Next() {
		nv := iter.Value()
		var entry NodeEntry
		if entry.Name, err = optionalString(nv, "name"); err != nil {
			return nil, err
		}
		if entry.Op, err = optionalString(nv, "op"); err != nil {
			return nil, err
		}
		if entry.Op == "" {
			return nil, &LoadError{Code: ErrCodeInvalidGraph, Message: "node op is required", Pos: nv.Pos()}
		}
		if entry.Inputs, err = decodeSlots(nv.LookupPath(cue.ParsePath("inputs"))); err != nil {
			return nil, err
		}
		if entry.Outputs, err = decodeSlots(nv.LookupPath(cue.ParsePath("outputs"))); err != nil {
			return nil, err
		}
		if attrs := nv.LookupPath(cue.ParsePath("attrs")); attrs.Exists() {
			entry.Attrs = map[string]any{}
			fields, err := attrs.Fields()
			if err != nil {
				return nil, cueLoadError(ErrCodeInvalidAttr, err)
			}
			for fields.Next() {
				val, err := cueToGo(fields.Value())
				if err != nil {
					return nil, err
				}
				entry.Attrs[fields.Label()] = val
			}
		}
		nodes = append(nodes, entry)
	}
	return nodes, nil
}

func decodeSlots(v cue.Value) (map[string][]string, error) {
	if !v.Exists() {
		return nil, nil
	}
	out := map[string][]string{}
	iter, err := v.Fields()
	if err != nil {
		return nil, cueLoadError(ErrCodeInvalidGraph, err)
	}
	for iter.Next() {
		refs := []string{}
		if err := iter.Value().Decode(&refs); err != nil {
			return nil, cueLoadError(ErrCodeInvalidGraph, err)
		}
		out[iter.Label()] = refs
	}
	return out, nil
}

// cueToGo converts a concrete attribute value to the Go form ir.FromGo accepts.
func cueToGo(v cue.Value) (any, error) {
	switch v.Kind() {
	case cue.BoolKind:
		b, err := v.Bool()
		return b, wrapCUE(err)
	case cue.IntKind:
		n, err := v.Int64()
		return n, wrapCUE(err)
	case cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		return f, wrapCUE(err)
	case cue.StringKind:
		s, err := v.String()
		return s, wrapCUE(err)
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, wrapCUE(err)
		}
		items := []any{}
		for iter.Next() {
			item, err := cueToGo(iter.Value())
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return items, nil
	case cue.StructKind:
		ref, err := optionalString(v, "ref")
		if err != nil {
			return nil, err
		}
		if ref == "" {
			return nil, &LoadError{Code: ErrCodeInvalidAttr, Message: "object attribute values must be {ref: name}", Pos: v.Pos()}
		}
		return map[string]any{"ref": ref}, nil
	default:
		return nil, &LoadError{
			Code:    ErrCodeInvalidAttr,
			Message: fmt.Sprintf("attribute must be concrete, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

func optionalString(v cue.Value, field string) (string, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return "", nil
	}
	s, err := f.String()
	if err != nil {
		return "", cueLoadError(ErrCodeInvalidGraph, err)
	}
	return s, nil
}

func wrapCUE(err error) error {
	if err == nil {
		return nil
	}
	return cueLoadError(ErrCodeInvalidAttr, err)
}

// cueLoadError extracts position info from CUE errors.
func cueLoadError(code string, err error) *LoadError {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Code: code, Message: err.Error()}
	}
	first := errs[0]
	le := &LoadError{Code: code, Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		le.Pos = positions[0]
	}
	return le
}
