package protobuf

import (
	"fmt"
	"log/slog"

	"bsonschema/internal/schema/typereg"
	"bsonschema/internal/schema/types"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

var timestampName = (&timestamppb.Timestamp{}).ProtoReflect().Descriptor().FullName()

// Format implements types.SchemaFormat for Protobuf. Schemas are
// FileDescriptorProto documents in protojson form; the first message of the
// file is translated.
type Format struct{}

// New creates a new Protobuf format implementation
func New() *Format {
	return &Format{}
}

func (f *Format) Validate(schemaStr string) error {
	_, err := f.parseSchema(schemaStr)
	return err
}

func (f *Format) ToIntermediate(schemaStr string, opts types.FormatOptions) (types.Schema, error) {
	fileDesc, err := f.parseSchema(schemaStr)
	if err != nil {
		return nil, err
	}
	if fileDesc.Messages().Len() == 0 {
		return nil, fmt.Errorf("no message type found in schema")
	}

	w := walker{diag: opts.Diagnostics, open: map[protoreflect.FullName]bool{}}
	return w.message(fileDesc.Messages().Get(0), ""), nil
}

// parseSchema parses a protobuf schema string into a FileDescriptor
func (f *Format) parseSchema(schemaStr string) (protoreflect.FileDescriptor, error) {
	var fileDescProto descriptorpb.FileDescriptorProto
	if err := protojson.Unmarshal([]byte(schemaStr), &fileDescProto); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	fileDesc, err := protodesc.NewFile(&fileDescProto, protoregistry.GlobalFiles)
	if err != nil {
		return nil, fmt.Errorf("create file descriptor: %w", err)
	}
	return fileDesc, nil
}

type walker struct {
	diag types.DiagnosticSink
	open map[protoreflect.FullName]bool
}

func (w walker) message(md protoreflect.MessageDescriptor, ptr string) types.Schema {
	if md.FullName() == timestampName {
		return types.Schema{types.TypeKey: "string", types.HintKey: typereg.Date}
	}
	if w.open[md.FullName()] {
		w.report(types.Diagnostic{
			Code:    types.CodeUnsupportedKind,
			Kind:    "message",
			Path:    ptr,
			Message: fmt.Sprintf("recursive reference to %s, accepting any value", md.FullName()),
		})
		return types.Schema{}
	}
	w.open[md.FullName()] = true
	defer delete(w.open, md.FullName())

	fields := md.Fields()
	props := make(map[string]any, fields.Len())
	var required []any
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		name := string(fd.Name())
		props[name] = w.field(fd, ptr+"/properties/"+name)
		if fd.Cardinality() == protoreflect.Required {
			required = append(required, name)
		}
	}

	out := types.Schema{types.TypeKey: "object", "properties": props}
	if len(required) > 0 {
		out["required"] = required
	}
	slog.Debug("Mapped protobuf message", "name", md.FullName(), "fields", len(props))
	return out
}

func (w walker) field(fd protoreflect.FieldDescriptor, ptr string) types.Schema {
	switch {
	case fd.IsMap():
		return types.Schema{types.TypeKey: "object"}
	case fd.IsList():
		return types.Schema{types.TypeKey: "array", "items": w.single(fd, ptr+"/items")}
	}
	return w.single(fd, ptr)
}

func (w walker) single(fd protoreflect.FieldDescriptor, ptr string) types.Schema {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return types.Schema{types.TypeKey: "boolean"}
	case protoreflect.EnumKind:
		values := fd.Enum().Values()
		names := make([]any, 0, values.Len())
		for i := 0; i < values.Len(); i++ {
			names = append(names, string(values.Get(i).Name()))
		}
		return types.Schema{types.TypeKey: "string", "enum": names}
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		return types.Schema{types.TypeKey: "integer"}
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		// unsigned 32-bit values overflow a BSON int
		return types.Schema{types.TypeKey: "integer", types.HintKey: typereg.Long}
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		return types.Schema{types.TypeKey: "number"}
	case protoreflect.StringKind:
		return types.Schema{types.TypeKey: "string"}
	case protoreflect.BytesKind:
		return types.Schema{types.TypeKey: "string", types.HintKey: typereg.BinData}
	case protoreflect.MessageKind, protoreflect.GroupKind:
		return w.message(fd.Message(), ptr)
	}

	w.report(types.Diagnostic{
		Code:    types.CodeUnsupportedKind,
		Kind:    fd.Kind().String(),
		Path:    ptr,
		Message: "unsupported protobuf kind, accepting any value",
	})
	return types.Schema{}
}

func (w walker) report(d types.Diagnostic) {
	if w.diag != nil {
		w.diag(d)
		return
	}
	slog.Warn("Protobuf schema node degraded", "code", d.Code, "kind", d.Kind, "path", d.Path, "message", d.Message)
}
