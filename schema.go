package mirror

// Schema describes, recursively, the shape application state is expected
// to take. It is consumed from an external collaborator (schema-derived
// type inference and validation-error formatting live outside this
// package); the diff engine and registry only need the variant, nested
// shape, and the options below.
type Schema struct {
	Kind SchemaKind

	// Primitive variants. Branded strings (e.g. an enum-like string
	// type) are represented as String with a non-empty Brand.
	Brand string

	// Map variant.
	Fields   map[string]*Schema // fixed field definitions
	Catchall *Schema            // schema for keys not in Fields, or nil

	// List / movable-list variant.
	ItemSchema *Schema
	Selector   func(item any) (string, bool) // identity selector; ok=false means "no id"

	// Tree variant.
	NodeSchema *Schema // schema for each node's data map

	Options SchemaOptions
}

// SchemaKind is the variant discriminator for Schema.
type SchemaKind string

const (
	SchemaString      SchemaKind = "string"
	SchemaNumber      SchemaKind = "number"
	SchemaBoolean     SchemaKind = "boolean"
	SchemaIgnore      SchemaKind = "ignore"
	SchemaMap         SchemaKind = "map"
	SchemaList        SchemaKind = "list"
	SchemaMovableList SchemaKind = "movable-list"
	SchemaText        SchemaKind = "text"
	SchemaTree        SchemaKind = "tree"
	SchemaCounter     SchemaKind = "counter"
)

// SchemaOptions are the per-node schema knobs.
type SchemaOptions struct {
	Required     bool
	DefaultValue any
	// WithCID requests that mirrored maps (or, for tree schemas, each
	// node's data map) carry a synthesized $cid field. See CIDField.
	WithCID bool
}

// CIDField is the synthesized key name injected into a mirrored map's
// object value when its schema requests WithCID. It is never persisted
// to the CRDT and is stripped before any map diff iterates keys.
const CIDField = "$cid"

// containerKind maps a container-shaped schema to the CRDT container
// kind it should be backed by. Panics on a non-container schema; callers
// must only invoke this after confirming Kind is one of the container
// variants.
func (s *Schema) containerKind() ContainerKind {
	switch s.Kind {
	case SchemaMap:
		return KindMap
	case SchemaList:
		return KindList
	case SchemaMovableList:
		return KindMovableList
	case SchemaText:
		return KindText
	case SchemaTree:
		return KindTree
	case SchemaCounter:
		return KindCounter
	default:
		panic("mirror: containerKind called on non-container schema")
	}
}

// isContainer reports whether s describes a CRDT container (as opposed
// to a primitive leaf).
func (s *Schema) isContainer() bool {
	if s == nil {
		return false
	}
	switch s.Kind {
	case SchemaMap, SchemaList, SchemaMovableList, SchemaText, SchemaTree, SchemaCounter:
		return true
	default:
		return false
	}
}

// fieldSchema returns the schema governing a map's child key, falling
// back to Catchall, or nil if neither applies.
func (s *Schema) fieldSchema(key string) *Schema {
	if s == nil {
		return nil
	}
	if f, ok := s.Fields[key]; ok {
		return f
	}
	return s.Catchall
}

// InferOptions controls whether the diff engine should materialize an
// unknown, schema-less field as a container rather than a primitive when
// the proposed value's Go shape suggests one.
type InferOptions struct {
	// DefaultText, when true, makes an unknown string-typed field
	// become a Text container instead of a plain string primitive.
	DefaultText bool
	// DefaultMovableList, when true, makes an unknown array-typed field
	// become a MovableList container instead of a plain List.
	DefaultMovableList bool
}
