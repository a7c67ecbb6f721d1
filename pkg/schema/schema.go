// Package schema resolves struct-tag metadata of command and signal types
// into EntityMetadata and keeps them in a name-indexed Registry.
//
// A command type declares its task name with a TaskName method and marks
// fields with the "dispatch" struct tag:
//
//	type Simple struct {
//		ID               string `dispatch:"id"`
//		WorkerID         string `dispatch:"workerId"`
//		StringVar        string `dispatch:"var"`
//		AnotherStringVar string `dispatch:"var=otherVar"`
//	}
//
//	func (Simple) TaskName() string { return "Simple" }
//
// A tag value is a comma separated list of items. "var" maps the field to a
// process variable named after the field (lower camel case), "var=name" uses
// an explicit name, and any reserved name (id, workerId, businessKey, ...)
// binds the field to the corresponding attribute of the engine task. Items
// naming a CustomTag registered on the Registry resolve to that tag's
// variable. A field may carry a reserved item and a variable item at once.
package schema

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode"
)

// TagKey is the struct tag key inspected by the registry.
const TagKey = "dispatch"

// Reserved tag names. They match the attribute names of engine tasks and
// failure reports.
const (
	TagID                   = "id"
	TagWorkerID             = "workerId"
	TagActivityID           = "activityId"
	TagActivityInstanceID   = "activityInstanceId"
	TagExecutionID          = "executionId"
	TagProcessDefinitionID  = "processDefinitionId"
	TagProcessDefinitionKey = "processDefinitionKey"
	TagProcessInstanceID    = "processInstanceId"
	TagRetries              = "retries"
	TagRetryTimeout         = "retryTimeout"
	TagErrorMessage         = "errorMessage"
	TagErrorDetails         = "errorDetails"
	TagLockExpirationTime   = "lockExpirationTime"
	TagTenantID             = "tenantId"
	TagPriority             = "priority"
	TagSuspended            = "suspended"
	TagTopicName            = "topicName"
	TagBusinessKey          = "businessKey"

	tagVar = "var"
)

var reservedTags = map[string]struct{}{
	TagID: {}, TagWorkerID: {}, TagActivityID: {}, TagActivityInstanceID: {},
	TagExecutionID: {}, TagProcessDefinitionID: {}, TagProcessDefinitionKey: {},
	TagProcessInstanceID: {}, TagRetries: {}, TagRetryTimeout: {}, TagErrorMessage: {},
	TagErrorDetails: {}, TagLockExpirationTime: {}, TagTenantID: {}, TagPriority: {},
	TagSuspended: {}, TagTopicName: {}, TagBusinessKey: {},
}

// IsReserved reports whether name is one of the reserved tag names.
func IsReserved(name string) bool {
	_, ok := reservedTags[name]
	return ok
}

// ErrNotFound is returned by lookups of unregistered names or types.
var ErrNotFound = errors.New("schema: not found")

// Task is implemented by command types bound to an engine topic. An empty
// name falls back to the qualified Go type name.
type Task interface {
	TaskName() string
}

// Signal is implemented by signal types. An empty name falls back to the
// qualified Go type name.
type Signal interface {
	SignalName() string
}

// CustomTag declares an application-specific tag item that maps a field to
// a process variable. An empty VarName uses the field name.
type CustomTag struct {
	Name    string
	VarName string
}

// Kind tells tasks and signals apart.
type Kind int

const (
	KindTask Kind = iota + 1
	KindSignal
)

func (k Kind) String() string {
	switch k {
	case KindTask:
		return "task"
	case KindSignal:
		return "signal"
	}
	return "unknown"
}

// Field is one mapped struct field.
type Field struct {
	// Name is the Go field name.
	Name  string
	Index []int
	Type  reflect.Type
	// Reserved is set when the key this field is registered under is a
	// reserved tag name.
	Reserved bool
}

// EntityMetadata is the resolved schema of one command or signal type. It is
// immutable once built.
type EntityMetadata struct {
	Name string
	Kind Kind
	// Type is the struct type; commands are instantiated as pointers to it.
	Type   reflect.Type
	fields map[string]Field
	tagged int
}

// FieldCount returns the number of tagged struct fields. A field carrying a
// reserved tag and a variable tag counts once.
func (m *EntityMetadata) FieldCount() int { return m.tagged }

// Fields returns a copy of the key to field map. The map is keyed per tag,
// so a field tagged both reserved and as a variable appears under both keys
// and len(Fields()) may exceed FieldCount.
func (m *EntityMetadata) Fields() map[string]Field {
	out := make(map[string]Field, len(m.fields))
	for k, f := range m.fields {
		out[k] = f
	}
	return out
}

// Field returns the field registered under key.
func (m *EntityMetadata) Field(key string) (Field, bool) {
	f, ok := m.fields[key]
	return f, ok
}

// Keys returns every variable and reserved key, sorted.
func (m *EntityMetadata) Keys() []string {
	keys := make([]string, 0, len(m.fields))
	for k := range m.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FreeVariables returns the variable keys that are not reserved, sorted.
func (m *EntityMetadata) FreeVariables() []string {
	keys := make([]string, 0, len(m.fields))
	for k, f := range m.fields {
		if !f.Reserved {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// New allocates a zero value of the type and returns a pointer to it.
func (m *EntityMetadata) New() reflect.Value {
	return reflect.New(m.Type)
}

// Value reads the field registered under key from obj, which must be the
// struct or a pointer to it. ok is false when key is unmapped or an embedded
// pointer on the path is nil.
func (m *EntityMetadata) Value(obj any, key string) (v any, ok bool) {
	f, found := m.fields[key]
	if !found {
		return nil, false
	}
	rv, err := m.structValue(obj)
	if err != nil {
		return nil, false
	}
	fv, err := rv.FieldByIndexErr(f.Index)
	if err != nil {
		return nil, false
	}
	return fv.Interface(), true
}

func (m *EntityMetadata) structValue(obj any) (reflect.Value, error) {
	rv := reflect.ValueOf(obj)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Value{}, fmt.Errorf("schema: nil %s", m.Type)
		}
		rv = rv.Elem()
	}
	if rv.Type() != m.Type {
		return reflect.Value{}, fmt.Errorf("schema: %s is not %s", rv.Type(), m.Type)
	}
	return rv, nil
}

// TypeName returns the declared task or signal name of t, falling back to the
// qualified type name when the declaration is empty. ok is false when t
// declares neither.
func TypeName(t reflect.Type) (name string, kind Kind, ok bool) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	inst := reflect.New(t).Interface()
	switch x := inst.(type) {
	case Task:
		return nameOrQualified(x.TaskName(), t), KindTask, true
	case Signal:
		return nameOrQualified(x.SignalName(), t), KindSignal, true
	}
	return "", 0, false
}

// NameOf is TypeName for a value.
func NameOf(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	name, _, ok := TypeName(reflect.TypeOf(v))
	return name, ok
}

func nameOrQualified(name string, t reflect.Type) string {
	if name != "" {
		return name
	}
	return qualifiedName(t)
}

func qualifiedName(t reflect.Type) string {
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

// lowerCamel turns a Go field name into a variable name: StringVar becomes
// stringVar, ID becomes id and URLPath becomes urlPath.
func lowerCamel(s string) string {
	runes := []rune(s)
	n := 0
	for n < len(runes) && unicode.IsUpper(runes[n]) {
		n++
	}
	switch {
	case n == 0:
		return s
	case n == 1 || n == len(runes):
	default:
		// Keep the last capital of an acronym when a lower-case word follows.
		n--
	}
	for i := 0; i < n; i++ {
		runes[i] = unicode.ToLower(runes[i])
	}
	return string(runes)
}

type tagItem struct {
	key      string
	reserved bool
}

// parseTag expands one struct tag into the keys the field is registered
// under. An explicit var item wins over custom tags; reserved items are
// always added.
func parseTag(fieldName, tag string, custom map[string]CustomTag) ([]tagItem, error) {
	var (
		varKey   string
		items    []tagItem
		customed string
	)
	for _, raw := range strings.Split(tag, ",") {
		item := strings.TrimSpace(raw)
		switch {
		case item == "":
			continue
		case item == tagVar:
			varKey = lowerCamel(fieldName)
		case strings.HasPrefix(item, tagVar+"="):
			varKey = strings.TrimSpace(strings.TrimPrefix(item, tagVar+"="))
			if varKey == "" {
				return nil, fmt.Errorf("field %s: empty variable name", fieldName)
			}
		case IsReserved(item):
			items = append(items, tagItem{key: item, reserved: true})
		default:
			ct, ok := custom[item]
			if !ok {
				return nil, fmt.Errorf("field %s: unknown tag %q", fieldName, item)
			}
			if ct.VarName != "" {
				customed = ct.VarName
			} else {
				customed = lowerCamel(fieldName)
			}
		}
	}
	if varKey == "" {
		varKey = customed
	}
	if varKey != "" {
		items = append(items, tagItem{key: varKey, reserved: IsReserved(varKey)})
	}
	return items, nil
}

// build resolves the metadata of struct type t.
func build(name string, kind Kind, t reflect.Type, custom map[string]CustomTag) (*EntityMetadata, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%s is not a struct", t)
	}
	meta := &EntityMetadata{Name: name, Kind: kind, Type: t, fields: make(map[string]Field)}
	for _, sf := range reflect.VisibleFields(t) {
		tag, ok := sf.Tag.Lookup(TagKey)
		if !ok || tag == "-" {
			continue
		}
		if !sf.IsExported() {
			return nil, fmt.Errorf("field %s: tagged field must be exported", sf.Name)
		}
		items, err := parseTag(sf.Name, tag, custom)
		if err != nil {
			return nil, err
		}
		if len(items) > 0 {
			meta.tagged++
		}
		for _, it := range items {
			if prev, dup := meta.fields[it.key]; dup {
				return nil, fmt.Errorf("fields %s and %s both map to %q", prev.Name, sf.Name, it.key)
			}
			meta.fields[it.key] = Field{Name: sf.Name, Index: sf.Index, Type: sf.Type, Reserved: it.reserved}
		}
	}

	required := []string{TagID, TagWorkerID}
	if kind == KindSignal {
		required = []string{TagBusinessKey}
	}
	for _, tagName := range required {
		if _, ok := meta.fields[tagName]; !ok {
			return nil, fmt.Errorf("%s %q has no field tagged %q", kind, name, tagName)
		}
	}
	return meta, nil
}
