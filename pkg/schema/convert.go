package schema

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/petrijr/taskdispatch/pkg/api"
	"github.com/petrijr/taskdispatch/pkg/variable"
)

// ToCommand instantiates the command bound to task.TopicName and fills every
// mapped field, preferring the task's variable bag and falling back to the
// same-named attribute of the task itself. The result is a pointer to the
// command struct.
func (r *Registry) ToCommand(task api.LockedTask) (any, error) {
	meta, err := r.LookupTask(task.TopicName)
	if err != nil {
		return nil, err
	}

	cmd := meta.New()
	target := cmd.Elem()
	attrs := task.Attributes()

	for _, key := range meta.Keys() {
		f := meta.fields[key]
		var value any
		if tv, ok := task.Variables[key]; ok {
			value, err = r.codec.FromWireValue(tv)
			if err != nil {
				return nil, fmt.Errorf("task %s: variable %q: %w", task.ID, key, err)
			}
		} else if attr, ok := attrs[key]; ok {
			value = attr
		} else {
			continue
		}

		dst, err := target.FieldByIndexErr(f.Index)
		if err != nil {
			return nil, fmt.Errorf("task %s: field %s: %w", task.ID, f.Name, err)
		}
		if err := variable.Assign(dst, value); err != nil {
			return nil, fmt.Errorf("task %s: field %s: %w", task.ID, f.Name, err)
		}
	}
	return cmd.Interface(), nil
}

// ToCompleteRequest builds the complete call for cmd. Free variables are sent
// back to the engine; reserved fields are not.
func (r *Registry) ToCompleteRequest(cmd any) (taskID string, req api.CompleteRequest, err error) {
	meta, err := r.taskMetadataOf(cmd)
	if err != nil {
		return "", api.CompleteRequest{}, err
	}
	taskID, err = requiredString(meta, cmd, TagID)
	if err != nil {
		return "", api.CompleteRequest{}, err
	}

	vars := make(map[string]any)
	for _, key := range meta.FreeVariables() {
		v, _ := meta.Value(cmd, key)
		vars[key] = v
	}
	return taskID, api.CompleteRequest{
		WorkerID:  optionalString(meta, cmd, TagWorkerID),
		Variables: variable.Encode(vars),
	}, nil
}

// ToFailureRequest builds the failure call for cmd from its reserved fields.
func (r *Registry) ToFailureRequest(cmd any) (taskID string, req api.FailureRequest, err error) {
	meta, err := r.taskMetadataOf(cmd)
	if err != nil {
		return "", api.FailureRequest{}, err
	}
	taskID, err = requiredString(meta, cmd, TagID)
	if err != nil {
		return "", api.FailureRequest{}, err
	}

	req = api.FailureRequest{
		WorkerID:     optionalString(meta, cmd, TagWorkerID),
		ErrorMessage: strings.Join(meta.TextValues(cmd, TagErrorMessage), "; "),
		ErrorDetails: strings.Join(meta.TextValues(cmd, TagErrorDetails), "; "),
	}
	if v, ok := meta.Value(cmd, TagRetries); ok {
		req.Retries, err = toIntPtr(v)
		if err != nil {
			return "", api.FailureRequest{}, fmt.Errorf("%s: retries: %w", meta.Name, err)
		}
	}
	if v, ok := meta.Value(cmd, TagRetryTimeout); ok {
		req.RetryTimeout, err = toMillis(v)
		if err != nil {
			return "", api.FailureRequest{}, fmt.Errorf("%s: retryTimeout: %w", meta.Name, err)
		}
	}
	return taskID, req, nil
}

// ToSignalRequest builds the signal delivery for sig. Every mapped field,
// business key included, travels as a variable.
func (r *Registry) ToSignalRequest(sig any) (businessKey string, req api.SignalRequest, err error) {
	meta, err := r.MetadataOf(sig)
	if err != nil {
		return "", api.SignalRequest{}, err
	}
	if meta.Kind != KindSignal {
		return "", api.SignalRequest{}, fmt.Errorf("%w: %s is not a signal", ErrNotFound, meta.Name)
	}
	businessKey, err = requiredString(meta, sig, TagBusinessKey)
	if err != nil {
		return "", api.SignalRequest{}, err
	}

	vars := make(map[string]any, len(meta.fields))
	for _, key := range meta.Keys() {
		v, _ := meta.Value(sig, key)
		vars[key] = v
	}
	return businessKey, api.SignalRequest{Name: meta.Name, Variables: variable.Encode(vars)}, nil
}

// TextValues returns the non-empty text held by the field under key. Slice
// and array fields yield one entry per non-empty element.
func (m *EntityMetadata) TextValues(obj any, key string) []string {
	v, ok := m.Value(obj, key)
	if !ok || v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	var out []string
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			if s := strings.TrimSpace(string(rv.Bytes())); s != "" {
				out = append(out, s)
			}
			break
		}
		for i := 0; i < rv.Len(); i++ {
			if s := stringify(rv.Index(i).Interface()); s != "" {
				out = append(out, s)
			}
		}
	default:
		if s := stringify(rv.Interface()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) taskMetadataOf(cmd any) (*EntityMetadata, error) {
	meta, err := r.MetadataOf(cmd)
	if err != nil {
		return nil, err
	}
	if meta.Kind != KindTask {
		return nil, fmt.Errorf("%w: %s is not a task", ErrNotFound, meta.Name)
	}
	return meta, nil
}

func requiredString(meta *EntityMetadata, obj any, key string) (string, error) {
	s := optionalString(meta, obj, key)
	if s == "" {
		return "", fmt.Errorf("%s %q: field tagged %q is empty", meta.Kind, meta.Name, key)
	}
	return s, nil
}

func optionalString(meta *EntityMetadata, obj any, key string) string {
	v, ok := meta.Value(obj, key)
	if !ok {
		return ""
	}
	return stringify(v)
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case *string:
		if x == nil {
			return ""
		}
		return *x
	case fmt.Stringer:
		return x.String()
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return ""
		}
		return stringify(rv.Elem().Interface())
	}
	return fmt.Sprint(v)
}

func toIntPtr(v any) (*int, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, nil
	}
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	var n int
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n = int(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n = int(rv.Uint())
	case reflect.String:
		if rv.String() == "" {
			return nil, nil
		}
		parsed, err := strconv.Atoi(rv.String())
		if err != nil {
			return nil, err
		}
		n = parsed
	default:
		return nil, fmt.Errorf("unsupported type %s", rv.Type())
	}
	return &n, nil
}

func toMillis(v any) (int64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return x.Milliseconds(), nil
	case *time.Duration:
		if x == nil {
			return 0, nil
		}
		return x.Milliseconds(), nil
	}
	n, err := toIntPtr(v)
	if err != nil || n == nil {
		return 0, err
	}
	return int64(*n), nil
}
