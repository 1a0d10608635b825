package fault

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"

	"go.uber.org/zap"
)

// Redacted replaces any context value whose key looks sensitive.
const Redacted = "[REDACTED]"

// Unserializable replaces context values that cannot be serialized.
const Unserializable = "[unserializable]"

// maxSanitizeDepth bounds recursion through nested context values.
const maxSanitizeDepth = 8

var sensitiveKeyParts = []string{"key", "token", "password", "secret"}

func sensitiveKey(k string) bool {
	lower := strings.ToLower(k)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

// Sanitize returns a copy of a context map safe to log or serialize.
// Sensitive keys are redacted, nested errors are reduced to name/message
// pairs, unserializable values become a fixed placeholder, and cyclic
// structures terminate at a depth bound instead of recursing forever.
func Sanitize(context map[string]any) map[string]any {
	if context == nil {
		return nil
	}
	visited := make(map[uintptr]bool)
	out := make(map[string]any, len(context))
	for k, v := range context {
		if sensitiveKey(k) {
			out[k] = Redacted
			continue
		}
		out[k] = sanitizeValue(v, visited, 0)
	}
	return out
}

func sanitizeValue(v any, visited map[uintptr]bool, depth int) any {
	if depth > maxSanitizeDepth {
		return Unserializable
	}
	if v == nil {
		return nil
	}

	if err, ok := v.(error); ok {
		return map[string]any{
			"name":    errorName(err),
			"message": err.Error(),
		}
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return Unserializable

	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		if visited[rv.Pointer()] {
			return Unserializable
		}
		visited[rv.Pointer()] = true
		return sanitizeValue(rv.Elem().Interface(), visited, depth+1)

	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		if visited[rv.Pointer()] {
			return Unserializable
		}
		visited[rv.Pointer()] = true
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := stringifyKey(iter.Key())
			if sensitiveKey(key) {
				out[key] = Redacted
				continue
			}
			out[key] = sanitizeValue(iter.Value().Interface(), visited, depth+1)
		}
		return out

	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		if visited[rv.Pointer()] {
			return Unserializable
		}
		visited[rv.Pointer()] = true
		return sanitizeSeq(rv, visited, depth)

	case reflect.Array:
		return sanitizeSeq(rv, visited, depth)

	default:
		if _, err := json.Marshal(v); err != nil {
			return Unserializable
		}
		return v
	}
}

func sanitizeSeq(rv reflect.Value, visited map[uintptr]bool, depth int) any {
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = sanitizeValue(rv.Index(i).Interface(), visited, depth+1)
	}
	return out
}

func stringifyKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	return Unserializable
}

func errorName(err error) string {
	if fe, ok := err.(*Error); ok {
		return string(fe.Kind)
	}
	return reflect.TypeOf(err).String()
}

// MarshalJSON serializes the error with its context sanitized.
func (e *Error) MarshalJSON() ([]byte, error) {
	payload := map[string]any{
		"kind":      string(e.Kind),
		"code":      e.Code,
		"message":   e.Message,
		"timestamp": e.Timestamp,
	}
	if e.Op != "" {
		payload["op"] = e.Op
	}
	if e.Context != nil {
		payload["context"] = Sanitize(e.Context)
	}
	if e.Err != nil {
		payload["cause"] = e.Err.Error()
	}
	return json.Marshal(payload)
}

// Fields renders an error as structured zap fields with its context
// sanitized. Non-taxonomy errors fall back to a plain error field.
func Fields(err error) []zap.Field {
	var fe *Error
	if !errors.As(err, &fe) {
		return []zap.Field{zap.Error(err)}
	}
	fields := []zap.Field{
		zap.String("error_kind", string(fe.Kind)),
		zap.String("error_code", fe.Code),
		zap.String("error_message", fe.Message),
	}
	if fe.Op != "" {
		fields = append(fields, zap.String("error_op", fe.Op))
	}
	if fe.Context != nil {
		fields = append(fields, zap.Any("error_context", Sanitize(fe.Context)))
	}
	if fe.Err != nil {
		fields = append(fields, zap.NamedError("cause", fe.Err))
	}
	return fields
}
