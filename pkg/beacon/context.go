// context.go propagates extra envelope fields through context.Context.

package beacon

import "context"

type extraKey struct{}

// WithExtra returns a context carrying an extra field. Envelopes built
// with this context include the field in Extra; explicit extra passed to
// a capture call wins on conflict.
func WithExtra(ctx context.Context, key string, value any) context.Context {
	parent := ExtraFromContext(ctx)
	fields := make(map[string]any, len(parent)+1)
	for k, v := range parent {
		fields[k] = v
	}
	fields[key] = value
	return context.WithValue(ctx, extraKey{}, fields)
}

// ExtraFromContext returns the extra fields attached to ctx. The returned
// map must not be modified.
func ExtraFromContext(ctx context.Context) map[string]any {
	fields, _ := ctx.Value(extraKey{}).(map[string]any)
	return fields
}
