package converter

import (
	"context"

	"github.com/pagemill/api/internal/model"
)

// Converter turns one document payload into a structured result using the
// process's model cache. Implementations must be safe to invoke repeatedly
// with an identical payload: delivery is at-least-once and a redelivered
// job reruns the conversion. The cache is the only shared state, and it is
// read-only.
type Converter interface {
	Convert(ctx context.Context, payload *model.ConvertPayload, cache *ModelCache) (*model.ConversionResult, error)
}

// Func adapts a plain function to the Converter interface.
type Func func(ctx context.Context, payload *model.ConvertPayload, cache *ModelCache) (*model.ConversionResult, error)

func (f Func) Convert(ctx context.Context, payload *model.ConvertPayload, cache *ModelCache) (*model.ConversionResult, error) {
	return f(ctx, payload, cache)
}
