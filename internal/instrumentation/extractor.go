package instrumentation

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/teemow/mcpdemo/internal/logging"
)

// ErrExtractorPanic wraps a panic raised inside an attribute extractor.
var ErrExtractorPanic = errors.New("attribute extractor panicked")

// Extractor derives span attributes from a handler request. It is
// best-effort: an error or panic is logged and the invocation proceeds
// without attributes.
type Extractor[Req any] func(req Req) (map[string]any, error)

// applyExtractor runs extract against req and returns the attributes it
// produced. Failures never escape; they are logged at WARN and yield nil.
func applyExtractor[Req any](logger *slog.Logger, spanName string, extract Extractor[Req], req Req) (attrs map[string]any) {
	if extract == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			attrs = nil
			logExtractionFailure(logger, spanName, fmt.Errorf("%w: %v", ErrExtractorPanic, r))
		}
	}()

	attrs, err := extract(req)
	if err != nil {
		logExtractionFailure(logger, spanName, err)
		return nil
	}
	return attrs
}

func logExtractionFailure(logger *slog.Logger, spanName string, err error) {
	logger.Warn("attribute extraction failed",
		logging.Span(spanName),
		logging.Err(err))
}
