package interpret

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/variant-interpretation-server/internal/domain"
)

// FailurePrefix marks an interpretation that could not be generated
const FailurePrefix = "❌ "

// Interpreter produces the narrative interpretation for annotated records
type Interpreter struct {
	generator domain.Generator
	logger    *logrus.Logger
}

// NewInterpreter creates an interpreter backed by generator
func NewInterpreter(generator domain.Generator, logger *logrus.Logger) *Interpreter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Interpreter{generator: generator, logger: logger}
}

// Interpret builds the prompt for rec and returns the generated text. A
// generation failure is returned as text beginning with FailurePrefix so the
// row stays in the result.
func (i *Interpreter) Interpret(ctx context.Context, rec domain.AnnotatedRecord) string {
	text, err := i.generator.Generate(ctx, BuildPrompt(rec))
	if err != nil {
		i.logger.WithFields(logrus.Fields{
			"variant": rec.Variant.String(),
			"error":   err.Error(),
		}).Warn("Interpretation failed")
		return FailurePrefix + err.Error()
	}
	return text
}
