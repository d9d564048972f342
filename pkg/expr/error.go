package expr

import (
	"fmt"
)

type ErrExpression = error

func NewExpressionError(e *Expression, err error) ErrExpression {
	return fmt.Errorf("failed to evaluate expression %q: %w", e.String(), err)
}

type ErrUnmarshal = error

func NewUnmarshalError(content string, err error) ErrUnmarshal {
	return fmt.Errorf("JSON parsing error at %q: %w", content, err)
}
