package expr

import (
	"encoding/json"
	"strings"
)

// Expressions unmarshal from their compact JSON form (YAML query documents are converted to JSON
// first):
//
//   - "$.spec.name"              -> JSONPath reference
//   - "literal", 42, true, null  -> literal
//   - [e1, e2, ...]              -> list constructor
//   - {"@eq": [e1, e2]}          -> operator call (single "@" key, args as list or single arg)
//   - {"name": e1, "age": e2}    -> map constructor
func (e *Expression) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))

	// Operator call or map constructor.
	if strings.HasPrefix(raw, "{") {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(b, &fields); err != nil {
			return NewUnmarshalError(raw, err)
		}

		if len(fields) == 1 {
			for op, arg := range fields {
				if strings.HasPrefix(op, "@") {
					args, err := unmarshalArgs(arg)
					if err != nil {
						return err
					}
					*e = Expression{Op: op, Args: args, Raw: raw}
					return nil
				}
			}
		}

		dict := make(map[string]Expression, len(fields))
		for name, sub := range fields {
			var fe Expression
			if err := json.Unmarshal(sub, &fe); err != nil {
				return err
			}
			dict[name] = fe
		}
		*e = Expression{Op: OpDict, Dict: dict, Raw: raw}
		return nil
	}

	// List constructor.
	if strings.HasPrefix(raw, "[") {
		args, err := unmarshalArgs(json.RawMessage(b))
		if err != nil {
			return err
		}
		*e = Expression{Op: OpList, Args: args, Raw: raw}
		return nil
	}

	// Scalar: JSONPath reference or literal.
	var val any
	if err := json.Unmarshal(b, &val); err != nil {
		return NewUnmarshalError(raw, err)
	}
	if s, ok := val.(string); ok && IsPath(s) {
		*e = Expression{Op: OpPath, Literal: s, Raw: raw}
		return nil
	}
	*e = Expression{Op: OpLiteral, Literal: val, Raw: raw}

	return nil
}

// unmarshalArgs decodes an operator argument: a JSON list yields one expression per element, any
// other value a single argument.
func unmarshalArgs(b json.RawMessage) ([]Expression, error) {
	raw := strings.TrimSpace(string(b))
	if strings.HasPrefix(raw, "[") {
		var list []Expression
		if err := json.Unmarshal(b, &list); err != nil {
			return nil, NewUnmarshalError(raw, err)
		}
		return list, nil
	}

	var single Expression
	if err := json.Unmarshal(b, &single); err != nil {
		return nil, NewUnmarshalError(raw, err)
	}
	return []Expression{single}, nil
}

// MarshalJSON renders the expression back into its compact JSON form.
func (e Expression) MarshalJSON() ([]byte, error) {
	switch e.Op {
	case OpLiteral, OpPath:
		return json.Marshal(e.Literal)
	case OpList:
		return json.Marshal(e.Args)
	case OpDict:
		return json.Marshal(e.Dict)
	default:
		if len(e.Args) == 1 {
			return json.Marshal(map[string]Expression{e.Op: e.Args[0]})
		}
		return json.Marshal(map[string][]Expression{e.Op: e.Args})
	}
}
