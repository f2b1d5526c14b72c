package assessment

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Parse decodes raw model output into a validated Result. The happy path is
// a strict decode of the whole payload; when the model wraps the JSON in
// prose, the outermost brace-delimited object is extracted and re-parsed
// before giving up. Unknown fields and schema violations fail closed.
func Parse(raw []byte) (*Result, error) {
	res, err := decodeStrict(raw)
	if err != nil {
		extracted, ok := ExtractObject(raw)
		if !ok {
			return nil, fmt.Errorf("%w: no JSON object in model output: %v", ErrValidation, err)
		}
		res, err = decodeStrict(extracted)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return res, nil
}

func decodeStrict(raw []byte) (*Result, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var res Result
	if err := dec.Decode(&res); err != nil {
		return nil, fmt.Errorf("decode assessment: %w", err)
	}
	return &res, nil
}

// ExtractObject locates the outermost balanced {...} substring in raw,
// skipping brace characters inside JSON strings. It is the deliberate
// best-effort recovery stage for model output wrapped in prose.
func ExtractObject(raw []byte) ([]byte, bool) {
	start := bytes.IndexByte(raw, '{')
	if start < 0 {
		return nil, false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return nil, false
}
