package entitypath

// ParseStrict parses input as an entity path, rejecting malformed input
// (empty, leading/trailing/double slashes, empty parts, illegal
// characters). Well-formed input that is not in canonical form is
// accepted, and a warning is logged once for it.
func ParseStrict(input string) (Path, error) {
	if input == "" {
		return Path{}, simpleErr(ErrEmptyString)
	}

	tokens := tokenizeEntityPath(input)
	parts, err := partsFromTokensStrict(tokens)
	if err != nil {
		return Path{}, err
	}
	path := New(parts...)

	if normalized := path.Format(); normalized != input {
		warnOnce(input, normalized)
	}
	return path, nil
}

func partsFromTokensStrict(tokens []string) ([]Part, error) {
	if len(tokens) == 0 {
		return nil, simpleErr(ErrEmptyString)
	}
	if len(tokens) == 1 && tokens[0] == "/" {
		return nil, nil // root
	}
	if tokens[0] == "/" {
		return nil, simpleErr(ErrLeadingSlash)
	}

	var parts []Part
	for {
		token := tokens[0]
		tokens = tokens[1:]

		if token == "/" {
			return nil, simpleErr(ErrDoubleSlash)
		}
		raw, err := unescapePart(token, true)
		if err != nil {
			return nil, err
		}
		if raw == "" {
			return nil, simpleErr(ErrEmptyPart)
		}
		parts = append(parts, Part(raw))

		if len(tokens) == 0 {
			break
		}
		if tokens[0] != "/" {
			return nil, simpleErr(ErrMissingSlash)
		}
		tokens = tokens[1:]
		if len(tokens) == 0 {
			return nil, simpleErr(ErrTrailingSlash)
		}
	}
	return parts, nil
}
