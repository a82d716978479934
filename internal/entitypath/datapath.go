package entitypath

import (
	"strconv"
	"strings"

	"rerun-chunkstore/internal/component"
)

// DataPath is the result of parsing "entity[#N]:Component".
type DataPath struct {
	Entity      Path
	InstanceKey *uint64
	Component   component.Identifier
}

// ParseDataPath parses "entity[#42]:rerun.components.Color" and its
// shorter forms ("world/points", "world/points:Color",
// "world/points[#42]"). Order of stripping matches original_source's
// parse_path.rs: the ":component" suffix is removed first, then
// "[#instance]", then the remainder is parsed as a strict entity path.
func ParseDataPath(input string) (DataPath, error) {
	if input == "" {
		return DataPath{}, simpleErr(ErrEmptyString)
	}

	tokens := tokenizeDataPath(input)

	var comp component.Identifier
	colonIdx := indexOf(tokens, ":")
	if colonIdx >= 0 {
		rest := tokens[colonIdx+1:]
		if len(rest) == 0 {
			return DataPath{}, dataPathErr("found trailing colon (:)")
		}
		comp = component.Qualify(join(rest))
		tokens = tokens[:colonIdx]
	}

	var instanceKey *uint64
	bracketIdx := indexOf(tokens, "[")
	if bracketIdx >= 0 {
		instTokens := tokens[bracketIdx:]
		if len(instTokens) != 3 || instTokens[2] != "]" {
			return DataPath{}, dataPathErr("invalid instance key: %q (expected '[#1234]')", join(instTokens))
		}
		numTok := instTokens[1]
		numStr, ok := strings.CutPrefix(numTok, "#")
		if !ok {
			return DataPath{}, dataPathErr("invalid instance key: %q (expected '[#1234]')", numTok)
		}
		n, err := strconv.ParseUint(numStr, 10, 64)
		if err != nil {
			return DataPath{}, dataPathErr("invalid instance key: %q (expected '[#1234]')", numTok)
		}
		instanceKey = &n
		tokens = tokens[:bracketIdx]
	}

	parts, err := partsFromTokensStrict(tokens)
	if err != nil {
		return DataPath{}, err
	}

	return DataPath{
		Entity:      New(parts...),
		InstanceKey: instanceKey,
		Component:   comp,
	}, nil
}

func indexOf(tokens []string, tok string) int {
	for i, t := range tokens {
		if t == tok {
			return i
		}
	}
	return -1
}

func join(tokens []string) string {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteString(t)
	}
	return b.String()
}
