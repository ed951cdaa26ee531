package metadata

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/format"
)

// FormatFields writes the "(fields)" lines: "name type", joined by " +".
func FormatFields(fields []Variable) string {
	lines := make([]string, len(fields))
	for i, v := range fields {
		lines[i] = v.Name + " " + v.Type.Name()
	}

	return strings.Join(lines, " +\n")
}

// parseFieldLines reads "name type" lines up to the next tag or the end of
// the input.
func parseFieldLines(lr *lineReader) ([]Variable, error) {
	var fields []Variable
	for {
		line, ok := lr.next()
		if !ok {
			break
		}
		if strings.HasPrefix(line, "(") {
			lr.unread(line)
			break
		}

		line = strings.TrimSpace(strings.TrimSuffix(line, "+"))
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: field %q has no type", errs.ErrMalformedMetadata, line)
		}
		dt, err := format.ParseDataType(parts[1])
		if err != nil {
			return nil, err
		}
		fields = append(fields, Variable{Name: parts[0], Type: dt})
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", errs.ErrMissingTag, TagFields)
	}

	return fields, nil
}

// ParseVariableList reads a variable description: a "(fields)" line
// followed by one "name type" line per variable, ending at a line that
// starts with "(" or at the end of the input. Lines before "(fields)" are
// ignored.
func ParseVariableList(r io.Reader) ([]Variable, error) {
	lr := &lineReader{sc: bufio.NewScanner(r)}
	for {
		line, ok := lr.next()
		if !ok {
			if err := lr.sc.Err(); err != nil {
				return nil, fmt.Errorf("%w: %w", errs.ErrIO, err)
			}

			return nil, fmt.Errorf("%w: %s", errs.ErrMissingTag, TagFields)
		}
		if line == TagFields {
			return parseFieldLines(lr)
		}
	}
}
