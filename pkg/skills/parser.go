package skills

import (
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const headerMarker = "---"

// ParseOptions tunes Parse.
type ParseOptions struct {
	// SkipNameValidation disables the name/directory match, for callers whose
	// directory name is provisional (for example a fresh plugin clone).
	SkipNameValidation bool
}

type scanState int

const (
	beforeHeader scanState = iota
	inHeader
)

// splitHeader separates the YAML header from the body. Leading whitespace
// before the opening marker is ignored and CRLF line endings are normalized.
func splitHeader(text string) (header, body string, opened, closed bool) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimLeft(text, " \t\n\r")

	lines := strings.Split(text, "\n")
	state := beforeHeader
	var headerLines []string
	for i, line := range lines {
		switch state {
		case beforeHeader:
			if strings.TrimRight(line, " \t") != headerMarker {
				return "", "", false, false
			}
			state = inHeader
		case inHeader:
			if strings.TrimRight(line, " \t") == headerMarker {
				rest := lines[i+1:]
				if len(rest) > 0 && strings.TrimSpace(rest[0]) == "" {
					rest = rest[1:]
				}
				return strings.Join(headerLines, "\n"), strings.Join(rest, "\n"), true, true
			}
			headerLines = append(headerLines, line)
		}
	}
	return "", "", state != beforeHeader, false
}

// Parse splits raw SKILL.md text into header and body, validates the header
// and, unless opts.SkipNameValidation is set, checks that the declared name
// equals expectedDirectoryName. Any returned error is a *ParseError.
func Parse(raw, expectedDirectoryName string, opts ParseOptions) (*Package, error) {
	header, body, opened, closed := splitHeader(raw)
	if !opened {
		return nil, &ParseError{Type: ErrParse, Err: errors.New("SKILL.md must start with a header section (---)")}
	}
	if !closed {
		return nil, &ParseError{Type: ErrParse, Err: errors.New("SKILL.md header section is not properly closed (---)")}
	}

	var fields map[string]any
	if err := yaml.Unmarshal([]byte(header), &fields); err != nil {
		return nil, &ParseError{Type: ErrParse, Err: errors.Wrap(err, "header parse error")}
	}

	manifest, err := Validate(fields)
	if err != nil {
		return nil, &ParseError{Type: ErrValidation, Err: err}
	}

	if !opts.SkipNameValidation {
		if err := NameMatchesDirectory(manifest.Name, expectedDirectoryName); err != nil {
			return nil, &ParseError{Type: ErrValidation, Err: err}
		}
	}

	return &Package{Manifest: manifest, Body: body}, nil
}

// ErrorTypeOf returns the ErrorType carried by err, or ErrIO for errors that
// did not come from Parse.
func ErrorTypeOf(err error) ErrorType {
	var perr *ParseError
	if errors.As(err, &perr) {
		return perr.Type
	}
	return ErrIO
}

// Render serializes a package back into SKILL.md text.
func Render(p *Package) (string, error) {
	header, err := p.Manifest.MarshalHeader()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString(headerMarker + "\n")
	sb.Write(header)
	sb.WriteString(headerMarker + "\n")
	if p.Body != "" {
		sb.WriteString("\n")
		sb.WriteString(p.Body)
	}
	return sb.String(), nil
}
