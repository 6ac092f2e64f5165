package services

import (
	"regexp"
	"strings"

	"github.com/solweave/chainflow/pkg/schema"
)

var contractDeclRe = regexp.MustCompile(`\b(contract|library|interface)\s+[A-Za-z_][A-Za-z0-9_]*`)

// LocalSyntax is a heuristic pre-compilation check. It catches the obvious
// mistakes (empty source, no contract declaration, unbalanced braces) so a
// round trip to the compiler service is not wasted on them. It is not a
// parser and accepts source the compiler will still reject.
type LocalSyntax struct{}

// NewLocalSyntax creates the local syntax checker.
func NewLocalSyntax() *LocalSyntax {
	return &LocalSyntax{}
}

func (s *LocalSyntax) Check(source string) error {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return schema.NewError(schema.ErrCodeValidation, "source is empty")
	}

	if !contractDeclRe.MatchString(trimmed) {
		return schema.NewError(schema.ErrCodeValidation, "source contains no contract, library, or interface declaration")
	}

	depth := 0
	for _, r := range trimmed {
		switch r {
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return schema.NewError(schema.ErrCodeValidation, "unbalanced braces: '}' without matching '{'")
			}
		}
	}
	if depth != 0 {
		return schema.NewError(schema.ErrCodeValidation, "unbalanced braces: unclosed '{'")
	}

	return nil
}

var _ Syntax = (*LocalSyntax)(nil)
