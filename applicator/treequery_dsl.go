package applicator

import (
	"fmt"
	"strings"

	"patchctl.dev/locator"
)

// parseTreeQueryPattern decodes a TreeQuery patch's Pattern field into a
// StructuralTarget. The original's tree-query locator only recognized
// patterns containing "fn " (a thin function-name sniff); this port
// generalizes it to the full StructuralTarget enum (§4.4, §9's resolved
// open question) via a small prefixed mini-syntax, since the config schema
// carries TreeQuery targets as one string field rather than a structured
// sub-message:
//
//	fn:NAME            function by name
//	method:TYPE.NAME    method NAME on impl TYPE
//	struct:NAME         struct by name
//	enum:NAME           enum by name
//	const:NAME          const by exact name
//	const~REGEX         const by name regex
//	static:NAME         static by name
//	impl:TYPE           inherent impl of TYPE
//	impl:TRAIT@TYPE     impl of TRAIT for TYPE
//	use~REGEX           use declaration matching path regex
func parseTreeQueryPattern(pattern string) (locator.StructuralTarget, error) {
	switch {
	case strings.HasPrefix(pattern, "fn:"):
		return locator.StructuralTarget{Kind: locator.TargetFunction, Name: strings.TrimPrefix(pattern, "fn:")}, nil

	case strings.HasPrefix(pattern, "method:"):
		rest := strings.TrimPrefix(pattern, "method:")
		typeName, method, ok := strings.Cut(rest, ".")
		if !ok {
			return locator.StructuralTarget{}, fmt.Errorf("applicator: method pattern %q missing TYPE.METHOD", pattern)
		}
		return locator.StructuralTarget{Kind: locator.TargetMethod, Name: typeName, MethodName: method}, nil

	case strings.HasPrefix(pattern, "struct:"):
		return locator.StructuralTarget{Kind: locator.TargetStruct, Name: strings.TrimPrefix(pattern, "struct:")}, nil

	case strings.HasPrefix(pattern, "enum:"):
		return locator.StructuralTarget{Kind: locator.TargetEnum, Name: strings.TrimPrefix(pattern, "enum:")}, nil

	case strings.HasPrefix(pattern, "const~"):
		return locator.StructuralTarget{Kind: locator.TargetConstMatching, Pattern: strings.TrimPrefix(pattern, "const~")}, nil

	case strings.HasPrefix(pattern, "const:"):
		return locator.StructuralTarget{Kind: locator.TargetConst, Name: strings.TrimPrefix(pattern, "const:")}, nil

	case strings.HasPrefix(pattern, "static:"):
		return locator.StructuralTarget{Kind: locator.TargetStatic, Name: strings.TrimPrefix(pattern, "static:")}, nil

	case strings.HasPrefix(pattern, "impl:"):
		rest := strings.TrimPrefix(pattern, "impl:")
		if traitName, typeName, ok := strings.Cut(rest, "@"); ok {
			return locator.StructuralTarget{Kind: locator.TargetImplTrait, TraitName: traitName, Name: typeName}, nil
		}
		return locator.StructuralTarget{Kind: locator.TargetImpl, Name: rest}, nil

	case strings.HasPrefix(pattern, "use~"):
		return locator.StructuralTarget{Kind: locator.TargetUse, Pattern: strings.TrimPrefix(pattern, "use~")}, nil

	default:
		return locator.StructuralTarget{}, fmt.Errorf("applicator: unrecognized tree-query pattern %q", pattern)
	}
}
