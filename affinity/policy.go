package affinity

// NamePolicy decides which affinity map names are acceptable.
type NamePolicy interface {
	Valid(name string) bool
}

// NamePolicyFunc adapts a function to NamePolicy.
type NamePolicyFunc func(name string) bool

func (f NamePolicyFunc) Valid(name string) bool { return f(name) }

var (
	// NamePolicyStrict accepts ASCII letters, digits, '_' and '-'.
	NamePolicyStrict NamePolicy = NamePolicyFunc(strictName)

	// NamePolicyLegacy reproduces the historical check, which accepts any
	// ASCII byte greater than '9' plus '-', and so rejects digits and most
	// punctuation while letting through bytes such as '[' or '~'.
	NamePolicyLegacy NamePolicy = NamePolicyFunc(legacyName)
)

// PolicyByName maps a configuration keyword to a policy.
func PolicyByName(name string) (NamePolicy, bool) {
	switch name {
	case "", "strict":
		return NamePolicyStrict, true
	case "legacy":
		return NamePolicyLegacy, true
	}
	return nil, false
}

func strictName(name string) bool {
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case 'a' <= c && c <= 'z':
		case 'A' <= c && c <= 'Z':
		case '0' <= c && c <= '9':
		case c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}

func legacyName(name string) bool {
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c > '9' && c < 0x80) || c == '-' {
			continue
		}
		return false
	}
	return true
}
