package alert

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	errUnknownVariable = errors.New("template references unknown variable")
	errMalformed       = errors.New("malformed template")
)

// Vars are the substitution values available to message templates.
type Vars struct {
	TagName    string
	Value      float64
	Threshold  float64
	Operator   string
	DeviceName string
}

func (v Vars) lookup(name string) (any, bool) {
	switch name {
	case "tag_name":
		return v.TagName, true
	case "value":
		return v.Value, true
	case "threshold":
		return v.Threshold, true
	case "operator":
		return v.Operator, true
	case "device_name":
		return v.DeviceName, true
	default:
		return nil, false
	}
}

// FormatMessage renders tmpl with vars and prepends prefix. If the template
// cannot be rendered it falls back to "Alert: <tag_name> = <value>"; the
// returned error says why, the message is usable either way.
func FormatMessage(tmpl string, vars Vars, prefix string) (string, error) {
	body, err := render(tmpl, vars)
	if err != nil {
		body = fmt.Sprintf("Alert: %s = %s", orDefault(vars.TagName, "Unknown"), FormatNumber(vars.Value))
	}
	return strings.TrimSpace(prefix + " " + body), err
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// render substitutes {name} and {name:.Nf} placeholders. "{{" and "}}"
// produce literal braces.
func render(tmpl string, vars Vars) (string, error) {
	var b strings.Builder
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch c {
		case '{':
			if i+1 < len(tmpl) && tmpl[i+1] == '{' {
				b.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return "", fmt.Errorf("%w: unclosed '{' at offset %d", errMalformed, i)
			}
			field := tmpl[i+1 : i+1+end]
			out, err := substitute(field, vars)
			if err != nil {
				return "", err
			}
			b.WriteString(out)
			i += end + 1
		case '}':
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				b.WriteByte('}')
				i++
				continue
			}
			return "", fmt.Errorf("%w: single '}' at offset %d", errMalformed, i)
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

func substitute(field string, vars Vars) (string, error) {
	name, spec, hasSpec := strings.Cut(field, ":")
	if strings.ContainsRune(name, '{') {
		return "", fmt.Errorf("%w: nested '{' in %q", errMalformed, field)
	}
	val, ok := vars.lookup(name)
	if !ok {
		return "", fmt.Errorf("%w %q", errUnknownVariable, name)
	}
	if !hasSpec || spec == "" {
		switch v := val.(type) {
		case float64:
			return FormatNumber(v), nil
		default:
			return fmt.Sprint(v), nil
		}
	}
	f, isNum := val.(float64)
	if !isNum {
		return "", fmt.Errorf("%w: format spec %q on non-numeric %q", errMalformed, spec, name)
	}
	return formatFixed(f, spec)
}

// formatFixed supports the ".Nf" precision spec.
func formatFixed(f float64, spec string) (string, error) {
	if len(spec) < 3 || spec[0] != '.' || spec[len(spec)-1] != 'f' {
		return "", fmt.Errorf("%w: unsupported format spec %q", errMalformed, spec)
	}
	prec, err := strconv.Atoi(spec[1 : len(spec)-1])
	if err != nil || prec < 0 || prec > 17 {
		return "", fmt.Errorf("%w: unsupported format spec %q", errMalformed, spec)
	}
	return strconv.FormatFloat(f, 'f', prec, 64), nil
}
