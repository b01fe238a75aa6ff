package query

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Placeholders look like ##name## or ##name:type## where type is one of
// int, float or string. Untyped placeholders are treated as strings.
var placeholderPattern = regexp.MustCompile(`##([a-zA-Z_][a-zA-Z0-9_]*)(?::([a-zA-Z]+))?##`)

type Options struct {
	IncludeExecutionPlan bool
	CrossSite            bool
	ExcludeMetas         bool
}

type Parameter struct {
	Name  string
	Type  string
	Value string
}

// ParsedQuery is an immutable, parameter-bound query. ExecutionSQL carries the
// placeholder-substituted text that is sent to a site; Hash identifies the
// logical query content independent of extraneous request fields.
type ParsedQuery struct {
	SQL          string
	ExecutionSQL string
	Parameters   []Parameter
	Options      Options
	Hash         string
	ErrorMessage string
}

func (q ParsedQuery) IsExecutionReady() bool {
	return q.ErrorMessage == "" && strings.TrimSpace(q.SQL) != ""
}

// Parse binds named placeholders in sqlText to values from params. Extra
// entries in params that no placeholder references are ignored, so the content
// hash stays stable regardless of what else a request carried.
func Parse(sqlText string, params map[string]string, opts Options) ParsedQuery {
	normalized := normalizeSQL(sqlText)
	parsed := ParsedQuery{
		SQL:     normalized,
		Options: opts,
	}

	if normalized == "" {
		parsed.ErrorMessage = "sql is required"
		return parsed
	}

	bound := map[string]Parameter{}
	executionSQL := normalized
	for _, match := range placeholderPattern.FindAllStringSubmatch(normalized, -1) {
		name, typeName := match[1], match[2]
		if typeName == "" {
			typeName = "string"
		}

		value, ok := params[name]
		if !ok || strings.TrimSpace(value) == "" {
			parsed.ErrorMessage = fmt.Sprintf("missing value for parameter %q", name)
			return parsed
		}

		literal, err := bindLiteral(typeName, strings.TrimSpace(value))
		if err != nil {
			parsed.ErrorMessage = fmt.Sprintf("parameter %q: %s", name, err)
			return parsed
		}

		bound[name] = Parameter{Name: name, Type: typeName, Value: strings.TrimSpace(value)}
		executionSQL = strings.ReplaceAll(executionSQL, match[0], literal)
	}

	parsed.Parameters = sortedParameters(bound)
	parsed.ExecutionSQL = executionSQL
	parsed.Hash = contentHash(normalized, parsed.Parameters)
	return parsed
}

func normalizeSQL(sqlText string) string {
	normalized := strings.ReplaceAll(sqlText, "\r\n", "\n")
	normalized = strings.TrimSpace(normalized)
	for strings.HasSuffix(normalized, ";") {
		normalized = strings.TrimSpace(strings.TrimSuffix(normalized, ";"))
	}
	return normalized
}

func bindLiteral(typeName, value string) (string, error) {
	switch typeName {
	case "int":
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return "", fmt.Errorf("%q is not a valid int", value)
		}
		return strconv.FormatInt(parsed, 10), nil
	case "float":
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return "", fmt.Errorf("%q is not a valid float", value)
		}
		return strconv.FormatFloat(parsed, 'g', -1, 64), nil
	case "string":
		return "'" + strings.ReplaceAll(value, "'", "''") + "'", nil
	default:
		return "", fmt.Errorf("unsupported parameter type %q", typeName)
	}
}

func sortedParameters(bound map[string]Parameter) []Parameter {
	parameters := make([]Parameter, 0, len(bound))
	for _, parameter := range bound {
		parameters = append(parameters, parameter)
	}
	sort.Slice(parameters, func(i, j int) bool {
		return parameters[i].Name < parameters[j].Name
	})
	return parameters
}

func contentHash(normalizedSQL string, parameters []Parameter) string {
	hasher := sha256.New()
	hasher.Write([]byte(normalizedSQL))
	for _, parameter := range parameters {
		hasher.Write([]byte("\n"))
		hasher.Write([]byte(parameter.Name))
		hasher.Write([]byte("="))
		hasher.Write([]byte(parameter.Value))
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
