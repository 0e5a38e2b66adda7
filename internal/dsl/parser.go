package dsl

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	entityRe           = regexp.MustCompile(`^entity\s+(\w+)(?:\s+table=([A-Za-z0-9_]+))?\s*:$`)
	fieldRe            = regexp.MustCompile(`^\s*([\w_]+):\s*([^\s#]+)(.*)$`)
	enumRe             = regexp.MustCompile(`^enum\[(.*)\]$`)
	refRe              = regexp.MustCompile(`^ref\[([A-Za-z0-9_.]+)\]$`)
	hasManyRe          = regexp.MustCompile(`^has_many\[([A-Za-z0-9_.]+)\]$`)
	moduleRe           = regexp.MustCompile(`^\s*module\s+([A-Za-z0-9_.-]+)\s*$`)
	reConstraintsStart = regexp.MustCompile(`^\s*constraints\s*:\s*$`)
	reUniqueLine       = regexp.MustCompile(`^\s*unique\s*\(\s*([^)]+)\s*\)\s*$`)
)

var primitiveTypes = map[string]struct{}{
	TypeString: {}, TypeInt: {}, TypeFloat: {}, TypeMoney: {},
	TypeBool: {}, TypeDate: {}, TypeDatetime: {},
}

// parse: options tokenizer: делит "k=v k2='v 2' pattern=^[A-Z0-9 _-]+$" на токены, не рвёт по пробелам внутри кавычек/скобок
func splitOptionTokens(s string) []string {
	var out []string
	var buf []rune
	inSingle, inDouble := false, false
	bracketDepth := 0 // внутри [ ... ] у регэкспа

	flush := func() {
		if len(buf) > 0 {
			out = append(out, string(buf))
			buf = buf[:0]
		}
	}

	for _, r := range s {
		switch r {
		case '\'':
			if !inDouble && bracketDepth == 0 {
				inSingle = !inSingle
			}
			buf = append(buf, r)
		case '"':
			if !inSingle && bracketDepth == 0 {
				inDouble = !inDouble
			}
			buf = append(buf, r)
		case '[':
			if !inSingle && !inDouble {
				bracketDepth++
			}
			buf = append(buf, r)
		case ']':
			if !inSingle && !inDouble && bracketDepth > 0 {
				bracketDepth--
			}
			buf = append(buf, r)
		default:
			if (r == ' ' || r == '\t') && !inSingle && !inDouble && bracketDepth == 0 {
				flush()
				continue
			}
			buf = append(buf, r)
		}
	}
	flush()
	return out
}

// parseType разбирает тип поля ("enum[a,b]", "ref[core.User]", "has_many[Book]", примитивы) в f.
func parseType(f *Field, rawType string) error {
	rawType = strings.TrimSpace(rawType)
	if mm := enumRe.FindStringSubmatch(rawType); mm != nil {
		f.Type = TypeEnum
		for _, p := range strings.Split(mm[1], ",") {
			s := strings.Trim(strings.TrimSpace(p), `"'`)
			if s != "" {
				f.Enum = append(f.Enum, s)
			}
		}
		if len(f.Enum) == 0 {
			return fmt.Errorf("field %q: empty enum", f.Name)
		}
		return nil
	}
	if mm := refRe.FindStringSubmatch(rawType); mm != nil {
		f.Type = TypeRef
		f.RefTarget = strings.TrimSpace(mm[1])
		return nil
	}
	if mm := hasManyRe.FindStringSubmatch(rawType); mm != nil {
		f.Type = TypeHasMany
		f.RefTarget = strings.TrimSpace(mm[1])
		return nil
	}
	t := strings.ToLower(rawType)
	if _, ok := primitiveTypes[t]; !ok {
		return fmt.Errorf("field %q: unknown type %q", f.Name, rawType)
	}
	f.Type = t
	return nil
}

// parseOptions: "required unique default='x' fk=author_id" → map
func parseOptions(raw string) map[string]string {
	opts := map[string]string{}
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		raw = strings.TrimSpace(raw[:i])
	}
	if strings.HasPrefix(strings.ToLower(raw), "options:") {
		raw = strings.TrimSpace(raw[len("options:"):])
	}
	raw = strings.ReplaceAll(raw, ",", " ")

	for _, tok := range splitOptionTokens(raw) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		// флаг без значения → "true"
		if !strings.Contains(tok, "=") {
			opts[strings.ToLower(tok)] = "true"
			continue
		}
		kv := strings.SplitN(tok, "=", 2)
		k := strings.ToLower(strings.TrimSpace(kv[0]))
		v := unquote(strings.TrimSpace(kv[1]))
		if k != "" {
			opts[k] = v
		}
	}
	return opts
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// LoadEntities читает *.dsl и возвращает список Entity
func LoadEntities(path string) ([]*Entity, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ParseEntities(file)
}

// ParseEntities разбирает DSL из r.
func ParseEntities(r io.Reader) ([]*Entity, error) {
	var entities []*Entity
	var current *Entity
	currentModule := ""
	inConstraints := false
	lineNo := 0

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if m := moduleRe.FindStringSubmatch(line); m != nil {
			currentModule = m[1]
			inConstraints = false
			continue
		}

		// entity <Name> [table=...]:
		if m := entityRe.FindStringSubmatch(line); m != nil {
			if current != nil {
				entities = append(entities, current)
			}
			current = &Entity{Name: m[1], Table: m[2], Module: currentModule}
			inConstraints = false
			continue
		}
		if current == nil {
			// игнорируем всё вне сущности
			continue
		}

		// ----- БЛОК CONSTRAINTS -----
		if reConstraintsStart.MatchString(line) {
			inConstraints = true
			continue
		}
		if inConstraints {
			if m := reUniqueLine.FindStringSubmatch(line); m != nil {
				var set []string
				for _, p := range strings.Split(m[1], ",") {
					if p = strings.TrimSpace(p); p != "" {
						set = append(set, p)
					}
				}
				if len(set) > 0 {
					current.Constraints.Unique = append(current.Constraints.Unique, set)
				}
				continue
			}
			// любая другая строка: выходим из блока constraints
			inConstraints = false
		}

		m := fieldRe.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("line %d: cannot parse %q", lineNo, line)
		}
		name, rawType, tail := m[1], m[2], m[3]

		// склейка оборванных типов со скобками: enum[a, b]
		if strings.Contains(rawType, "[") && !strings.Contains(rawType, "]") {
			if idx := strings.Index(tail, "]"); idx >= 0 {
				rawType += tail[:idx+1]
				tail = tail[idx+1:]
			}
		}

		f := Field{Name: name}
		if err := parseType(&f, rawType); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		f.Options = parseOptions(tail)
		current.Fields = append(current.Fields, f)
	}

	if current != nil {
		entities = append(entities, current)
	}
	return entities, scanner.Err()
}

// LoadAllEntities обходит root и читает *.dsl, *.yaml, *.yml
func LoadAllEntities(root string) (map[string]*Entity, error) {
	result := make(map[string]*Entity)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !isSchemaFile(d.Name()) {
			return nil
		}

		var ents []*Entity
		var err error
		if strings.EqualFold(filepath.Ext(d.Name()), ".dsl") {
			ents, err = LoadEntities(path)
		} else {
			ents, err = LoadYAML(path)
		}
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		for _, e := range ents {
			if e == nil || e.Name == "" {
				return fmt.Errorf("empty entity name in %s", path)
			}
			if e.Module == "" {
				return fmt.Errorf("entity %q in %s has no module, add `module <name>` at the top", e.Name, path)
			}
			fqn := e.FQN()
			if _, exists := result[fqn]; exists {
				return fmt.Errorf("duplicate entity %q in module %q (file: %s)", e.Name, e.Module, path)
			}
			result[fqn] = e
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func isSchemaFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".dsl", ".yaml", ".yml":
		return true
	}
	return false
}
