package schema

import "strings"

// Normalize возвращает FQN ("module.Name") по паре {module, entity}.
// Если module пустой, ищет уникальную сущность с таким именем среди всех модулей.
func (s *Schema) Normalize(module, name string) (string, bool) {
	if strings.TrimSpace(name) == "" {
		return "", false
	}
	ml := strings.ToLower(strings.TrimSpace(module))
	nl := strings.ToLower(strings.TrimSpace(name))

	if ml != "" {
		if _, ok := s.entities[module+"."+name]; ok {
			return module + "." + name, true
		}
		for fqn, e := range s.entities {
			if strings.ToLower(e.Module) == ml && strings.ToLower(e.Name) == nl {
				return fqn, true
			}
		}
		return "", false
	}

	// модуля нет: имя должно быть уникальным
	var found string
	for fqn, e := range s.entities {
		if strings.ToLower(e.Name) != nl {
			continue
		}
		if found != "" {
			return "", false
		}
		found = fqn
	}
	return found, found != ""
}
