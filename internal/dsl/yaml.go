package dsl

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// yamlFile: альтернативный формат схемы:
//
//	module: library
//	entities:
//	  - name: Book
//	    fields:
//	      - {name: title, type: string, options: {required: true, fillable: true}}
//	      - {name: author, type: "ref[Author]", options: {fillable: true}}
//	    unique: [[title, author_id]]
type yamlFile struct {
	Module   string       `yaml:"module"`
	Entities []yamlEntity `yaml:"entities"`
}

type yamlEntity struct {
	Name   string      `yaml:"name"`
	Module string      `yaml:"module"`
	Table  string      `yaml:"table"`
	Fields []yamlField `yaml:"fields"`
	Unique [][]string  `yaml:"unique"`
}

type yamlField struct {
	Name    string         `yaml:"name"`
	Type    string         `yaml:"type"`
	Options map[string]any `yaml:"options"`
}

func LoadYAML(path string) ([]*Entity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseYAML(f)
}

func ParseYAML(r io.Reader) ([]*Entity, error) {
	var doc yamlFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}

	out := make([]*Entity, 0, len(doc.Entities))
	for _, ye := range doc.Entities {
		e := &Entity{
			Module: ye.Module,
			Name:   strings.TrimSpace(ye.Name),
			Table:  strings.TrimSpace(ye.Table),
		}
		if e.Module == "" {
			e.Module = doc.Module
		}
		for _, yf := range ye.Fields {
			f := Field{Name: strings.TrimSpace(yf.Name), Options: map[string]string{}}
			if f.Name == "" {
				return nil, fmt.Errorf("entity %q: field without name", e.Name)
			}
			if err := parseType(&f, yf.Type); err != nil {
				return nil, fmt.Errorf("entity %q: %w", e.Name, err)
			}
			for k, v := range yf.Options {
				f.Options[strings.ToLower(k)] = fmt.Sprint(v)
			}
			e.Fields = append(e.Fields, f)
		}
		for _, set := range ye.Unique {
			if len(set) > 0 {
				e.Constraints.Unique = append(e.Constraints.Unique, append([]string(nil), set...))
			}
		}
		out = append(out, e)
	}
	return out, nil
}
