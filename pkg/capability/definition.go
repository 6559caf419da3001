package capability

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition is a parsed agent definition file: a YAML frontmatter header
// followed by the free-text behavior template.
type Definition struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Capabilities []string `yaml:"capabilities"`
	Template     string   `yaml:"-"`
}

const frontmatterDelimiter = "---"

// ParseDefinition parses one definition document
func ParseDefinition(data []byte) (*Definition, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")

	if !strings.HasPrefix(text, frontmatterDelimiter+"\n") {
		return nil, fmt.Errorf("%w: definition missing frontmatter header", ErrInvalid)
	}

	rest := text[len(frontmatterDelimiter)+1:]
	end := strings.Index(rest, "\n"+frontmatterDelimiter)
	if end < 0 {
		return nil, fmt.Errorf("%w: unterminated frontmatter header", ErrInvalid)
	}

	header := rest[:end]
	body := rest[end+len(frontmatterDelimiter)+1:]
	body = strings.TrimPrefix(body, "\n")

	var def Definition
	if err := yaml.Unmarshal([]byte(header), &def); err != nil {
		return nil, fmt.Errorf("%w: bad frontmatter: %v", ErrInvalid, err)
	}

	if def.Name == "" {
		return nil, fmt.Errorf("%w: definition missing name", ErrInvalid)
	}

	def.Template = strings.TrimSpace(body)
	if def.Template == "" {
		return nil, fmt.Errorf("%w: definition %q has an empty behavior template", ErrInvalid, def.Name)
	}

	return &def, nil
}

// Agent builds the registrable agent for a definition
func (d *Definition) Agent() *Agent {
	return &Agent{
		Name:         d.Name,
		Description:  d.Description,
		Capabilities: append([]string(nil), d.Capabilities...),
		Template:     d.Template,
	}
}

// LoadDirectory parses every .md definition under dir and registers the
// resulting agents. Malformed files are skipped with a warning so one bad
// definition cannot take the environment down.
func (r *Registry) LoadDirectory(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read definitions directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".md") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warn().Str("file", entry.Name()).Err(err).Msg("Failed to read definition")
			continue
		}

		def, err := ParseDefinition(data)
		if err != nil {
			r.logger.Warn().Str("file", entry.Name()).Err(err).Msg("Skipping malformed definition")
			continue
		}

		if err := r.Register(def.Agent()); err != nil {
			r.logger.Warn().Str("file", entry.Name()).Err(err).Msg("Failed to register definition")
			continue
		}

		loaded++
	}

	r.logger.Info().Str("dir", dir).Int("agents", loaded).Msg("Definitions loaded")

	return loaded, nil
}
