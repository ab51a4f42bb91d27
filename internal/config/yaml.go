package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// LoadYAML decodes the file located at path into the provided destination structure.
func LoadYAML(path string, dest any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	return nil
}

// ApplyFile loads the YAML file at path into o, then re-applies every flag
// explicitly set in fs so the command line keeps precedence over the file.
// The flags in fs must be bound to o's fields.
func ApplyFile(fs *pflag.FlagSet, path string, o *Options) error {
	if path == "" {
		return nil
	}

	type setFlag struct{ name, value string }
	var changed []setFlag
	fs.Visit(func(f *pflag.Flag) {
		changed = append(changed, setFlag{name: f.Name, value: f.Value.String()})
	})

	if err := LoadYAML(path, o); err != nil {
		return err
	}

	for _, f := range changed {
		if err := fs.Set(f.name, f.value); err != nil {
			return fmt.Errorf("reapply --%s: %w", f.name, err)
		}
	}
	return nil
}
