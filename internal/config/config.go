package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/danmuck/gclink/internal/protocol/schema"
	"github.com/pelletier/go-toml/v2"
)

// GameTableConfig is the file form of one game's kind table.
type GameTableConfig struct {
	Name       string                `toml:"name"`
	AppID      uint32                `toml:"app_id"`
	ItemTypeID uint32                `toml:"item_type_id"`
	Tags       map[string]uint32     `toml:"tags"`
	Records    []string              `toml:"records"`
	Attributes schema.AttributeTable `toml:"attributes"`
}

// LoadGameTable reads and validates a kind table file.
func LoadGameTable(path string) (schema.Table, error) {
	var cfg GameTableConfig
	if err := loadToml(path, &cfg); err != nil {
		return schema.Table{}, err
	}
	if cfg.ItemTypeID == 0 {
		cfg.ItemTypeID = 1
	}
	if err := ValidateGameTable(cfg); err != nil {
		return schema.Table{}, fmt.Errorf("table %s invalid: %w", path, err)
	}
	return cfg.Table()
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

// Table converts the file form into a schema table and validates the result.
func (c GameTableConfig) Table() (schema.Table, error) {
	t := schema.Table{
		Name:       strings.TrimSpace(c.Name),
		AppID:      c.AppID,
		ItemTypeID: c.ItemTypeID,
		Tags:       make(map[schema.Kind]uint32, len(c.Tags)),
		Records:    make(map[schema.Kind]bool, len(c.Records)),
		Attributes: c.Attributes,
	}
	for name, tag := range c.Tags {
		kind, ok := schema.ParseKind(strings.TrimSpace(name))
		if !ok {
			return schema.Table{}, fmt.Errorf("unknown kind %q", name)
		}
		t.Tags[kind] = tag
	}
	for _, name := range c.Records {
		kind, ok := schema.ParseKind(strings.TrimSpace(name))
		if !ok {
			return schema.Table{}, fmt.Errorf("unknown record kind %q", name)
		}
		t.Records[kind] = true
	}
	if err := t.Validate(); err != nil {
		return schema.Table{}, err
	}
	return t, nil
}

func ValidateGameTable(cfg GameTableConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("table missing name")
	}
	if cfg.AppID == 0 {
		return fmt.Errorf("table missing app_id")
	}
	if len(cfg.Tags) == 0 {
		return fmt.Errorf("table has no tags")
	}
	names := make([]string, 0, len(cfg.Tags))
	for name := range cfg.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := schema.ParseKind(strings.TrimSpace(name)); !ok {
			return fmt.Errorf("tags: unknown kind %q", name)
		}
	}
	for i, name := range cfg.Records {
		if _, ok := cfg.Tags[strings.TrimSpace(name)]; !ok {
			return fmt.Errorf("records[%d]: kind %q has no tag", i, name)
		}
	}
	_, err := cfg.Table()
	return err
}
