package rule

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"comment-moderation/internal/logger"
)

// RulesLoader handles loading rules from the filesystem
type RulesLoader struct {
	logger *logger.Logger
	codec  *Codec
}

// NewRulesLoader creates a new rules loader. A nil codec selects the
// default one.
func NewRulesLoader(log *logger.Logger, codec *Codec) *RulesLoader {
	if codec == nil {
		codec = defaultCodec
	}
	return &RulesLoader{
		logger: log,
		codec:  codec,
	}
}

// LoadFromDirectory loads all rules from a directory and its subdirectories.
// Files are read in lexical order.
func (l *RulesLoader) LoadFromDirectory(path string) ([]Rule, error) {
	var rules []Rule

	err := filepath.Walk(path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() || !isRuleFile(path) {
			return nil
		}

		ruleSet, err := l.LoadFile(path)
		if err != nil {
			return err
		}

		rules = append(rules, ruleSet...)
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	l.logger.Info("rules loaded successfully",
		"totalRules", len(rules))

	return rules, nil
}

// LoadFile reads one JSON or YAML file holding an array of rule documents.
func (l *RulesLoader) LoadFile(path string) ([]Rule, error) {
	l.logger.Debug("loading rule file", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		l.logger.Error("failed to read rule file",
			"path", path,
			"error", err)
		return nil, err
	}

	rules, err := l.Parse(data, filepath.Ext(path))
	if err != nil {
		l.logger.Error("failed to parse rule file",
			"path", path,
			"error", err)
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	l.logger.Debug("successfully loaded rules",
		"path", path,
		"count", len(rules))

	return rules, nil
}

// Parse decodes an array of rule documents. ext selects the format
// (".json", ".yaml" or ".yml").
func (l *RulesLoader) Parse(data []byte, ext string) ([]Rule, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse yaml: %w", err)
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to convert yaml: %w", err)
		}
		data = converted
	case ".json":
	default:
		return nil, fmt.Errorf("unsupported rule file extension: %q", ext)
	}

	var docs []json.RawMessage
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("rule file must hold an array of rules: %w", err)
	}

	rules := make([]Rule, 0, len(docs))
	for i, raw := range docs {
		var r Rule
		if err := r.unmarshal(raw, l.codec); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, r)
	}

	return rules, nil
}

func isRuleFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}
