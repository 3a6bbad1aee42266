package classify

import (
	"github.com/sells-group/query-router/internal/config"
	"github.com/sells-group/query-router/internal/llm"
	"github.com/sells-group/query-router/internal/resilience"
)

// NewFromConfig builds a classifier using the router model and either the
// rules file at classify.rules_path or the built-in rules.
func NewFromConfig(cfg *config.Config) (*Classifier, error) {
	rules := DefaultRules()
	if cfg.Classify.RulesPath != "" {
		r, err := LoadRules(cfg.Classify.RulesPath)
		if err != nil {
			return nil, err
		}
		rules = r
	}

	var completer llm.Completer
	if !cfg.Classify.NoModel {
		completer = llm.FromConfig(cfg, llm.RoleRouter)
	}
	return New(completer, rules, resilience.FromConfig(cfg)), nil
}
