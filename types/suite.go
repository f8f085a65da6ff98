package types

import "time"

// Case is one test unit: an executable artifact plus arguments, optionally
// soft-failing, with an optional timeout override and injection destination.
type Case struct {
	Name         string          `yaml:"name" json:"name"`
	Description  string          `yaml:"description,omitempty" json:"description,omitempty"`
	Path         string          `yaml:"path" json:"path"`
	Args         []string        `yaml:"args,omitempty" json:"args,omitempty"`
	Timeout      time.Duration   `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	AllowFailure bool            `yaml:"allow_failure,omitempty" json:"allow_failure,omitempty"`
	Destination  string          `yaml:"destination,omitempty" json:"destination,omitempty"`
	Protocol     VerdictProtocol `yaml:"protocol,omitempty" json:"protocol,omitempty"`
}

// EffectiveTimeout returns the case timeout if set, otherwise the suite default.
func (c Case) EffectiveTimeout(suiteDefault time.Duration) time.Duration {
	if c.Timeout != 0 {
		return c.Timeout
	}
	return suiteDefault
}

// Suite is a named, ordered collection of cases sharing a default timeout.
// Suites are immutable once loaded; declaration order is execution order.
type Suite struct {
	ID             string        `yaml:"id" json:"id"`
	Description    string        `yaml:"description,omitempty" json:"description,omitempty"`
	DefaultTimeout time.Duration `yaml:"default_timeout,omitempty" json:"default_timeout,omitempty"`
	Cases          []Case        `yaml:"cases" json:"cases"`
}

// Case returns the case with the given name, if present.
func (s *Suite) Case(name string) (Case, bool) {
	for _, c := range s.Cases {
		if c.Name == name {
			return c, true
		}
	}
	return Case{}, false
}
