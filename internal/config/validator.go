package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/wesleyorama2/lunge-fleet/internal/users"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Fields returns the fields with errors, in the order they were found.
func (e *ValidationErrors) Fields() []string {
	fields := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		fields[i] = err.Field
	}
	return fields
}

// Validate validates the entire fleet file.
//
// Nodes are optional here since a fleet may be built locally instead; when
// present they must be reachable URLs with unique names and no more numerous
// than the virtual users.
//
// Returns nil if valid, or a *ValidationErrors containing all validation errors.
func (c *FleetConfig) Validate() error {
	errs := &ValidationErrors{}

	validateTarget(&c.Target, errs)
	validateLoad(&c.Load, errs)
	validateBehavior(&c.Behavior, errs)
	validateNodes(c.Nodes, c.Load.VirtualUsers, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateTarget(target *TargetConfig, errs *ValidationErrors) {
	if target.URL == "" {
		errs.Add("target.url", "is required")
		return
	}
	if err := validateHTTPURL(target.URL); err != nil {
		errs.Add("target.url", err.Error())
	}
	if strings.Contains(target.Username+target.Password, "{{") {
		errs.Add("target", "contains an unresolved {{placeholder}}")
	}
}

func validateLoad(load *LoadSection, errs *ValidationErrors) {
	if load.VirtualUsers <= 0 {
		errs.Add("load.virtualUsers", fmt.Sprintf("must be > 0, got %d", load.VirtualUsers))
	}
	if load.Hold < 0 {
		errs.Add("load.hold", "cannot be negative")
	}
	if load.Ramp < 0 {
		errs.Add("load.ramp", "cannot be negative")
	}
	if load.Flat < 0 {
		errs.Add("load.flat", "cannot be negative")
	}
	if load.Hold+load.Ramp+load.Flat <= 0 {
		errs.Add("load", "at least one of hold, ramp and flat must be > 0")
	}

	if rate := load.MaxOverallRate; rate != nil {
		if rate.Change <= 0 {
			errs.Add("load.maxOverallRate.change", fmt.Sprintf("must be > 0, got %g", rate.Change))
		}
		if rate.Per <= 0 {
			errs.Add("load.maxOverallRate.per", "must be > 0")
		}
	}
}

func validateBehavior(behavior *BehaviorConfig, errs *ValidationErrors) {
	if behavior.UserGenerator == "" {
		return
	}
	for _, name := range users.Names() {
		if strings.EqualFold(behavior.UserGenerator, name) {
			return
		}
	}
	errs.Add("behavior.userGenerator", fmt.Sprintf("unknown generator %q (valid: %s)",
		behavior.UserGenerator, strings.Join(users.Names(), ", ")))
}

func validateNodes(nodes []NodeConfig, virtualUsers int, errs *ValidationErrors) {
	seen := make(map[string]int)
	for i, node := range nodes {
		field := fmt.Sprintf("nodes[%d]", i)

		if node.URL == "" {
			errs.Add(field+".url", "is required")
		} else if err := validateHTTPURL(node.URL); err != nil {
			errs.Add(field+".url", err.Error())
		}
		if node.Timeout < 0 {
			errs.Add(field+".timeout", "cannot be negative")
		}

		if node.Name != "" {
			if first, ok := seen[node.Name]; ok {
				errs.Add(field+".name", fmt.Sprintf("duplicate name %q (also nodes[%d])", node.Name, first))
			} else {
				seen[node.Name] = i
			}
		}
	}

	if virtualUsers > 0 && len(nodes) > virtualUsers {
		errs.Add("nodes", fmt.Sprintf("%d virtual users are not enough to spread into %d nodes", virtualUsers, len(nodes)))
	}
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL must use http or https, got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host: %q", raw)
	}
	return nil
}
