package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	id "assent/pkg/domain"
	dErrors "assent/pkg/domain-errors"
)

// policyFile is the on-disk shape of a policy bundle.
type policyFile struct {
	Policies []policyDoc `yaml:"policies"`
}

type policyDoc struct {
	ID                   string         `yaml:"id"`
	RequiredRoles        map[string]int `yaml:"required_roles"`
	TTL                  string         `yaml:"ttl"`
	OnTimeout            string         `yaml:"on_timeout"`
	VetoOnAnyReject      *bool          `yaml:"veto_on_any_reject"`
	AmendResetsApprovals *bool          `yaml:"amend_resets_approvals"`
}

// LoadFile reads a YAML policy bundle and registers every policy it contains.
// Omitted veto_on_any_reject and amend_resets_approvals default to true.
func LoadFile(path string, registry *MemoryRegistry) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	return Load(raw, registry)
}

// Load parses a YAML policy bundle and registers its policies.
func Load(raw []byte, registry *MemoryRegistry) error {
	var file policyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "parse policy file")
	}
	if len(file.Policies) == 0 {
		return dErrors.New(dErrors.CodeValidation, "policy file declares no policies")
	}

	for i, doc := range file.Policies {
		policyID, err := id.ParsePolicyID(doc.ID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("policy %d", i))
		}

		ttl, err := time.ParseDuration(doc.TTL)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeValidation,
				fmt.Sprintf("policy %q: invalid ttl %q", doc.ID, doc.TTL))
		}

		p := QuorumPolicy{
			ID:                   policyID,
			RequiredRoles:        doc.RequiredRoles,
			TTL:                  ttl,
			OnTimeout:            OnTimeout(doc.OnTimeout),
			VetoOnAnyReject:      boolOr(doc.VetoOnAnyReject, true),
			AmendResetsApprovals: boolOr(doc.AmendResetsApprovals, true),
		}
		if p.OnTimeout == "" {
			p.OnTimeout = TimeoutEscalate
		}
		if _, err := registry.Register(p); err != nil {
			return fmt.Errorf("register policy %q: %w", doc.ID, err)
		}
	}
	return nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
