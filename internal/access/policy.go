package access

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/docflow/model"
)

type policyFile struct {
	Roles map[string][]string `yaml:"roles"`
}

// StaticPolicy resolves capabilities from a YAML file mapping roles to
// capability strings.
type StaticPolicy struct {
	path   string
	mu     sync.RWMutex
	policy policyFile
}

// NewStaticPolicy loads the policy file at path.
func NewStaticPolicy(path string) (*StaticPolicy, error) {
	p := &StaticPolicy{path: path}
	if err := p.Sync(); err != nil {
		return nil, err
	}
	return p, nil
}

// Capabilities returns the union of capabilities of every role in rctx.
func (p *StaticPolicy) Capabilities(rctx *model.RequestContext) CapabilitySet {
	p.mu.RLock()
	defer p.mu.RUnlock()

	caps := make(CapabilitySet)
	if rctx == nil {
		return caps
	}
	for _, role := range rctx.Roles {
		for _, c := range p.policy.Roles[role] {
			caps[c] = true
		}
	}
	return caps
}

// Sync reloads the policy file from disk.
func (p *StaticPolicy) Sync() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("access: reading policy file %s: %w", p.path, err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("access: parsing policy file %s: %w", p.path, err)
	}

	p.mu.Lock()
	p.policy = pf
	p.mu.Unlock()
	return nil
}
