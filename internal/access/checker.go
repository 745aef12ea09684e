// Package access answers whether a user may read a document. The workflow
// engine consults it before exposing a document's transitions.
package access

import (
	"context"
	"sync"
	"time"

	"github.com/pitabwire/docflow/model"
)

// Checker is the read-access permission port.
type Checker interface {
	HasReadAccess(ctx context.Context, doc *model.Document, rctx *model.RequestContext) (bool, error)
}

// AllowAll grants read access to everyone.
type AllowAll struct{}

// HasReadAccess always returns true.
func (AllowAll) HasReadAccess(context.Context, *model.Document, *model.RequestContext) (bool, error) {
	return true, nil
}

type cacheEntry struct {
	caps    CapabilitySet
	expires time.Time
}

// PolicyChecker grants read access to the document owner, the administrator
// and any user whose roles carry "<doctype>:read". Resolved capability sets
// are cached per subject for ttl.
type PolicyChecker struct {
	policy        *StaticPolicy
	administrator string
	ttl           time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewPolicyChecker creates a PolicyChecker.
func NewPolicyChecker(policy *StaticPolicy, administrator string, ttl time.Duration) *PolicyChecker {
	if administrator == "" {
		administrator = model.DefaultAdministrator
	}
	return &PolicyChecker{
		policy:        policy,
		administrator: administrator,
		ttl:           ttl,
		cache:         make(map[string]cacheEntry),
	}
}

// HasReadAccess implements Checker.
func (c *PolicyChecker) HasReadAccess(_ context.Context, doc *model.Document, rctx *model.RequestContext) (bool, error) {
	user := rctx.User()
	if user == "" {
		return false, nil
	}
	if user == c.administrator || user == doc.Owner {
		return true, nil
	}
	return c.capabilities(rctx).Has(ReadCapability(doc.Doctype)), nil
}

func cacheKey(rctx *model.RequestContext) string {
	return rctx.SubjectID + ":" + rctx.TenantID
}

func (c *PolicyChecker) capabilities(rctx *model.RequestContext) CapabilitySet {
	key := cacheKey(rctx)

	c.mu.RLock()
	if entry, ok := c.cache[key]; ok && time.Now().Before(entry.expires) {
		c.mu.RUnlock()
		return entry.caps
	}
	c.mu.RUnlock()

	caps := c.policy.Capabilities(rctx)

	if c.ttl > 0 {
		c.mu.Lock()
		c.cache[key] = cacheEntry{caps: caps, expires: time.Now().Add(c.ttl)}
		c.mu.Unlock()
	}
	return caps
}

// Invalidate clears the cached capabilities of a subject in a tenant.
func (c *PolicyChecker) Invalidate(subjectID, tenantID string) {
	c.mu.Lock()
	delete(c.cache, subjectID+":"+tenantID)
	c.mu.Unlock()
}
