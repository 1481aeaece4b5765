package comms

import (
	"context"
	"fmt"

	"pkt.systems/vela/core"
	"pkt.systems/vela/schema"
)

// grantKey identifies one directional capability grant. A grant from A to B
// never implies the reverse direction.
type grantKey struct {
	from       schema.TabID
	to         schema.TabID
	capability schema.Capability
}

// GrantPermission allows from to exercise the capability toward to. Both
// tabs must be live. Granting an already held permission refreshes its
// timestamp.
func (l *Layer) GrantPermission(ctx context.Context, from, to schema.TabID, capability schema.Capability) error {
	normalized, err := schema.NormalizeCapability(capability)
	if err != nil {
		return err
	}
	if !l.registry.TabExists(from) {
		return fmt.Errorf("granter %s: %w", from, schema.ErrTabNotFound)
	}
	if !l.registry.TabExists(to) {
		return fmt.Errorf("grantee %s: %w", to, schema.ErrTabNotFound)
	}
	if from == to {
		return fmt.Errorf("%w: a tab cannot grant to itself", schema.ErrInvalidRequest)
	}
	l.mu.Lock()
	l.grants[grantKey{from: from, to: to, capability: normalized}] = l.now()
	l.mu.Unlock()
	l.log.Info("permission granted", "from", from, "to", to, "capability", normalized)
	return nil
}

// RevokePermission withdraws a grant. Revoking an absent grant is a no-op.
func (l *Layer) RevokePermission(ctx context.Context, from, to schema.TabID, capability schema.Capability) error {
	normalized, err := schema.NormalizeCapability(capability)
	if err != nil {
		return err
	}
	l.mu.Lock()
	delete(l.grants, grantKey{from: from, to: to, capability: normalized})
	l.mu.Unlock()
	l.log.Info("permission revoked", "from", from, "to", to, "capability", normalized)
	return nil
}

// CheckPermission reports whether `from` may exercise the capability toward
// `to`. Default deny: without an explicit grant the answer is false. In
// strict mode the security framework must also approve.
func (l *Layer) CheckPermission(ctx context.Context, from, to schema.TabID, capability schema.Capability) bool {
	normalized, err := schema.NormalizeCapability(capability)
	if err != nil {
		return false
	}
	l.mu.Lock()
	_, granted := l.grants[grantKey{from: from, to: to, capability: normalized}]
	l.mu.Unlock()
	if !granted {
		return false
	}
	if l.cfg.StrictPermissions && l.security != nil {
		return l.security.ValidatePermission(ctx, core.PermissionContext{
			From:       from,
			To:         to,
			Capability: normalized,
		})
	}
	return true
}
