package auth

import (
	"context"

	"github.com/rotiride/orderd/internal/config"
)

// RoleDirectory resolves a user's role. Sessions never carry a trusted
// role, so every resolved identity goes through the directory.
type RoleDirectory interface {
	RoleFor(ctx context.Context, userID string) (Role, error)
}

// StaticRoleDirectory grants elevated roles to configured user ids and
// resolves everyone else to the customer role.
type StaticRoleDirectory struct {
	admins         map[string]struct{}
	deliveryAgents map[string]struct{}
}

// NewStaticRoleDirectory builds a directory from configuration.
func NewStaticRoleDirectory(cfg *config.RolesConfig) *StaticRoleDirectory {
	d := &StaticRoleDirectory{
		admins:         make(map[string]struct{}, len(cfg.Admins)),
		deliveryAgents: make(map[string]struct{}, len(cfg.DeliveryAgents)),
	}
	for _, id := range cfg.Admins {
		d.admins[id] = struct{}{}
	}
	for _, id := range cfg.DeliveryAgents {
		d.deliveryAgents[id] = struct{}{}
	}
	return d
}

// RoleFor returns the configured role for the user id.
func (d *StaticRoleDirectory) RoleFor(_ context.Context, userID string) (Role, error) {
	if _, ok := d.admins[userID]; ok {
		return RoleAdmin, nil
	}
	if _, ok := d.deliveryAgents[userID]; ok {
		return RoleDeliveryAgent, nil
	}
	return RoleCustomer, nil
}
