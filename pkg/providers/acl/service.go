package acl

import (
	"context"
	"sync"

	"github.com/tphan267/pulse-relay/pkg/models"
	"github.com/tphan267/pulse-relay/pkg/providers"
)

// Service implements role based access control
type Service struct {
	permissions map[string][]providers.Permission // role -> permissions
	mu          sync.RWMutex
}

// NewService creates a new ACL service
func NewService() *Service {
	return &Service{
		permissions: make(map[string][]providers.Permission),
	}
}

// Name returns the service name
func (s *Service) Name() string {
	return "acl"
}

// Initialize sets up the service with default permissions
func (s *Service) Initialize(ctx context.Context, registry *providers.Registry) error {
	registry.Logger().Debug("Initializing ACL service with default role permissions")

	s.mu.Lock()
	defer s.mu.Unlock()

	s.permissions[models.RoleAdmin] = []providers.Permission{
		{Resource: "*", Action: "*"},
	}
	s.permissions[models.RoleUser] = []providers.Permission{
		{Resource: providers.ResourceStreams, Action: providers.ActionHost},
		{Resource: providers.ResourceStreams, Action: providers.ActionJoin},
		{Resource: providers.ResourceStreams, Action: providers.ActionRead},
	}
	s.permissions[models.RoleGuest] = []providers.Permission{
		{Resource: providers.ResourceStreams, Action: providers.ActionJoin},
		{Resource: providers.ResourceStreams, Action: providers.ActionRead},
	}

	return nil
}

// Grant adds a permission to a role
func (s *Service) Grant(role string, perm providers.Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permissions[role] = append(s.permissions[role], perm)
}

// IsRunnable returns false as ACL service doesn't need background processing
func (s *Service) IsRunnable() bool {
	return false
}

// Start is not used for ACL service
func (s *Service) Start(ctx context.Context) error {
	return nil
}

// Stop gracefully shuts down the service
func (s *Service) Stop(ctx context.Context) error {
	return nil
}

// RegisterAPIRoutes registers ACL-related routes
func (s *Service) RegisterAPIRoutes(app interface{}) error {
	return nil
}

// CheckPermission checks if a role has permission for a resource/action
func (s *Service) CheckPermission(ctx context.Context, role, resource, action string) (bool, error) {
	s.mu.RLock()
	rolePerms, exists := s.permissions[role]
	s.mu.RUnlock()

	if !exists {
		return false, nil
	}

	for _, perm := range rolePerms {
		if (perm.Resource == "*" || perm.Resource == resource) &&
			(perm.Action == "*" || perm.Action == action) {
			return true, nil
		}
	}

	return false, nil
}

// ListPermissions returns all permissions for a role
func (s *Service) ListPermissions(ctx context.Context, role string) ([]providers.Permission, error) {
	s.mu.RLock()
	perms, exists := s.permissions[role]
	s.mu.RUnlock()

	if !exists {
		return []providers.Permission{}, nil
	}

	result := make([]providers.Permission, len(perms))
	copy(result, perms)
	return result, nil
}

// Verify that Service implements both Service and ACLProvider interfaces
var _ providers.Service = (*Service)(nil)
var _ providers.ACLProvider = (*Service)(nil)
