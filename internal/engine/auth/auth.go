package auth

import (
	"fmt"

	"caseline/internal/config"
)

// ForbiddenError indicates a role attempted an operation it does not own.
type ForbiddenError struct {
	Role string
	Op   string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %s may not %s", e.Role, e.Op)
}

// Service answers role authorization questions from the config registry.
type Service struct {
	Config *config.Config
}

// EnsureRole rejects actors whose role is not registered.
func (s Service) EnsureRole(role string) error {
	if role == "" {
		return fmt.Errorf("actor role required")
	}
	if !s.Config.RoleExists(role) {
		return fmt.Errorf("unknown role %s", role)
	}
	return nil
}

// EnsureHolder requires the actor to currently hold the case.
func (s Service) EnsureHolder(role, holder, op string) error {
	if err := s.EnsureRole(role); err != nil {
		return err
	}
	if role != holder {
		return ForbiddenError{Role: role, Op: op}
	}
	return nil
}

// EnsureChiefSecretary gates review operations to the cs role.
func (s Service) EnsureChiefSecretary(role, op string) error {
	if err := s.EnsureRole(role); err != nil {
		return err
	}
	if role != "cs" {
		return ForbiddenError{Role: role, Op: op}
	}
	return nil
}

// EnsureAssignee requires the actor to be the task's assignee.
func (s Service) EnsureAssignee(role, assignee, op string) error {
	if err := s.EnsureRole(role); err != nil {
		return err
	}
	if role != assignee {
		return ForbiddenError{Role: role, Op: op}
	}
	return nil
}
