package model

import (
	"github.com/google/uuid"
)

type UserRole string

const (
	UserRoleParkingAdmin    UserRole = "PARKING_ADMIN"
	UserRoleParkingOperator UserRole = "PARKING_OPERATOR"
	UserRoleViewer          UserRole = "VIEWER"
)

func (r UserRole) Valid() bool {
	return r == UserRoleParkingAdmin || r == UserRoleParkingOperator || r == UserRoleViewer
}

type Principal struct {
	UserID uuid.UUID
	OrgID  uuid.UUID
	Role   UserRole
}

func (p Principal) IsAdmin() bool {
	return p.Role == UserRoleParkingAdmin
}

// CanManageSpots reports whether the principal may read geometry and reload the layout.
func (p Principal) CanManageSpots() bool {
	return p.Role == UserRoleParkingAdmin || p.Role == UserRoleParkingOperator
}
