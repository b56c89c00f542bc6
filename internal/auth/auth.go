package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

const (
	PermissionManageInventory     = "manage_inventory"
	PermissionViewPricing         = "view_pricing"
	PermissionViewReconciliations = "view_reconciliations"
	PermissionAdmin               = "admin"
)

// Operator is the authenticated caller of an admin endpoint.
type Operator struct {
	Subject     string
	Permissions []string
}

// Claims represents operator token claims. Tokens are issued elsewhere; this
// service only verifies them.
type Claims struct {
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// TokenValidator verifies bearer tokens.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}
