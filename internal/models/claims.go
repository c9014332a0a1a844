package models

import (
	"encoding/json"

	"github.com/golang-jwt/jwt/v5"
)

// Claims defines the structure of the bearer token claims.
// user_id may be encoded either as a number or as a numeric string.
type Claims struct {
	CustomerID string      `json:"customer_id"`
	UserID     json.Number `json:"user_id"`
	jwt.RegisteredClaims
}
