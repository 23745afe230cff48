package domain

import "time"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
	RoleShipper  Role = "shipper"
	// RoleSystem is used for transitions driven by trusted integrations
	// such as the bank webhook. It is never issued in a token.
	RoleSystem Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleStaff, RoleAdmin, RoleShipper:
		return true
	}
	return false
}

type User struct {
	UserID       string    `json:"userId"`
	Phone        string    `json:"phone"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	StoreID      string    `json:"storeId,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Actor is the authenticated principal performing an operation.
type Actor struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	StoreID string `json:"storeId,omitempty"`
}

func (u *User) Actor() Actor {
	return Actor{ID: u.UserID, Role: u.Role, StoreID: u.StoreID}
}

var SystemActor = Actor{ID: "system", Role: RoleSystem}

// CanManageStore reports whether the actor may run store-side operations
// for storeID.
func (a Actor) CanManageStore(storeID string) bool {
	switch a.Role {
	case RoleAdmin:
		return true
	case RoleStaff:
		return a.StoreID != "" && a.StoreID == storeID
	}
	return false
}
