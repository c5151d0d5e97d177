package database

import (
	"backoffice/internal/model"

	"gorm.io/gorm"
)

// defaultPermissions are the route-level permission codes, grouped by area
var defaultPermissions = []model.Permission{
	{Code: "requests.read", Name: "View requests", Group: "requests"},
	{Code: "requests.write", Name: "Create and edit requests", Group: "requests"},
	{Code: "requests.delete", Name: "Delete requests", Group: "requests"},
	{Code: "users.read", Name: "View users", Group: "users"},
	{Code: "users.write", Name: "Create and edit users", Group: "users"},
	{Code: "users.delete", Name: "Delete users", Group: "users"},
	{Code: "audits.read", Name: "View audit logs", Group: "audits"},
	{Code: "roles.read", Name: "View roles", Group: "roles"},
}

// rolePermissions maps built-in role names to permission codes.
// Finer-grained decisions (ownership, transition edges) live in the
// workflow policy, not here.
var rolePermissions = map[string][]string{
	model.RoleAdmin: {
		"requests.read", "requests.write", "requests.delete",
		"users.read", "users.write", "users.delete",
		"audits.read", "roles.read",
	},
	model.RoleApprover: {"requests.read", "requests.write", "requests.delete", "audits.read", "users.read", "roles.read"},
	model.RoleReviewer: {"requests.read", "requests.write", "requests.delete", "users.read", "roles.read"},
	model.RoleStaff:    {"requests.read", "requests.write", "requests.delete"},
}

// Seed creates the built-in roles and permissions if they are missing.
// Idempotent: safe to run on every startup.
func Seed(db *gorm.DB) error {
	perms := make(map[string]model.Permission, len(defaultPermissions))
	for _, p := range defaultPermissions {
		var existing model.Permission
		err := db.Where("code = ?", p.Code).First(&existing).Error
		if err == gorm.ErrRecordNotFound {
			if err := db.Create(&p).Error; err != nil {
				return err
			}
			existing = p
		} else if err != nil {
			return err
		}
		perms[existing.Code] = existing
	}

	for name, codes := range rolePermissions {
		var role model.Role
		err := db.Where("name = ?", name).First(&role).Error
		if err == gorm.ErrRecordNotFound {
			role = model.Role{Name: name, IsSystem: true}
			if err := db.Create(&role).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		assigned := make([]model.Permission, 0, len(codes))
		for _, code := range codes {
			assigned = append(assigned, perms[code])
		}
		if err := db.Model(&role).Association("Permissions").Replace(assigned); err != nil {
			return err
		}
	}

	return nil
}
