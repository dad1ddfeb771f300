package services

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Built-in role names.
const (
	RoleSuperAdmin    = "SuperAdmin"
	RoleAdmin         = "Admin"
	RoleDatabaseAdmin = "DatabaseAdmin"
	RoleContentAdmin  = "ContentAdmin"
	RoleDesignAdmin   = "DesignAdmin"
	RoleMaster        = "Master"
	RoleAuthor        = "Author"
	RoleReviewer      = "Reviewer"
	RoleExpert        = "Expert"
	RoleUser          = "User"
)

// Permission names the service itself gates its admin API with.
const (
	PermUsersView              = "users.view"
	PermRolesView              = "roles.view"
	PermRolesCreate            = "roles.create"
	PermRolesEdit              = "roles.edit"
	PermRolesDelete            = "roles.delete"
	PermRolesAssign            = "roles.assign"
	PermRolesUnassign          = "roles.unassign"
	PermRolesViewPermissions   = "roles.view_permissions"
	PermRolesManagePermissions = "roles.manage_permissions"
	PermPermissionsView        = "permissions.view"
	PermPermissionsCreate      = "permissions.create"
	PermPermissionsEdit        = "permissions.edit"
	PermPermissionsDelete      = "permissions.delete"
	PermPermissionsGrant       = "permissions.grant"
	PermPermissionsRevoke      = "permissions.revoke"
	PermSystemViewMetrics      = "system.view_metrics"
)

type permissionCategory struct {
	Name        string
	Permissions []string
}

// systemPermissions is the built-in catalog in seeding order.
var systemPermissions = []permissionCategory{
	{"Users", []string{
		"users.view", "users.create", "users.edit", "users.delete", "users.view_profile",
		"users.edit_profile", "users.view_sessions", "users.manage_sessions",
		"users.view_activities", "users.impersonate", "users.export",
	}},
	{"Roles", []string{
		"roles.view", "roles.create", "roles.edit", "roles.delete", "roles.assign",
		"roles.unassign", "roles.view_permissions", "roles.manage_permissions",
	}},
	{"Permissions", []string{
		"permissions.view", "permissions.create", "permissions.edit", "permissions.delete",
		"permissions.grant", "permissions.revoke", "permissions.view_audit",
	}},
	{"Content", []string{
		"content.view", "content.create", "content.edit", "content.delete", "content.publish",
		"content.unpublish", "content.moderate", "content.feature", "content.verify",
		"content.view_drafts", "content.edit_others", "content.delete_others",
	}},
	{"Community", []string{
		"community.view_groups", "community.create_groups", "community.manage_groups",
		"community.delete_groups", "community.view_events", "community.create_events",
		"community.manage_events", "community.delete_events", "community.moderate_comments",
		"community.ban_users", "community.view_reports", "community.handle_reports",
	}},
	{"System", []string{
		"system.view_logs", "system.view_metrics", "system.view_dashboard", "system.manage_settings",
		"system.manage_cache", "system.manage_jobs", "system.database_access", "system.configuration",
		"system.backup_restore", "system.maintenance_mode",
	}},
	{"Security", []string{
		"security.view_logs", "security.manage_2fa", "security.view_sessions", "security.manage_sessions",
		"security.unlock_accounts", "security.reset_passwords", "security.view_audit",
		"security.manage_settings",
	}},
	{"Analytics", []string{
		"analytics.view_basic", "analytics.view_advanced", "analytics.view_users",
		"analytics.view_content", "analytics.view_system", "analytics.export_reports",
		"analytics.create_reports",
	}},
	{"AI", []string{
		"ai.view_models", "ai.manage_models", "ai.train_models", "ai.view_training",
		"ai.manage_training", "ai.view_predictions", "ai.configure",
	}},
	{"Media", []string{
		"media.view", "media.upload", "media.edit", "media.delete", "media.view_others",
		"media.edit_others", "media.delete_others", "media.manage_storage",
	}},
	{"API", []string{
		"api.read", "api.write", "api.admin", "api.view_keys", "api.manage_keys", "api.view_usage",
	}},
}

func allSystemPermissionNames() []string {
	var names []string
	for _, c := range systemPermissions {
		names = append(names, c.Permissions...)
	}
	return names
}

type systemRole struct {
	Name        string
	Description string
	Category    string
	Priority    int
	Permissions []string // nil means the whole built-in catalog
}

var systemRoles = []systemRole{
	{RoleSuperAdmin, "Super Administrator with full system access", "Administration", 1000, nil},
	{RoleAdmin, "Administrator with broad system access", "Administration", 900, []string{
		"users.view", "users.edit", "users.view_profile",
		"content.view", "content.edit", "content.moderate",
		"community.view_groups", "community.manage_groups",
		"system.view_dashboard", "system.view_metrics",
		"analytics.view_basic", "analytics.view_advanced",
		"roles.view", "roles.assign", "roles.unassign", "roles.view_permissions",
		"permissions.view",
	}},
	{RoleDatabaseAdmin, "Database Administrator", "Administration", 850, []string{
		"system.database_access", "system.backup_restore", "system.view_logs", "system.view_metrics",
	}},
	{RoleContentAdmin, "Content Administrator", "Administration", 800, []string{
		"content.view", "content.create", "content.edit", "content.delete", "content.publish",
		"content.moderate", "content.feature", "content.verify",
		"media.view", "media.edit", "media.delete",
	}},
	{RoleDesignAdmin, "Design Administrator", "Administration", 700, []string{
		"content.view", "content.edit", "media.view", "media.upload", "media.edit",
		"system.view_dashboard",
	}},
	{RoleMaster, "Master User - Highest community level", "Community", 500, []string{
		"content.view", "content.create", "content.edit", "content.publish", "content.feature",
		"community.view_groups", "community.create_groups", "community.view_events",
		"community.create_events", "media.view", "media.upload", "media.edit",
	}},
	{RoleAuthor, "Content Author", "Community", 400, []string{
		"content.view", "content.create", "content.edit", "content.publish",
		"media.view", "media.upload",
	}},
	{RoleReviewer, "Content Reviewer", "Community", 300, []string{
		"content.view", "content.create", "content.edit", "content.moderate",
		"community.moderate_comments",
	}},
	{RoleExpert, "Expert User", "Community", 200, []string{
		"content.view", "content.create", "content.edit", "community.view_groups",
		"community.create_groups", "media.view", "media.upload",
	}},
	{RoleUser, "Regular User", "Community", 100, []string{
		"content.view", "content.create", "community.view_groups", "community.view_events",
		"media.view", "media.upload",
	}},
}

// displayName turns "users.view_profile" into "View Profile Users".
func displayName(permissionName string) string {
	category, action, ok := strings.Cut(permissionName, ".")
	if !ok || action == "" {
		return permissionName
	}
	caser := cases.Title(language.English)
	return caser.String(strings.ReplaceAll(action, "_", " ") + " " + category)
}
