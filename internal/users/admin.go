// Package users registers the user model with the admin site.
package users

import (
	"customer-auth/internal/admin"
	"customer-auth/internal/service"
)

// ModelName is the URL segment the user admin is served under.
const ModelName = "users"

// Model describes the user fields the admin can show and edit.
var Model = admin.Model{
	Name:              ModelName,
	VerboseName:       "user",
	VerboseNamePlural: "users",
	Fields: []admin.Field{
		{Name: "email", Label: "Email address", Kind: admin.KindEmail, Required: true, MaxLength: 254},
		{Name: "user_name", Label: "User name", Kind: admin.KindText, Required: true, MaxLength: 150},
		{Name: "first_name", Label: "First name", Kind: admin.KindText, MaxLength: 150},
		{Name: "about", Label: "About", Kind: admin.KindTextarea, MaxLength: 500},
		{Name: "is_active", Label: "Active", Kind: admin.KindBool},
		{Name: "is_staff", Label: "Staff status", Kind: admin.KindBool, HelpText: "Designates whether the user can log into the admin site."},
		{Name: "start_date", Label: "Start date", Kind: admin.KindDateTime, ReadOnly: true},
		{Name: "password1", Label: "Password", Kind: admin.KindPassword, Required: true, FormOnly: true},
		{Name: "password2", Label: "Password confirmation", Kind: admin.KindPassword, Required: true, FormOnly: true,
			HelpText: "Enter the same password as before, for verification."},
	},
}

// AdminConfig is the presentation config of the user admin screen.
func AdminConfig() admin.ModelAdmin {
	return admin.ModelAdmin{
		SearchFields: []string{"email", "user_name", "first_name"},
		ListFilter:   []string{"email", "user_name", "first_name", "is_active", "is_staff"},
		Ordering:     []string{"-start_date"},
		ListDisplay:  []string{"email", "user_name", "first_name", "is_active", "is_staff"},
		Fieldsets: []admin.Fieldset{
			{Fields: []string{"email", "user_name", "first_name"}},
			{Name: "Permissions", Fields: []string{"is_staff", "is_active"}},
			{Name: "Personal", Fields: []string{"about"}},
		},
		FormfieldOverrides: map[string]admin.Widget{
			"about": admin.Textarea(10, 40),
		},
		AddFieldsets: []admin.Fieldset{
			{
				Classes: []string{"wide"},
				Fields:  []string{"email", "user_name", "first_name", "password1", "password2", "is_active", "is_staff"},
			},
		},
	}
}

// Register binds the user model and its admin config to site.
func Register(site *admin.Site, svc service.UserService) error {
	return site.Register(Model, AdminConfig(), NewBackend(svc))
}
