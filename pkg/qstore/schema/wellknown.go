package schema

import (
	"github.com/rqure/qcore/pkg/qstore/ids"
	"github.com/rqure/qcore/pkg/qstore/interner"
)

// WellKnown resolves the handful of entity-type and field-type names
// every bootstrap path needs, without hardcoding interned ids.
// Grounded on the original implementation's lazy `Option<EntityType>`
// ET/FT helper structs: names are interned (not
// just looked up), since a fresh store hasn't seen them yet.
type WellKnown struct {
	// Entity types
	Object     ids.EntityType
	Folder     ids.EntityType
	Root       ids.EntityType
	Subject    ids.EntityType
	User       ids.EntityType
	Permission ids.EntityType

	// Field types
	Name     ids.FieldType
	Parent   ids.FieldType
	Children ids.FieldType
}

// ResolveWellKnown interns the well-known names against the given
// entity-type and field-type interners.
func ResolveWellKnown(entityNames *interner.Interner[ids.EntityType], fieldNames *interner.Interner[ids.FieldType]) WellKnown {
	return WellKnown{
		Object:     entityNames.Intern("Object"),
		Folder:     entityNames.Intern("Folder"),
		Root:       entityNames.Intern("Root"),
		Subject:    entityNames.Intern("Subject"),
		User:       entityNames.Intern("User"),
		Permission: entityNames.Intern("Permission"),

		Name:     fieldNames.Intern("Name"),
		Parent:   fieldNames.Intern("Parent"),
		Children: fieldNames.Intern("Children"),
	}
}

// ObjectBaseSchema returns the Name/Parent/Children schema every
// entity type must inherit from.
func ObjectBaseSchema(wk WellKnown) SingleSchema {
	return SingleSchema{
		EntityType: wk.Object,
		Inherit:    nil,
		Fields: map[ids.FieldType]FieldSchema{
			wk.Name:     NewStringField(wk.Name, 0, ScopeConfiguration),
			wk.Parent:   NewEntityReferenceField(wk.Parent, 1, ScopeConfiguration),
			wk.Children: NewEntityListField(wk.Children, 2, ScopeRuntime),
		},
	}
}
