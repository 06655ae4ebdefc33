package sqlstore

import (
	"fmt"
	"strings"

	"medeasy/pharmacy/internal/rowstore"
)

// ForeignKey declares that Table.Column references References.id. Each key
// makes two embeds available: on Table, the column name without "_id"
// (or the referenced table name) embeds one row; on References, Table embeds
// the list of referencing rows.
type ForeignKey struct {
	Table      string
	Column     string
	References string
}

type relation struct {
	target    string
	localKey  string // column on the parent row
	remoteKey string // column on the embedded rows
	toMany    bool
}

func resolveRelation(keys []ForeignKey, table, name string) (relation, error) {
	for _, fk := range keys {
		if fk.Table == table && (strings.TrimSuffix(fk.Column, "_id") == name || fk.References == name) {
			return relation{target: fk.References, localKey: fk.Column, remoteKey: "id"}, nil
		}
	}
	for _, fk := range keys {
		if fk.References == table && fk.Table == name {
			return relation{target: fk.Table, localKey: "id", remoteKey: fk.Column, toMany: true}, nil
		}
	}
	return relation{}, &rowstore.Error{
		Status:  400,
		Code:    "PGRST200",
		Message: fmt.Sprintf("Could not find a relationship between '%s' and '%s' in the schema cache", table, name),
	}
}
