// Package models defines types shared across internal packages.
package models

import "time"

// Record is one logical row shared by the record store and the sheet.
// Fields holds scalar values keyed by column name; the key and the
// timestamp are carried separately and never appear in Fields.
type Record struct {
	Key      string            `json:"key"`
	Fields   map[string]string `json:"fields"`
	Modified time.Time         `json:"modified"`
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	fields := make(map[string]string, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}

	return Record{Key: r.Key, Fields: fields, Modified: r.Modified}
}

// Value returns the field value, or "" when the field is unset.
func (r Record) Value(field string) string {
	return r.Fields[field]
}
