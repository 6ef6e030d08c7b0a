// Package store holds what the relational record stores share: table name
// validation and the row shape a published record is flattened into. Drivers
// live in the postgres and sqlite subpackages.
package store
