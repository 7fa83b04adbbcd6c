// Package schema is the entity type registry.
//
// Registration is two-phase. Declare (or DefineEntity) introduces entity
// types with their attributes; relationships are bound once every type
// they reference exists, either explicitly with Bind or implicitly when the
// registry is sealed. Seal checks inverses and freezes the registry;
// sessions only accept sealed registries.
//
// Registries are normally compiled from CUE with CompileCUE. Workshop
// returns the embedded Song/Band/Playlist catalogue.
package schema
