// Package harness runs object-graph scenarios against a fresh in-memory
// store.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	schema: library.cue        # optional, defaults to the workshop schema
//	sessions:                  # "main" always exists
//	  - name: editor
//	    parent: main
//	steps:
//	  - create: {entity: Band, as: beatles, values: {name: The Beatles}}
//	  - create: {entity: Song, as: blackbird, values: {name: Blackbird}, link: {band: beatles}}
//	  - session: editor
//	    set: {object: blackbird, values: {duration: 138}}
//	  - save: true
//	  - delete: beatles
//	    expect_error: REFERENTIAL_INTEGRITY
//	  - fetch: {entity: Song, where: ["duration > 100"], sort: [name], expect: [blackbird]}
//	assertions:
//	  - type: count
//	    entity: Song
//	    count: 1
//	  - type: related
//	    object: blackbird
//	    relationship: band
//	    targets: [beatles]
//
// Objects are named by the alias given when they were created. Every step
// runs on the session named by its session field, "main" by default.
// Assertions run against a fresh session, so they only see saved state.
//
// # Assertion Types
//
//   - count: the number of objects of an entity matching where
//   - exists: the object is stored
//   - absent: the object is not stored
//   - values: a subset of the object's attribute values
//   - related: the exact targets of one of the object's relationships
package harness
