// Package harness runs conformance scenarios against the mapping and
// merge pipeline.
//
// A scenario replays one or more dataset runs over inline records into a
// shared statement store, merges every stored entity and checks the
// merged result.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	runs:
//	  - config: ../configs/registry_a.yml
//	    source: registry_a.csv
//	    records:
//	      - {Id: "42", Name: Acme}
//	  - config: ../configs/registry_b.yml
//	    records:
//	      - {Id: "42", Website: acme.org}
//	assertions:
//	  - type: entity
//	    id: org-42
//	    schema: Company
//	    properties: {name: [Acme], website: [acme.org]}
//	  - type: entity_count
//	    count: 1
//
// Config paths are relative to the scenario file. A run with records
// replaces the sources of its config with one inline source. A run
// without records extracts the sources of its config.
//
// # Assertion Types
//
//   - entity: the merged entity exists; schema, properties (subset match)
//     and datasets are compared when given
//   - absent: no merged entity has the id
//   - entity_count: number of merged entities
//   - conflict: the merge reported a conflict of kind for id (and prop)
//   - statements: new statements written by all runs
//   - dropped: entities dropped by the mapper in all runs
//
// # Deterministic Testing
//
// Runs use fixed run ids ({scenario}-{n}) and an in-memory store, so the
// merged entities of a scenario can be compared against a golden file.
package harness
