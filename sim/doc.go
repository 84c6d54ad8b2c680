// Package sim provides the discrete-time simulation and resource-accounting
// engine for chained microservices placed on edge servers.
//
// # Reading Guide
//
// Start with these files:
//   - ledger.go: per-server capacity, layer reference counts, feasibility
//   - engine.go: deploy / undeploy / migrate state machine and Apply
//   - simulation.go: per-tick control flow (Advance, Observe, Step)
//
// # Architecture
//
// A Simulation composes narrow components rather than one environment
// object:
//   - Catalog: immutable microservice and application templates
//   - Ledger: capacity accounting; the single owner of "where is tuple X"
//   - Fleet: devices, their attachment, and requested application instances
//   - Engine: the deployment state machine over Ledger and Fleet
//   - Clock: monotonic tick counter
//
// History is recorded in a snapshot.Store (sim/snapshot). Costs are
// computed from that store by sim/evaluate. Background what-if planning
// on a cloned Simulation lives in sim/whatif; reference planners live in
// sim/planner.
//
// # Key Interfaces
//
//   - Planner: GetData(tick) then Solve() returning an Action
//   - View: the read-only surface planners are built against
//   - TickObserver: called after every tick, e.g. the evaluator
package sim
