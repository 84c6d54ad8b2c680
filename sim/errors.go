package sim

import (
	"errors"

	"github.com/edge-sim/edge-sim/sim/snapshot"
	"github.com/edge-sim/edge-sim/sim/topology"
)

var (
	// ErrSequence is returned when an operation is invoked out of the
	// required per-tick order (for example stepping before observing).
	ErrSequence = errors.New("operation out of sequence")

	// ErrNotFound is returned for unknown ids and missing snapshot entries.
	ErrNotFound = snapshot.ErrNotFound

	// ErrCapacity is returned by engine operations when a target server
	// lacks free storage or compute. Ledger.Deploy reports the same
	// condition as a false result instead.
	ErrCapacity = errors.New("insufficient server capacity")

	// ErrAlreadyDeployed is returned when deploying a tuple that is already
	// placed somewhere.
	ErrAlreadyDeployed = errors.New("microservice already deployed")

	// ErrNotDeployed is returned when undeploying or migrating a tuple that
	// is not placed anywhere.
	ErrNotDeployed = errors.New("microservice not deployed")

	// ErrTopology is returned when two servers have no path between them.
	ErrTopology = topology.ErrNoPath

	// ErrIncompleteDeployment is returned by CheckDeployment when some
	// requested microservice has no server.
	ErrIncompleteDeployment = errors.New("requested microservice not deployed")
)
