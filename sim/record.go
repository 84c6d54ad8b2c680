package sim

import (
	"fmt"

	"github.com/edge-sim/edge-sim/sim/snapshot"
)

// Snapshot keys written by the simulation.
const (
	// Pre-action state.
	KeyDeviceConnectToServer = "device_connect_to_server" // map[DeviceID]ServerID
	KeyServerConnectToDevice = "server_connect_to_device" // map[ServerID][]DeviceID
	KeyMovement              = "movement"                 // []Move, effective moves only
	KeyDeviceRequestApp      = "device_request_app"       // map[DeviceID][]AppID

	// Post-action state.
	KeyMicroserviceDeployment       = "microservice_deployment"        // NestedPlacement over requested tuples
	KeyServerMicroserviceDeployment = "server_microservice_deployment" // map[ServerID][]Tuple, orphans included
	KeyServerDeployedLayers         = "server_deployed_layers"         // map[ServerID]map[string]int
	KeyServerLeftStorage            = "server_left_storage"            // map[ServerID]float64
	KeyServerLeftComputing          = "server_left_computing"          // map[ServerID]float64

	// Action category.
	KeyActionDeploy   = "deploy"   // []Placement
	KeyActionMigrate  = "migrate"  // []Placement
	KeyActionUndeploy = "undeploy" // []Tuple

	// Evaluate category.
	KeySolveTime = "solve_time" // float64 seconds
)

func (s *Simulation) recordPreAction(tick int64, moves []Move) error {
	conn, attach, req := s.fleet.Connectivity(), s.fleet.Attachments(), s.fleet.Requests()
	if moves == nil {
		moves = []Move{}
	}
	for key, v := range map[string]any{
		KeyDeviceConnectToServer: conn,
		KeyServerConnectToDevice: attach,
		KeyMovement:              moves,
		KeyDeviceRequestApp:      req,
	} {
		if err := s.store.Put(tick, snapshot.CategoryState, key, v); err != nil {
			return err
		}
	}
	return nil
}

// requestedDeployment returns the placement of every requested tuple. An
// application appears even if none of its microservices is deployed.
func (s *Simulation) requestedDeployment() NestedPlacement {
	out := make(NestedPlacement)
	for _, dev := range s.fleet.Devices() {
		d := s.fleet.devices[dev]
		byApp := make(map[AppID]map[MicroserviceID]ServerID, len(d.apps))
		for appID, app := range d.apps {
			mss := make(map[MicroserviceID]ServerID)
			for _, t := range app.Tuples() {
				if sid, ok := s.ledger.ServerOf(t); ok {
					mss[t.Microservice] = sid
				}
			}
			byApp[appID] = mss
		}
		out[dev] = byApp
	}
	return out
}

func (s *Simulation) recordPostAction(tick int64) error {
	perServer := make(map[ServerID][]Tuple)
	layers := make(map[ServerID]map[string]int)
	leftStorage := make(map[ServerID]float64)
	leftCompute := make(map[ServerID]float64)
	for _, sid := range s.ledger.Servers() {
		st, err := s.ledger.Status(sid)
		if err != nil {
			return err
		}
		perServer[sid] = st.Deployed
		layers[sid] = st.Layers
		leftStorage[sid] = st.FreeStorage
		leftCompute[sid] = st.FreeCompute
	}
	for key, v := range map[string]any{
		KeyMicroserviceDeployment:       s.requestedDeployment(),
		KeyServerMicroserviceDeployment: perServer,
		KeyServerDeployedLayers:         layers,
		KeyServerLeftStorage:            leftStorage,
		KeyServerLeftComputing:          leftCompute,
	} {
		if err := s.store.Put(tick, snapshot.CategoryState, key, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulation) recordAction(tick int64, a Action) error {
	deploy := append([]Placement{}, a.Deploy...)
	migrate := append([]Placement{}, a.Migrate...)
	undeploy := append([]Tuple{}, a.Undeploy...)
	written, err := s.store.PutAll(tick, snapshot.CategoryAction, map[string]any{
		KeyActionDeploy:   deploy,
		KeyActionMigrate:  migrate,
		KeyActionUndeploy: undeploy,
	})
	if err != nil {
		return err
	}
	if !written {
		return fmt.Errorf("action for tick %d already recorded: %w", tick, ErrSequence)
	}
	return nil
}

// DeploymentAt reads the recorded placement of requested tuples at tick.
func DeploymentAt(store *snapshot.Store, tick int64) (NestedPlacement, error) {
	return snapshot.Lookup[NestedPlacement](store, tick, snapshot.CategoryState, KeyMicroserviceDeployment)
}

// ConnectivityAt reads the recorded device attachment at tick.
func ConnectivityAt(store *snapshot.Store, tick int64) (map[DeviceID]ServerID, error) {
	return snapshot.Lookup[map[DeviceID]ServerID](store, tick, snapshot.CategoryState, KeyDeviceConnectToServer)
}

// RequestsAt reads the recorded requested applications at tick.
func RequestsAt(store *snapshot.Store, tick int64) (map[DeviceID][]AppID, error) {
	return snapshot.Lookup[map[DeviceID][]AppID](store, tick, snapshot.CategoryState, KeyDeviceRequestApp)
}

// LayersAt reads the recorded per-server layer reference counts at tick.
func LayersAt(store *snapshot.Store, tick int64) (map[ServerID]map[string]int, error) {
	return snapshot.Lookup[map[ServerID]map[string]int](store, tick, snapshot.CategoryState, KeyServerDeployedLayers)
}

// ServerContentsAt reads the recorded per-server deployed tuples at tick.
func ServerContentsAt(store *snapshot.Store, tick int64) (map[ServerID][]Tuple, error) {
	return snapshot.Lookup[map[ServerID][]Tuple](store, tick, snapshot.CategoryState, KeyServerMicroserviceDeployment)
}

// FreeCapacityAt reads the recorded per-server free storage and compute.
func FreeCapacityAt(store *snapshot.Store, tick int64) (storage, compute map[ServerID]float64, err error) {
	storage, err = snapshot.Lookup[map[ServerID]float64](store, tick, snapshot.CategoryState, KeyServerLeftStorage)
	if err != nil {
		return nil, nil, err
	}
	compute, err = snapshot.Lookup[map[ServerID]float64](store, tick, snapshot.CategoryState, KeyServerLeftComputing)
	if err != nil {
		return nil, nil, err
	}
	return storage, compute, nil
}
