package sim

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Engine is the deployment state machine over (device, application,
// microservice) tuples. Instances are resolved through the fleet; capacity
// is accounted in the ledger.
type Engine struct {
	ledger *Ledger
	fleet  *Fleet
	quiet  bool // forked engines leave the operation counters alone
}

// NewEngine binds an engine to a ledger and a fleet.
func NewEngine(ledger *Ledger, fleet *Fleet) *Engine {
	return &Engine{ledger: ledger, fleet: fleet}
}

func (e *Engine) record(op string, err error) {
	if !e.quiet {
		recordOp(op, err)
	}
}

func isCapacity(err error) bool {
	return errors.Is(err, ErrCapacity)
}

func (e *Engine) deploy(p Placement) error {
	ms, err := e.fleet.Instance(p.Tuple())
	if err != nil {
		return err
	}
	ok, err := e.ledger.Deploy(ms, p.Server)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("deploy %s: %w", p, ErrCapacity)
	}
	return nil
}

// Deploy places a tuple that is not yet deployed.
func (e *Engine) Deploy(p Placement) error {
	err := e.deploy(p)
	e.record(opDeploy, err)
	return err
}

// Undeploy releases a deployed tuple. It works on orphaned tuples whose
// application is no longer requested.
func (e *Engine) Undeploy(t Tuple) error {
	_, err := e.ledger.Undeploy(t)
	e.record(opUndeploy, err)
	return err
}

// MigrateOne moves a deployed tuple to p.Server by undeploying and then
// deploying. If the target lacks capacity, the tuple is put back on its
// original server and ErrCapacity is returned.
func (e *Engine) MigrateOne(p Placement) error {
	err := e.migrateOne(p)
	e.record(opMigrateOne, err)
	return err
}

func (e *Engine) migrateOne(p Placement) error {
	t := p.Tuple()
	ms, err := e.fleet.Instance(t)
	if err != nil {
		return err
	}
	from, ok := e.ledger.ServerOf(t)
	if !ok {
		return fmt.Errorf("migrate %s: %w", p, ErrNotDeployed)
	}
	if from == p.Server {
		return fmt.Errorf("migrate %s: already on target: %w", p, ErrAlreadyDeployed)
	}
	if !e.ledger.HasServer(p.Server) {
		return fmt.Errorf("migrate %s: server %d: %w", p, p.Server, ErrNotFound)
	}
	if _, err := e.ledger.Undeploy(t); err != nil {
		return err
	}
	ok, err = e.ledger.Deploy(ms, p.Server)
	if err == nil && ok {
		return nil
	}
	if restored, rerr := e.ledger.Deploy(ms, from); rerr != nil || !restored {
		logrus.Warnf("migrate %s: could not restore to server %d", p, from)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("migrate %s: %w", p, ErrCapacity)
}

// MigrateBatch moves every listed tuple in two phases: all are undeployed
// first, then each is deployed to its target in list order. This lets
// full servers swap contents.
//
// Identity problems (unknown tuple or server, tuple not deployed, tuple
// listed twice) are reported before anything changes. Capacity is not
// checked up front: a deploy failure in the second phase aborts the batch
// and leaves the ledger partially migrated.
func (e *Engine) MigrateBatch(moves []Placement) error {
	err := e.migrateBatch(moves)
	e.record(opMigrateBatch, err)
	return err
}

func (e *Engine) migrateBatch(moves []Placement) error {
	seen := make(map[Tuple]bool, len(moves))
	from := make([]ServerID, len(moves))
	for i, p := range moves {
		t := p.Tuple()
		if seen[t] {
			return fmt.Errorf("migrate batch: %s listed twice", t)
		}
		seen[t] = true
		if _, err := e.fleet.Instance(t); err != nil {
			return fmt.Errorf("migrate batch: %w", err)
		}
		sid, ok := e.ledger.ServerOf(t)
		if !ok {
			return fmt.Errorf("migrate batch %s: %w", p, ErrNotDeployed)
		}
		if !e.ledger.HasServer(p.Server) {
			return fmt.Errorf("migrate batch %s: server %d: %w", p, p.Server, ErrNotFound)
		}
		from[i] = sid
	}

	for _, p := range moves {
		if _, err := e.ledger.Undeploy(p.Tuple()); err != nil {
			return fmt.Errorf("migrate batch: %w", err)
		}
	}
	for i, p := range moves {
		if err := e.deploy(p); err != nil {
			logrus.Errorf("migrate batch aborted at move %d of %d (%s): %v; ledger left partially migrated",
				i+1, len(moves), p, err)
			return fmt.Errorf("migrate batch move %d: %w", i+1, err)
		}
		logrus.Debugf("microservice %s migrated from server %d to server %d", p.Tuple(), from[i], p.Server)
	}
	return nil
}

// Apply executes an action: deploy entries, then the migrate entries as
// one batch, then undeploy entries. The first failure stops the action.
func (e *Engine) Apply(a Action) error {
	for _, p := range a.Deploy {
		if err := e.Deploy(p); err != nil {
			return fmt.Errorf("apply deploy: %w", err)
		}
	}
	if len(a.Migrate) > 0 {
		if err := e.MigrateBatch(a.Migrate); err != nil {
			return fmt.Errorf("apply migrate: %w", err)
		}
	}
	for _, t := range a.Undeploy {
		if err := e.Undeploy(t); err != nil {
			return fmt.Errorf("apply undeploy: %w", err)
		}
	}
	return nil
}
