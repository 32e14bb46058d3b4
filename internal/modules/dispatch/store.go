// README: Persistence contract for dispatches, movements and their audit rows.
package dispatch

import (
	"context"
	"time"

	"pharmadispatch/internal/modules/audit"
	"pharmadispatch/internal/types"
)

// Store is implemented by PostgresStore and MemoryStore.
type Store interface {
	// WithinTx runs fn in one unit of work. Any error from fn discards every
	// write made through tx; row locks are released when fn returns.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Get(ctx context.Context, id int64) (*Dispatch, error)
	GetByCode(ctx context.Context, code string) (*Dispatch, error)
	// Movements are returned oldest first.
	Movements(ctx context.Context, dispatchID int64) ([]Movement, error)
	// LatestPositions maps dispatch id to the last rider GPS reported on a movement.
	LatestPositions(ctx context.Context, dispatchIDs []int64) (map[int64]types.Point, error)
	ListActive(ctx context.Context, f ActiveFilter) ([]Dispatch, error)
	ListPendingReturns(ctx context.Context) ([]Dispatch, error)
	// ListRegistered returns dispatches with fecha_registro in [from, to),
	// optionally restricted to one origin pharmacy.
	ListRegistered(ctx context.Context, from, to time.Time, pharmacyID string) ([]Dispatch, error)
	Audit(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
}

type Tx interface {
	// Lock reads the dispatch and holds it against concurrent writers until
	// the transaction ends. Waiting is bounded; on timeout it fails with
	// ErrContention.
	Lock(ctx context.Context, id int64) (*Dispatch, error)
	NextCodeSequence(ctx context.Context) (int64, error)
	// Insert assigns d.ID and d.Version.
	Insert(ctx context.Context, d *Dispatch) error
	// Update writes every mutable column and bumps d.Version. A version
	// mismatch fails with ErrContention.
	Update(ctx context.Context, d *Dispatch) error
	InsertMovement(ctx context.Context, m *Movement) error
	InsertAudit(ctx context.Context, e *audit.Entry) error
	// Audit lists entries visible to this transaction, newest first.
	Audit(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
}

type ActiveFilter struct {
	Priority         Priority
	WithPrescription *bool
	WithIncident     *bool
}

func (f ActiveFilter) Match(d *Dispatch) bool {
	if d.Status.Terminal() {
		return false
	}
	if f.Priority != "" && d.Priority != f.Priority {
		return false
	}
	if f.WithPrescription != nil && d.HasRetainedPrescription != *f.WithPrescription {
		return false
	}
	if f.WithIncident != nil && d.HadIncident != *f.WithIncident {
		return false
	}
	return true
}

func pendingReturn(d *Dispatch) bool {
	return d.HasRetainedPrescription && d.RequiresReturn && !d.ReturnedToPharmacy && d.Status != StatusVoided
}
