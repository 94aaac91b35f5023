package ledger

import (
	"fmt"

	"drivechain/core/events"
	"drivechain/core/feed"
	"drivechain/native/servicerecord"
)

// Replay rebuilds state by re-applying previously committed events in order.
// Replayed events are not journaled or published again, and module pauses do
// not apply. Replay stops at the first event that does not reproduce the
// recorded outcome.
func (e *Engine) Replay(history []events.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	pauses := e.pauses
	e.setPauses(nil)
	defer e.setPauses(pauses)
	defer e.buffer.Discard()

	for i, evt := range history {
		if err := e.apply(evt); err != nil {
			return fmt.Errorf("replay event %d (%s): %w", i, evt.EventType(), err)
		}
	}
	return nil
}

// ReplayJournal decodes and replays every entry of j, returning the number of
// events applied.
func (e *Engine) ReplayJournal(j *feed.Journal) (int, error) {
	var history []events.Event
	err := j.Scan(0, func(entry feed.Entry) (bool, error) {
		evt, err := events.Decode(&entry.Event)
		if err != nil {
			return false, fmt.Errorf("decode entry %d: %w", entry.Sequence, err)
		}
		history = append(history, evt)
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	if err := e.Replay(history); err != nil {
		return 0, err
	}
	e.metrics.SetFeedHead(j.Head())
	e.metrics.SetSupply(supplyFloat(e.Supply()))
	return len(history), nil
}

func (e *Engine) apply(evt events.Event) error {
	owner := e.roles.owner
	switch ev := evt.(type) {
	case events.ServiceRecordMinted:
		id, err := e.registry.Mint(ev.Owner, servicerecord.Details{
			ServiceType:     ev.ServiceType,
			ServiceDate:     ev.ServiceDate,
			ServiceProvider: ev.ServiceProvider,
			VehicleInfo:     ev.VehicleInfo,
			ServiceDetails:  ev.ServiceDetails,
		})
		if err != nil {
			return err
		}
		if id != ev.ID {
			return fmt.Errorf("record id diverged: got %d, journal has %d", id, ev.ID)
		}
		record, err := e.registry.Get(id)
		if err != nil {
			return err
		}
		if record.Digest != ev.Digest {
			return fmt.Errorf("record %d digest mismatch", id)
		}
	case events.ServiceRecordVerified:
		return e.registry.Verify(ev.Verifier, ev.ID, ev.Timestamp)
	case events.PointsAwarded:
		amount, err := e.points.Credit(owner, ev.Account, ev.RecordID, ev.ServiceType)
		if err != nil {
			return err
		}
		if ev.Amount != nil && !amount.Eq(ev.Amount) {
			return fmt.Errorf("record %d credited %s, journal has %s", ev.RecordID, amount.Dec(), ev.Amount.Dec())
		}
	case events.PointsTransferred:
		_, err := e.points.Transfer(ev.From, ev.To, ev.Amount)
		return err
	case events.MultiplierChanged:
		return e.multipliers.Set(owner, ev.ServiceType, ev.Multiplier)
	case events.VerifierStatusChanged:
		return e.registry.SetVerifierStatus(owner, ev.Verifier, ev.Enabled)
	default:
		return fmt.Errorf("unsupported event %T", evt)
	}
	return nil
}
