// Package presence derives who is inside or outside campus from gate events.
package presence

import (
	"fmt"
	"sort"
	"time"

	"gatepass-backend/internal/model"
)

// Location is the two-state presence model.
type Location int

const (
	Inside Location = iota + 1
	Outside
)

func (l Location) String() string {
	switch l {
	case Inside:
		return "inside"
	case Outside:
		return "outside"
	default:
		return fmt.Sprintf("Location(%d)", int(l))
	}
}

// State is a subject's presence as of their most recent event.
type State struct {
	Location Location
	// Since is the effective instant of the event that set Location.
	Since time.Time
	Last  model.GateEvent
}

// Resolve returns the most recent event per subject. Ties on Timestamp keep
// the first event seen. The input slice is not modified.
func Resolve(events []model.GateEvent) map[string]model.GateEvent {
	last := make(map[string]model.GateEvent)
	for _, ev := range events {
		prev, ok := last[ev.SubjectID]
		if !ok || ev.Timestamp.After(prev.Timestamp) {
			last[ev.SubjectID] = ev
		}
	}
	return last
}

// Classify maps a subject's last event to a presence state.
func Classify(last model.GateEvent) (State, error) {
	switch last.Action {
	case model.ActionCheckIn:
		return State{Location: Inside, Since: last.EffectiveAt(), Last: last}, nil
	case model.ActionCheckOut:
		return State{Location: Outside, Since: last.EffectiveAt(), Last: last}, nil
	default:
		return State{}, fmt.Errorf("subject %s: unknown action %q", last.SubjectID, last.Action)
	}
}

// Anomaly is a run of two identical consecutive actions for a subject, which
// usually means a terminal missed a scan.
type Anomaly struct {
	SubjectID string
	Action    model.Action
	First     time.Time
	Second    time.Time
}

// Anomalies reports consecutive duplicate actions per subject in timestamp
// order. They are tolerated by Resolve (last event wins) and only surfaced
// for logging.
func Anomalies(events []model.GateEvent) []Anomaly {
	bySubject := make(map[string][]model.GateEvent)
	for _, ev := range events {
		bySubject[ev.SubjectID] = append(bySubject[ev.SubjectID], ev)
	}

	subjects := make([]string, 0, len(bySubject))
	for id := range bySubject {
		subjects = append(subjects, id)
	}
	sort.Strings(subjects)

	var out []Anomaly
	for _, id := range subjects {
		evs := bySubject[id]
		sort.SliceStable(evs, func(i, j int) bool { return evs[i].Timestamp.Before(evs[j].Timestamp) })
		for i := 1; i < len(evs); i++ {
			if evs[i].Action == evs[i-1].Action {
				out = append(out, Anomaly{
					SubjectID: id,
					Action:    evs[i].Action,
					First:     evs[i-1].Timestamp,
					Second:    evs[i].Timestamp,
				})
			}
		}
	}
	return out
}
