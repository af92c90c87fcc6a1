package attendance

import (
	"strconv"

	"schoolgate/internal/roster"
)

// Placeholder shown for an unmarked time or attribution field.
const Placeholder = "-"

// DerivedView is the computed per-person attendance row: roster identity
// plus the day's derived status, times and attributions. It is recomputed
// from scratch whenever the roster or the event list changes, never patched
// field-by-field.
type DerivedView struct {
	Person  roster.Person `json:"person"`
	Status  Status        `json:"status"`
	InTime  string        `json:"in_time,omitempty"`
	OutTime string        `json:"out_time,omitempty"`
	InBy    string        `json:"in_by"`
	OutBy   string        `json:"out_by"`
}

// Overlay merges the day's sparse events onto the roster, producing exactly
// one view per roster entry. People without a matching event keep the
// unmarked baseline. Call with an empty event list when the event fetch
// failed; the roster still renders.
func Overlay(people []roster.Person, events []Event) []DerivedView {
	byKey := make(map[string]Event, len(events))
	for _, evt := range events {
		if evt.PersonKey != "" {
			byKey[evt.PersonKey] = evt
		}
	}

	views := make([]DerivedView, 0, len(people))
	for _, p := range people {
		v := DerivedView{Person: p, Status: StatusUnmarked, InBy: Placeholder, OutBy: Placeholder}

		evt, ok := byKey[strconv.FormatInt(p.ID, 10)]
		if !ok && p.ExternalCode != "" {
			evt, ok = byKey[p.ExternalCode]
		}
		if ok {
			v.InTime = evt.InTime
			v.OutTime = evt.OutTime
			v.InBy = formatBy(evt.InGuardianName, evt.InGuardianType, evt.MarkedBy)
			v.OutBy = formatBy(evt.OutGuardianName, evt.OutGuardianType, "")
			v.Status = deriveStatus(evt)
		}
		views = append(views, v)
	}
	return views
}

// deriveStatus applies the status rules in order: an in-time is authoritative
// proof of attendance and overrides whatever the server row claims; otherwise
// an explicit server status is taken verbatim; otherwise the person stays
// unmarked. An out-time never flips a present person to absent.
func deriveStatus(evt Event) Status {
	if evt.InTime != "" {
		return StatusPresent
	}
	if evt.Status != "" {
		return Status(evt.Status)
	}
	return StatusUnmarked
}

// formatBy renders a guardian attribution as "name (type)", falling back to
// the legacy plain-text marked-by field, then to the placeholder.
func formatBy(name string, gtype GuardianType, legacy string) string {
	if name != "" {
		if gtype != "" {
			return name + " (" + string(gtype) + ")"
		}
		return name
	}
	if legacy != "" {
		return legacy
	}
	return Placeholder
}

// NextAction infers the action a tap or scan should perform for the given
// row. The first action of the day is a check-in; a person who is inside
// checks out next; a completed in/out cycle starts a fresh re-entry cycle
// (temporary pickup and return on the same day).
func NextAction(v DerivedView) Action {
	if v.Status == StatusUnmarked {
		return ActionIn
	}
	if v.Status == StatusPresent && v.InTime != "" && v.OutTime == "" {
		return ActionOut
	}
	return ActionIn
}
