// Package calconfig reconciles an edited calendar configuration with the DAV
// server, issuing only the update calls whose state actually changed.
package calconfig

import (
	"context"
	"fmt"

	"github.com/jw6ventures/esn-calendar/internal/caldav"
	"github.com/jw6ventures/esn-calendar/internal/rights"
)

// CalendarAPI is the part of the DAV calendar API used by a configuration session.
type CalendarAPI interface {
	GetCalendar(ctx context.Context, homeID, id string, withRights bool) (*caldav.Calendar, error)
	CreateCalendar(ctx context.Context, homeID string, cal caldav.Calendar) error
	ModifyCalendar(ctx context.Context, homeID string, cal caldav.Calendar) error
	GetRight(ctx context.Context, homeID string, cal caldav.Calendar) (*rights.CalendarRight, error)
	ModifyRights(ctx context.Context, homeID string, cal caldav.Calendar, newRight, oldRight *rights.CalendarRight) error
	ModifyPublicRights(ctx context.Context, homeID, id, privilege string) error
}

type OpKind string

const (
	OpModifyRights      OpKind = "modifyRights"
	OpModifyCalendar    OpKind = "modifyCalendar"
	OpModifyPublicRight OpKind = "modifyPublicRights"
)

// Operation is one update call against the DAV server.
type Operation struct {
	Kind      OpKind          `json:"kind"`
	HomeID    string          `json:"homeId"`
	Calendar  caldav.Calendar `json:"calendar"`
	Privilege string          `json:"privilege,omitempty"`

	NewRight *rights.CalendarRight `json:"-"`
	OldRight *rights.CalendarRight `json:"-"`
}

// CalendarFields are the user-editable fields snapshotted before editing.
type CalendarFields struct {
	Name  string
	Color string
	Href  string
}

// Snapshot is the edited state of one calendar next to what was loaded.
type Snapshot struct {
	HomeID   string
	Calendar caldav.Calendar
	Old      CalendarFields

	Rights   *rights.CalendarRight
	Baseline *rights.CalendarRight

	Public         rights.PublicRight
	OriginalPublic rights.PublicRight
}

// Diff returns the calls needed to persist s. The order is always rights,
// then calendar fields, then the public right.
func Diff(s Snapshot) []Operation {
	var ops []Operation
	if s.Rights != nil && !s.Rights.ShareesEqual(s.Baseline) {
		ops = append(ops, Operation{
			Kind:     OpModifyRights,
			HomeID:   s.HomeID,
			Calendar: s.Calendar,
			NewRight: s.Rights,
			OldRight: s.Baseline,
		})
	}
	if s.Calendar.Name != s.Old.Name || s.Calendar.Color != s.Old.Color {
		ops = append(ops, Operation{Kind: OpModifyCalendar, HomeID: s.HomeID, Calendar: s.Calendar})
	}
	if s.Public != s.OriginalPublic {
		ops = append(ops, Operation{
			Kind:      OpModifyPublicRight,
			HomeID:    s.HomeID,
			Calendar:  s.Calendar,
			Privilege: PublicRightPrivilege(s.Public),
		})
	}
	return ops
}

// PublicRightPrivilege maps a public right onto the DAV privilege written to
// the public ACL. Anything but READ and READ_WRITE grants free-busy.
func PublicRightPrivilege(r rights.PublicRight) string {
	switch r {
	case rights.PublicRead:
		return rights.PrivilegeRead
	case rights.PublicReadWrite:
		return rights.PrivilegeWrite
	default:
		return rights.PrivilegeFreeBusy
	}
}

// Execute runs ops in order and stops at the first failure.
func Execute(ctx context.Context, api CalendarAPI, ops []Operation) error {
	for _, op := range ops {
		var err error
		switch op.Kind {
		case OpModifyRights:
			err = api.ModifyRights(ctx, op.HomeID, op.Calendar, op.NewRight, op.OldRight)
		case OpModifyCalendar:
			err = api.ModifyCalendar(ctx, op.HomeID, op.Calendar)
		case OpModifyPublicRight:
			err = api.ModifyPublicRights(ctx, op.HomeID, op.Calendar.ID, op.Privilege)
		default:
			err = fmt.Errorf("unknown operation %q", op.Kind)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", op.Kind, err)
		}
	}
	return nil
}
