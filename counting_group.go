package perfevent

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// GroupMember is an event in a counting group
type GroupMember struct {
	id   uint64
	attr *Attr
	h    kernelHandle
}

// ID returns the kernel assigned ID of the member event
func (gm *GroupMember) ID() uint64 {
	return gm.id
}

// Attr returns the attr the member was opened with
func (gm *GroupMember) Attr() *Attr {
	return gm.attr
}

// CountingGroup is a set of counters which are scheduled onto the PMU together, their values are read atomically
// with one read. The first member is the group leader.
type CountingGroup struct {
	pid  int
	cpu  int
	open opener
	log  logrus.FieldLogger

	members []*GroupMember
	closed  bool
}

func (cg *CountingGroup) leader() *GroupMember {
	if len(cg.members) == 0 {
		return nil
	}
	return cg.members[0]
}

// AddMember opens an event for 'attr' in the group. The first member becomes the group leader, the leader can't be
// changed afterwards.
func (cg *CountingGroup) AddMember(attr *Attr) (*GroupMember, error) {
	if cg.closed {
		return nil, ErrClosed
	}
	if attr.Mode() != ModeCounting {
		return nil, fmt.Errorf("%w: group members must be counting attrs, got %s", ErrAttrMode, attr.Mode())
	}

	groupFD := -1
	if leader := cg.leader(); leader != nil {
		groupFD = leader.h.fd()
	}

	h, err := cg.open(attr, cg.pid, cg.cpu, groupFD)
	if err != nil {
		return nil, fmt.Errorf("open group member %d: %w", len(cg.members), err)
	}

	id, err := h.id()
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("group member %d: %w", len(cg.members), err), h.close())
	}

	gm := &GroupMember{
		id:   id,
		attr: attr,
		h:    h,
	}
	cg.members = append(cg.members, gm)

	cg.log.WithFields(logrus.Fields{
		"id":     id,
		"leader": groupFD == -1,
	}).Debug("Added group member")

	return gm, nil
}

// Members returns all members in the order they were added
func (cg *CountingGroup) Members() []*GroupMember {
	return append([]*GroupMember(nil), cg.members...)
}

func (cg *CountingGroup) ioctlLeader(op string, fn func(kernelHandle) error) error {
	if cg.closed {
		return ErrClosed
	}
	leader := cg.leader()
	if leader == nil {
		return ErrEmptyGroup
	}
	if err := fn(leader.h); err != nil {
		return fmt.Errorf("%s group: %w", op, err)
	}
	return nil
}

// Enable starts all counters in the group
func (cg *CountingGroup) Enable() error {
	return cg.ioctlLeader("enable", func(h kernelHandle) error { return h.enable(true) })
}

// Disable stops all counters in the group
func (cg *CountingGroup) Disable() error {
	return cg.ioctlLeader("disable", func(h kernelHandle) error { return h.disable(true) })
}

// Reset sets all counters in the group to zero
func (cg *CountingGroup) Reset() error {
	return cg.ioctlLeader("reset", func(h kernelHandle) error { return h.reset(true) })
}

// Result reads the values of all members at once
func (cg *CountingGroup) Result() (CountingGroupResult, error) {
	if cg.closed {
		return CountingGroupResult{}, ErrClosed
	}
	leader := cg.leader()
	if leader == nil {
		return CountingGroupResult{}, ErrEmptyGroup
	}

	rv, err := readValues(leader.h, leader.attr.ReadFormat(), len(cg.members))
	if err != nil {
		return CountingGroupResult{}, err
	}

	res := CountingGroupResult{
		TimeEnabled: rv.TimeEnabled,
		TimeRunning: rv.TimeRunning,
		Members:     make(map[uint64]CountingResult, len(rv.Values)),
	}
	for _, v := range rv.Values {
		res.Members[v.ID] = resultFromValues(rv, v)
	}

	return res, nil
}

// Close closes all members, the leader last. All members are closed even if some fail.
func (cg *CountingGroup) Close() error {
	if cg.closed {
		return nil
	}
	cg.closed = true

	var err error
	for i := len(cg.members) - 1; i >= 0; i-- {
		if cerr := cg.members[i].h.close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close group member %d: %w", i, cerr))
		}
	}

	cg.log.WithField("members", len(cg.members)).Debug("Closed counting group")
	return err
}

// CountingGroupResult are the values of all members of a group, read at the same time
type CountingGroupResult struct {
	TimeEnabled uint64
	TimeRunning uint64
	// Members maps the kernel event ID of each member to its value
	Members map[uint64]CountingResult
}

// Member returns the value of a group member
func (cgr CountingGroupResult) Member(gm *GroupMember) (CountingResult, bool) {
	res, ok := cgr.Members[gm.id]
	return res, ok
}
