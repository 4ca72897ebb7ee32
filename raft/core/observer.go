package core

import (
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// RoleEvent describes one role transition of a raft node.
type RoleEvent struct {
	ID   uint64
	Term uint64
	Lead uint64
	From StateRole
	To   StateRole
}

// Observer is notified after each role transition. It is called
// synchronously and must not call back into the node.
type Observer interface {
	OnRoleChange(ev RoleEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev RoleEvent)

// OnRoleChange calls f(ev).
func (f ObserverFunc) OnRoleChange(ev RoleEvent) { f(ev) }

// LogrusObserver writes role transitions to a logrus logger.
type LogrusObserver struct {
	Logger logrus.FieldLogger
}

// OnRoleChange implements Observer.
func (o LogrusObserver) OnRoleChange(ev RoleEvent) {
	o.Logger.WithFields(logrus.Fields{
		"raft": ev.ID,
		"term": ev.Term,
		"lead": ev.Lead,
		"from": ev.From.String(),
		"to":   ev.To.String(),
	}).Info("role changed")
}

// ZapObserver writes role transitions to a zap logger.
type ZapObserver struct {
	Logger *zap.Logger
}

// OnRoleChange implements Observer.
func (o ZapObserver) OnRoleChange(ev RoleEvent) {
	o.Logger.Info("role changed",
		zap.Uint64("raft", ev.ID),
		zap.Uint64("term", ev.Term),
		zap.Uint64("lead", ev.Lead),
		zap.Stringer("from", ev.From),
		zap.Stringer("to", ev.To),
	)
}
