package filestore

import "clarium/internal/logging"

// ACLIntent describes a permission change filestore wants applied to a
// path or alias, handed off to an external collaborator rather than
// enforced in-process (spec §1 "ACL enforcement is an external
// collaborator's responsibility", §4.4 "strict_acl clones emit an ACL
// intent").
type ACLIntent struct {
	Path      string
	Principal string
	Grant     string // e.g. "read", "write"
}

// ACLNotifier is the seam an operator wires to their real authorization
// system. The zero value (nil) is valid: EmitACLIntent then does nothing
// and logs nothing, rather than blocking the filestore operation on it.
type ACLNotifier interface {
	Notify(ACLIntent) error
}

// EmitACLIntent best-effort notifies notifier of intent and returns no
// error; a delivery failure is only logged as a warning when log is
// non-nil: a strict_acl clone or grant must never fail the store
// operation itself just because the downstream authorization system is
// unreachable (spec §4.4 "fail-open: the filestore operation that
// triggered the intent still succeeds even if notification fails").
func EmitACLIntent(notifier ACLNotifier, log logging.Logger, intent ACLIntent) {
	if notifier == nil {
		return
	}
	if err := notifier.Notify(intent); err != nil && log != nil {
		log.Warn("acl_intent_delivery_failed",
			"path", intent.Path,
			"principal", intent.Principal,
			"grant", intent.Grant,
			"error", err.Error(),
		)
	}
}
