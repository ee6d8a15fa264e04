package usecase

// AckStatus classifies the outcome of an operator action. Every action gets
// an explicit acknowledgment; silent drops are not allowed for anything that
// originates from a human.
type AckStatus string

const (
	// AckDone: the action was applied by this caller.
	AckDone AckStatus = "done"
	// AckAlreadyHandled: another caller won the version race; benign no-op.
	AckAlreadyHandled AckStatus = "already_handled"
	// AckAlreadyFinalized: the draft is in a terminal state.
	AckAlreadyFinalized AckStatus = "already_finalized"
	// AckRejected: the transition table does not permit this action here.
	AckRejected AckStatus = "rejected"
	// AckFailed: a collaborator call failed; the operator may retry.
	AckFailed AckStatus = "failed"
)

// Ack is the operator-facing acknowledgment for one action.
type Ack struct {
	Status AckStatus
	Detail string
}

// Text renders the short acknowledgment shown on the review surface.
func (a Ack) Text() string {
	switch a.Status {
	case AckDone:
		if a.Detail != "" {
			return a.Detail
		}
		return "Done"
	case AckAlreadyHandled:
		return "Already handled"
	case AckAlreadyFinalized:
		return "Already finalized"
	case AckRejected:
		if a.Detail != "" {
			return "Not allowed: " + a.Detail
		}
		return "Not allowed"
	case AckFailed:
		if a.Detail != "" {
			return "Failed: " + a.Detail
		}
		return "Failed"
	}
	return string(a.Status)
}

func done(detail string) Ack            { return Ack{Status: AckDone, Detail: detail} }
func alreadyHandled() Ack               { return Ack{Status: AckAlreadyHandled} }
func alreadyFinalized() Ack             { return Ack{Status: AckAlreadyFinalized} }
func rejected(detail string) Ack        { return Ack{Status: AckRejected, Detail: detail} }
func failed(detail string) Ack          { return Ack{Status: AckFailed, Detail: detail} }
