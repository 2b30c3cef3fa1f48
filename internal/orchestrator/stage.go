package orchestrator

import "github.com/underground-software/singularity/internal/store"

// Stage identifies one of an assignment's three ordered deadlines.
type Stage int

const (
	StageInitial Stage = iota
	StagePeerReview
	StageFinal
)

// String renders the stage the way log lines and the Configurator's
// trigger -c flag name it.
func (s Stage) String() string {
	switch s {
	case StageInitial:
		return "initial"
	case StagePeerReview:
		return "peer"
	case StageFinal:
		return "final"
	default:
		return "unknown"
	}
}

// allStages lists every stage in lifecycle order.
var allStages = [...]Stage{StageInitial, StagePeerReview, StageFinal}

// deadline returns the Unix-seconds deadline this stage refers to on asn.
func (s Stage) deadline(asn store.Assignment) int64 {
	switch s {
	case StageInitial:
		return asn.InitialDue
	case StagePeerReview:
		return asn.PeerReviewDue
	case StageFinal:
		return asn.FinalDue
	default:
		return store.FarFuture
	}
}

// column returns the Assignment table column this stage's deadline lives
// in, for UpdateAssignmentDeadlineToNow.
func (s Stage) column() string {
	switch s {
	case StageInitial:
		return "initial_due"
	case StagePeerReview:
		return "peer_review_due"
	case StageFinal:
		return "final_due"
	default:
		return ""
	}
}

// componentID is the TRIGGER payload's component slot: 0=initial, 1=peer, 2=final.
func (s Stage) componentID() int64 {
	return int64(s)
}

// stageFromComponentID inverts componentID, the decode half of the TRIGGER
// payload codec (`asn_id*3 + component_id`).
func stageFromComponentID(id int64) (Stage, bool) {
	switch id {
	case 0:
		return StageInitial, true
	case 1:
		return StagePeerReview, true
	case 2:
		return StageFinal, true
	default:
		return 0, false
	}
}

// EncodeTrigger packs (assignmentID, stage) into the single integer TRIGGER
// payload the Configurator's trigger subcommand writes as a filename.
func EncodeTrigger(assignmentID int64, stage Stage) int64 {
	return assignmentID*3 + stage.componentID()
}

// DecodeTrigger unpacks a TRIGGER payload into (assignmentID, stage).
func DecodeTrigger(payload int64) (assignmentID int64, stage Stage, ok bool) {
	if payload < 0 {
		return 0, 0, false
	}
	id := payload / 3
	stage, ok = stageFromComponentID(payload % 3)
	return id, stage, ok
}
