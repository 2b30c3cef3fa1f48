// Package ingest implements the Ingestor: turning one completed
// MailSessionLog into a Submission row and, when the recipient resolves to
// an assignment or an in-progress peer review, a single Gradeable row.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/underground-software/singularity/internal/mailsession"
	"github.com/underground-software/singularity/internal/rubric"
	"github.com/underground-software/singularity/internal/store"
	"github.com/underground-software/singularity/internal/validator"
)

// Ingestor dispatches one MailSessionLog into PersistentStore.
type Ingestor struct {
	Store      *store.Store
	Validator  *validator.Validator
	MailRoot   string
	RubricRoot string
	Logger     *zap.Logger
}

// New returns an Ingestor backed by s, validating patchsets with v,
// reading raw message bodies from mailRoot and rubrics from rubricRoot.
func New(s *store.Store, v *validator.Validator, mailRoot, rubricRoot string, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{Store: s, Validator: v, MailRoot: mailRoot, RubricRoot: rubricRoot, Logger: logger}
}

// outcome is the result of classifying a session, before anything is
// persisted: the Submission.Status text and, for recognized recipients,
// the single Gradeable row it produces.
type outcome struct {
	status    string
	gradeable *store.Gradeable
}

// Run processes one MailSessionLog and returns the status string
// persisted on its Submission row ("" for a malformed log or an idempotent
// re-ingest, "OK" for an idle session with no emails).
func (in *Ingestor) Run(ctx context.Context, logDir, logFile string) (string, error) {
	sess, err := mailsession.Load(logDir, logFile)
	if err != nil {
		if errors.Is(err, mailsession.ErrMalformed) {
			in.Logger.Warn("malformed session log, skipping", zap.String("file", logFile), zap.Error(err))
			return "", nil
		}
		return "", fmt.Errorf("load session %s: %w", logFile, err)
	}
	if len(sess.Emails) == 0 {
		return "OK", nil
	}

	cover := sess.Emails[0]
	patches := sess.Emails[1:]
	inReplyTo := in.extractInReplyTo(cover)

	out, err := in.classify(ctx, sess, cover, patches, inReplyTo)
	if err != nil {
		return "", err
	}

	sub := store.Submission{
		SubmissionID: sess.SubmissionID,
		Timestamp:    sess.Timestamp,
		User:         sess.User,
		Recipient:    cover.Recipient,
		EmailCount:   len(sess.Emails),
		InReplyTo:    inReplyTo,
		Status:       out.status,
	}
	if err := in.Store.CreateSubmission(ctx, sub); err != nil {
		if errors.Is(err, store.ErrConflict) {
			in.Logger.Info("duplicate submission, first writer wins", zap.String("submission_id", sess.SubmissionID))
			return "", nil
		}
		return "", fmt.Errorf("create submission %s: %w", sess.SubmissionID, err)
	}

	if out.gradeable != nil {
		if err := in.Store.CreateGradeable(ctx, *out.gradeable); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return out.status, nil
			}
			return "", fmt.Errorf("create gradeable for %s: %w", sess.SubmissionID, err)
		}
	}

	return out.status, nil
}

func (in *Ingestor) classify(ctx context.Context, sess *mailsession.Session, cover mailsession.Email, patches []mailsession.Email, inReplyTo *string) (outcome, error) {
	asn, err := in.Store.GetAssignmentByName(ctx, cover.Recipient)
	if err == nil {
		return in.classifyAssignment(ctx, sess, asn, cover, patches)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return outcome{}, fmt.Errorf("lookup assignment %s: %w", cover.Recipient, err)
	}

	if inReplyTo != nil {
		orig, gerr := in.Store.GradeableBySubmissionID(ctx, *inReplyTo)
		if gerr != nil {
			return outcome{}, fmt.Errorf("lookup gradeable %s: %w", *inReplyTo, gerr)
		}
		if orig != nil {
			return in.classifyPeerReview(ctx, sess, orig, cover)
		}
	}

	return outcome{status: "Not a recognized recipient"}, nil
}

func (in *Ingestor) classifyAssignment(ctx context.Context, sess *mailsession.Session, asn *store.Assignment, cover mailsession.Email, patches []mailsession.Email) (outcome, error) {
	if len(patches) < 1 {
		return outcome{status: "missing patches"}, nil
	}

	var stage store.Component
	switch {
	case sess.Timestamp < asn.InitialDue:
		stage = store.ComponentInitial
	case sess.Timestamp < asn.FinalDue:
		stage = store.ComponentFinal
	default:
		return outcome{status: fmt.Sprintf("%s past due", asn.Name)}, nil
	}

	var misaddressed []string
	for i, p := range patches {
		if p.Recipient != cover.Recipient {
			misaddressed = append(misaddressed, strconv.Itoa(i+1))
		}
	}
	if len(misaddressed) > 0 {
		plural := ""
		if len(misaddressed) > 1 {
			plural = "es"
		}
		return outcome{status: fmt.Sprintf("patch%s %s not addressed to %s", plural, strings.Join(misaddressed, ","), cover.Recipient)}, nil
	}

	rub, err := in.loadRubric(asn.Name)
	if err != nil {
		return outcome{}, err
	}

	feedback, verr := in.Validator.Validate(cover, patches, rub, sess.SubmissionID)
	if verr != nil {
		in.Logger.Error("patchset validation reported an invariant violation",
			zap.String("submission_id", sess.SubmissionID), zap.Error(verr))
	}

	g := &store.Gradeable{
		SubmissionID: sess.SubmissionID,
		Timestamp:    sess.Timestamp,
		User:         sess.User,
		Assignment:   asn.Name,
		Component:    stage,
		AutoFeedback: feedback,
	}
	return outcome{status: fmt.Sprintf("%s: %s", asn.Name, stage), gradeable: g}, nil
}

func (in *Ingestor) classifyPeerReview(ctx context.Context, sess *mailsession.Session, orig *store.Gradeable, reply mailsession.Email) (outcome, error) {
	asn, err := in.Store.GetAssignmentByName(ctx, orig.Assignment)
	if err != nil {
		return outcome{}, fmt.Errorf("lookup assignment %s: %w", orig.Assignment, err)
	}
	if sess.Timestamp > asn.PeerReviewDue {
		return outcome{status: fmt.Sprintf("%s review past due", asn.Name)}, nil
	}

	pra, err := in.Store.PeerReviewAssignmentFor(ctx, asn.Name, sess.User)
	if err != nil {
		return outcome{}, fmt.Errorf("lookup peer review assignment for %s: %w", sess.User, err)
	}
	if pra == nil {
		return outcome{status: "ineligible for peer review"}, nil
	}

	var component store.Component
	switch reply.Recipient {
	case derefOr(pra.Reviewee1):
		component = store.ComponentReview1
	case derefOr(pra.Reviewee2):
		component = store.ComponentReview2
	default:
		return outcome{status: "reviewed wrong submission"}, nil
	}

	feedback := in.Validator.ValidatePeerReview(reply, orig.SubmissionID, sess.SubmissionID)
	g := &store.Gradeable{
		SubmissionID: sess.SubmissionID,
		Timestamp:    sess.Timestamp,
		User:         sess.User,
		Assignment:   asn.Name,
		Component:    component,
		AutoFeedback: feedback,
	}
	return outcome{status: fmt.Sprintf("%s: %s", asn.Name, component), gradeable: g}, nil
}

func derefOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (in *Ingestor) loadRubric(assignment string) (*rubric.Rubric, error) {
	path := filepath.Join(in.RubricRoot, assignment+".yaml")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	rub, err := rubric.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load rubric for %s: %w", assignment, err)
	}
	return rub, nil
}

var inReplyToHeader = regexp.MustCompile(`(?m)^In-Reply-To:\s*<([0-9a-fA-F]+)@`)

// extractInReplyTo scans the cover email's raw headers for an
// In-Reply-To message id and, if present, masks it per the shared
// In-Reply-To convention: the low 16 bits (last 4 hex digits) are
// cleared so the reply targets a gradeable's root id rather than one
// specific retry of it.
func (in *Ingestor) extractInReplyTo(cover mailsession.Email) *string {
	data, err := os.ReadFile(filepath.Join(in.MailRoot, cover.MsgID))
	if err != nil {
		return nil
	}
	m := inReplyToHeader.FindStringSubmatch(string(data))
	if m == nil {
		return nil
	}
	masked := maskMessageID(m[1])
	return &masked
}

func maskMessageID(hexID string) string {
	if len(hexID) <= 4 {
		return "0000"[:len(hexID)]
	}
	return hexID[:len(hexID)-4] + "0000"
}
