package abuse

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/AnshRaj112/abuseguard/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MaxExplanationLength caps the free text a user can attach to an appeal.
const MaxExplanationLength = 5000

// notifyTimeout bounds a single fire-and-forget notification.
const notifyTimeout = 30 * time.Second

// AppealWorkflow handles ban appeals: submission and reviewer decisions.
type AppealWorkflow struct {
	appeals  AppealStore
	states   StateStore
	config   ConfigProvider
	clock    Clock
	notifier Notifier

	// pending tracks in-flight notifications so tests and shutdown can wait.
	pending sync.WaitGroup
}

// NewAppealWorkflow builds the workflow. notifier may be nil.
func NewAppealWorkflow(appeals AppealStore, states StateStore, config ConfigProvider, clock Clock, notifier Notifier) *AppealWorkflow {
	if clock == nil {
		clock = SystemClock{}
	}
	return &AppealWorkflow{
		appeals:  appeals,
		states:   states,
		config:   config,
		clock:    clock,
		notifier: notifier,
	}
}

// Submit files an appeal against the user's current state. Callers are
// expected to check the user is banned first; this is not enforced here.
func (w *AppealWorkflow) Submit(ctx context.Context, userID uuid.UUID, explanation string) (*models.AbuseAppeal, error) {
	explanation = strings.TrimSpace(explanation)
	if explanation == "" {
		return nil, &ValidationError{Field: "explanation", Message: "is required"}
	}
	if utf8.RuneCountInString(explanation) > MaxExplanationLength {
		return nil, &ValidationError{Field: "explanation", Message: fmt.Sprintf("must be at most %d characters", MaxExplanationLength)}
	}

	th, err := w.config.Thresholds(ctx)
	if err != nil {
		return nil, fmt.Errorf("load thresholds: %w", err)
	}

	state, err := w.states.Update(ctx, userID, func(*models.AbuseState) error { return ErrNoChange })
	if err != nil {
		return nil, persistErr("load state", err)
	}

	appeal := &models.AbuseAppeal{
		ID:           uuid.New(),
		AbuseStateID: state.ID,
		UserID:       userID,
		CreatedAt:    w.clock.Now(),
		Explanation:  explanation,
		Snapshot:     models.NewStateSnapshot(state, th.PermanentBanThreshold),
		Status:       models.AppealPending,
	}
	if err := w.appeals.Create(ctx, appeal); err != nil {
		return nil, persistErr("create appeal", err)
	}
	appealsTotal.WithLabelValues(string(models.AppealPending)).Inc()

	logrus.WithFields(logrus.Fields{
		"appeal_id": appeal.ID.String(),
		"user_id":   userID.String(),
		"points":    state.Points,
	}).Info("Abuse appeal submitted")

	w.notify(ctx, appeal)
	return appeal, nil
}

func (w *AppealWorkflow) notify(ctx context.Context, appeal *models.AbuseAppeal) {
	if w.notifier == nil {
		return
	}
	copied := *appeal
	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := w.notifier.AppealSubmitted(nctx, &copied); err != nil {
			logrus.WithError(err).WithField("appeal_id", copied.ID.String()).Error("Failed to send appeal notification")
		}
	}()
}

// Wait blocks until in-flight notifications finish.
func (w *AppealWorkflow) Wait() { w.pending.Wait() }

// Approve lifts the ban, leaving the user one point below the threshold.
func (w *AppealWorkflow) Approve(ctx context.Context, appealID, reviewerID uuid.UUID, notes string) (*models.AbuseAppeal, error) {
	return w.review(ctx, appealID, reviewerID, notes, models.AppealApproved)
}

// Deny keeps the ban, pinning the user at the threshold.
func (w *AppealWorkflow) Deny(ctx context.Context, appealID, reviewerID uuid.UUID, notes string) (*models.AbuseAppeal, error) {
	return w.review(ctx, appealID, reviewerID, notes, models.AppealDenied)
}

func (w *AppealWorkflow) review(ctx context.Context, appealID, reviewerID uuid.UUID, notes string, status models.AppealStatus) (*models.AbuseAppeal, error) {
	th, err := w.config.Thresholds(ctx)
	if err != nil {
		return nil, fmt.Errorf("load thresholds: %w", err)
	}

	appeal, state, err := w.appeals.Review(ctx, appealID, func(appeal *models.AbuseAppeal, state *models.AbuseState) error {
		m := NewMachine(state, th, w.clock)
		now := m.Now()
		reviewer := reviewerID

		appeal.Status = status
		appeal.ReviewedBy = &reviewer
		appeal.ReviewedAt = &now
		if notes = strings.TrimSpace(notes); notes != "" {
			appeal.AdminNotes = notes
		}

		if status == models.AppealApproved {
			m.ApproveAppeal()
		} else {
			m.DenyAppeal()
		}
		return nil
	})
	if err != nil {
		return nil, persistErr("review appeal", err)
	}
	appealsTotal.WithLabelValues(string(status)).Inc()

	logrus.WithFields(logrus.Fields{
		"appeal_id":   appeal.ID.String(),
		"user_id":     appeal.UserID.String(),
		"reviewer_id": reviewerID.String(),
		"status":      status,
		"points":      state.Points,
	}).Info("Abuse appeal reviewed")
	return appeal, nil
}

// Get returns one appeal.
func (w *AppealWorkflow) Get(ctx context.Context, id uuid.UUID) (*models.AbuseAppeal, error) {
	appeal, err := w.appeals.Get(ctx, id)
	if err != nil {
		return nil, persistErr("load appeal", err)
	}
	return appeal, nil
}

// List returns appeals newest first, optionally filtered by status.
func (w *AppealWorkflow) List(ctx context.Context, status models.AppealStatus, limit int) ([]models.AbuseAppeal, error) {
	if status != "" && !status.Valid() {
		return nil, &ValidationError{Field: "status", Message: "must be pending, approved or denied"}
	}
	appeals, err := w.appeals.List(ctx, status, limit)
	if err != nil {
		return nil, persistErr("list appeals", err)
	}
	return appeals, nil
}
