package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"contactrecon/internal/database"
	"contactrecon/internal/logger"
	"contactrecon/internal/metrics"
	"contactrecon/internal/models"

	"go.uber.org/zap"
)

// ErrInvalidRequest is returned when a descriptor carries neither an email
// nor a phone number
var ErrInvalidRequest = errors.New("either email or phoneNumber must be provided")

// ErrOrphanedCluster is returned when the matched contacts link to primaries
// that are no longer live, typically after the store soft-deleted them
var ErrOrphanedCluster = errors.New("matched contacts have no live primary")

// Outcome describes what a reconciliation did to the store
type Outcome string

const (
	OutcomeCreatedPrimary   Outcome = "created_primary"
	OutcomeCreatedSecondary Outcome = "created_secondary"
	OutcomeMerged           Outcome = "merged"
	OutcomeUnchanged        Outcome = "unchanged"
)

// ReconciliationService handles identity reconciliation logic
type ReconciliationService struct {
	store   database.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewReconciliationService creates a new reconciliation service, m may be nil
func NewReconciliationService(store database.Store, log *zap.Logger, m *metrics.Metrics) *ReconciliationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReconciliationService{store: store, logger: log, metrics: m}
}

// Identify resolves d against the stored contacts and returns the
// consolidated view of the cluster it belongs to; a uniqueness conflict from
// a concurrent writer is retried once
func (s *ReconciliationService) Identify(ctx context.Context, d models.Descriptor) (*models.ConsolidatedIdentity, error) {
	d = d.Normalize()
	if d.IsEmpty() {
		return nil, ErrInvalidRequest
	}

	start := time.Now()
	res, err := s.reconcile(ctx, d)
	if errors.Is(err, database.ErrConflict) {
		s.logger.Info("reconcile conflict, retrying", zap.Error(err))
		res, err = s.reconcile(ctx, d)
	}
	if err != nil {
		s.metrics.ObserveReconcile("error", time.Since(start))
		return nil, fmt.Errorf("failed to reconcile contact: %w", err)
	}

	s.metrics.ObserveReconcile(string(res.outcome), time.Since(start))
	s.logger.Debug("contact reconciled",
		zap.String(logger.FieldOutcome, string(res.outcome)),
		zap.Int64(logger.FieldPrimaryID, res.identity.PrimaryContactID),
		zap.Duration(logger.FieldDuration, time.Since(start)),
	)
	return res.identity, nil
}

type result struct {
	identity *models.ConsolidatedIdentity
	outcome  Outcome
}

// reconcile runs one attempt inside a single store transaction
func (s *ReconciliationService) reconcile(ctx context.Context, d models.Descriptor) (*result, error) {
	var res *result
	err := s.store.RunInTx(ctx, func(tx database.Tx) error {
		matches, err := tx.FindMatching(ctx, d.Email, d.PhoneNumber)
		if err != nil {
			return err
		}

		if len(matches) == 0 {
			primary, err := tx.Insert(ctx, models.Contact{
				Email:          d.Email,
				PhoneNumber:    d.PhoneNumber,
				LinkPrecedence: models.Primary,
			})
			if err != nil {
				return fmt.Errorf("failed to create primary contact: %w", err)
			}
			res = &result{identity: buildIdentity(primary.ID, []models.Contact{primary}), outcome: OutcomeCreatedPrimary}
			return nil
		}

		cluster, err := tx.FindCluster(ctx, rootIDs(matches))
		if err != nil {
			return err
		}

		primary, err := oldestPrimary(cluster)
		if err != nil {
			return err
		}
		outcome := OutcomeUnchanged

		demoted := mergeTargets(cluster, primary.ID)
		if len(demoted) > 0 {
			if err := tx.Link(ctx, demoted, primary.ID); err != nil {
				return fmt.Errorf("failed to merge clusters into %d: %w", primary.ID, err)
			}
			cluster = relinked(cluster, demoted, primary.ID)
			outcome = OutcomeMerged
			s.logger.Info("clusters merged",
				zap.Int64(logger.FieldPrimaryID, primary.ID),
				zap.Int64s(logger.FieldLinkedIDs, demoted),
			)
		}

		if !hasPair(cluster, d) {
			secondary, err := tx.Insert(ctx, models.Contact{
				Email:          d.Email,
				PhoneNumber:    d.PhoneNumber,
				LinkedID:       &primary.ID,
				LinkPrecedence: models.Secondary,
			})
			if err != nil {
				return fmt.Errorf("failed to create secondary contact: %w", err)
			}
			cluster = append(cluster, secondary)
			if outcome == OutcomeUnchanged {
				outcome = OutcomeCreatedSecondary
			}
		}

		res = &result{identity: buildIdentity(primary.ID, cluster), outcome: outcome}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// rootIDs returns the distinct primary ids the matched contacts belong to
func rootIDs(contacts []models.Contact) []int64 {
	seen := make(map[int64]bool, len(contacts))
	ids := make([]int64, 0, len(contacts))
	for i := range contacts {
		id := contacts[i].RootID()
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// oldestPrimary finds the earliest created primary; ties go to the lower id
func oldestPrimary(contacts []models.Contact) (*models.Contact, error) {
	var oldest *models.Contact
	for i := range contacts {
		c := &contacts[i]
		if c.IsPrimary() && (oldest == nil || c.Before(oldest)) {
			oldest = c
		}
	}
	if oldest == nil {
		return nil, fmt.Errorf("cluster of %d contacts: %w", len(contacts), ErrOrphanedCluster)
	}
	copied := *oldest
	return &copied, nil
}

// mergeTargets lists every contact that must point at primaryID but does not:
// the other primaries and the secondaries still linked to them
func mergeTargets(cluster []models.Contact, primaryID int64) []int64 {
	var ids []int64
	for i := range cluster {
		c := &cluster[i]
		if c.ID == primaryID {
			continue
		}
		if c.IsPrimary() || c.LinkedID == nil || *c.LinkedID != primaryID {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// relinked returns cluster as it reads after Link(ids, primaryID)
func relinked(cluster []models.Contact, ids []int64, primaryID int64) []models.Contact {
	moved := make(map[int64]bool, len(ids))
	for _, id := range ids {
		moved[id] = true
	}
	out := make([]models.Contact, len(cluster))
	for i, c := range cluster {
		if moved[c.ID] {
			linked := primaryID
			c.LinkPrecedence = models.Secondary
			c.LinkedID = &linked
		}
		out[i] = c
	}
	return out
}

// hasPair reports whether some contact already stores exactly the
// descriptor's (email, phone) pair; such a contact always shares a field with
// the descriptor, so searching the whole cluster finds the same ones as the matches
func hasPair(contacts []models.Contact, d models.Descriptor) bool {
	for i := range contacts {
		if d.SamePair(&contacts[i]) {
			return true
		}
	}
	return false
}

// buildIdentity lists the cluster's values with the primary's own first, then
// in creation order
func buildIdentity(primaryID int64, cluster []models.Contact) *models.ConsolidatedIdentity {
	ordered := make([]models.Contact, len(cluster))
	copy(ordered, cluster)
	sort.SliceStable(ordered, func(i, j int) bool {
		if (ordered[i].ID == primaryID) != (ordered[j].ID == primaryID) {
			return ordered[i].ID == primaryID
		}
		return ordered[i].Before(&ordered[j])
	})

	identity := &models.ConsolidatedIdentity{
		PrimaryContactID:    primaryID,
		Emails:              []string{},
		PhoneNumbers:        []string{},
		SecondaryContactIDs: []int64{},
	}
	emailSet := make(map[string]bool)
	phoneSet := make(map[string]bool)

	for _, c := range ordered {
		if c.Email != nil && !emailSet[*c.Email] {
			emailSet[*c.Email] = true
			identity.Emails = append(identity.Emails, *c.Email)
		}
		if c.PhoneNumber != nil && !phoneSet[*c.PhoneNumber] {
			phoneSet[*c.PhoneNumber] = true
			identity.PhoneNumbers = append(identity.PhoneNumbers, *c.PhoneNumber)
		}
		if c.ID != primaryID {
			identity.SecondaryContactIDs = append(identity.SecondaryContactIDs, c.ID)
		}
	}
	return identity
}
