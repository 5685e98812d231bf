package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/brightpath/brightpath-backend/internal/platform/logger"
	"github.com/brightpath/brightpath-backend/internal/repos"
)

// AccessError means at least one requested material is not approved or
// not visible to the caller. The handler layer decides between 403 and
// 404 framing.
type AccessError struct {
	MaterialID uuid.UUID
	Reason     string
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("material %s: %s", e.MaterialID, e.Reason)
}

// AccessService answers whether a user may ground generation on a set of
// materials. Access requires approved AND (owned by the user OR public).
type AccessService interface {
	AssertMaterialsAccessible(ctx context.Context, userID uuid.UUID, materialIDs []uuid.UUID) error
}

type accessService struct {
	materialRepo repos.MaterialRepo
	log          *logger.Logger
}

func NewAccessService(materialRepo repos.MaterialRepo, baseLog *logger.Logger) AccessService {
	return &accessService{
		materialRepo: materialRepo,
		log:          baseLog.With("service", "AccessService"),
	}
}

func (s *accessService) AssertMaterialsAccessible(ctx context.Context, userID uuid.UUID, materialIDs []uuid.UUID) error {
	materials, err := s.materialRepo.GetByIDs(ctx, nil, materialIDs)
	if err != nil {
		return err
	}
	found := make(map[uuid.UUID]bool, len(materials))
	for _, m := range materials {
		found[m.ID] = true
		if !m.Approved() {
			return &AccessError{MaterialID: m.ID, Reason: "not approved"}
		}
		if !m.AccessibleBy(userID) {
			return &AccessError{MaterialID: m.ID, Reason: "not accessible"}
		}
	}
	for _, id := range materialIDs {
		if !found[id] {
			return &AccessError{MaterialID: id, Reason: "not found"}
		}
	}
	return nil
}
