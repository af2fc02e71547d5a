package chain

import (
	"context"
	"fmt"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Service resolves and administers the linked-function graph.
type Service struct {
	repo Repository
}

// NewService builds a Service instance.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// GetSecondaries returns the secondary links of a primary function in
// strictly increasing execution order. No edges is a valid terminal case and
// returns an empty slice, not an error.
func (s *Service) GetSecondaries(ctx context.Context, tenantID shared.TenantID, primaryCode string) ([]Edge, error) {
	return s.repo.ListEdges(ctx, tenantID, primaryCode)
}

// LinkFunctions creates an edge with its parameter mappings. Self-loops and
// order collisions are rejected here, at configuration time, so the engine
// never has to re-validate them per posting.
func (s *Service) LinkFunctions(ctx context.Context, edge Edge) (Edge, error) {
	if edge.PrimaryCode == "" || edge.SecondaryCode == "" {
		return Edge{}, fmt.Errorf("%w: primary and secondary codes required", ErrInvalidMapping)
	}
	if edge.PrimaryCode == edge.SecondaryCode {
		return Edge{}, ErrSelfLoop
	}
	if edge.Order <= 0 {
		return Edge{}, fmt.Errorf("%w: execution order must be positive", ErrInvalidMapping)
	}
	for _, m := range edge.Mappings {
		if m.Origin == "" || m.DestField == "" {
			return Edge{}, fmt.Errorf("%w: origin and destination field required", ErrInvalidMapping)
		}
		switch m.DestEntity {
		case DestBinding, DestOpenItem:
		default:
			return Edge{}, fmt.Errorf("%w: unknown destination entity %q", ErrInvalidMapping, m.DestEntity)
		}
	}
	return s.repo.CreateEdge(ctx, edge)
}

// UnlinkFunctions removes an edge and its mappings.
func (s *Service) UnlinkFunctions(ctx context.Context, tenantID shared.TenantID, id shared.EdgeID) error {
	return s.repo.DeleteEdge(ctx, tenantID, id)
}
