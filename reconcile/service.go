package reconcile

import "context"

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, limit int) ([]Record, error) {
	return s.repo.List(ctx, limit)
}

func (s *Service) Get(ctx context.Context, id int64) (Record, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Requeue(ctx context.Context, id int64) error {
	return s.repo.Requeue(ctx, id)
}

func (s *Service) Resolve(ctx context.Context, id int64) error {
	return s.repo.Resolve(ctx, id)
}
