package booking

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/apperr"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/model"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/storage"
)

// CreatePatient registers a patient and links it to the professional.
func (s *Service) CreatePatient(ctx context.Context, professionalID string, p model.Patient) (model.Patient, error) {
	profID, err := requireID("professional_id", professionalID)
	if err != nil {
		return model.Patient{}, err
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return model.Patient{}, apperr.Validation("name is required")
	}
	p.ID = uuid.NewString()
	p.Email = strings.TrimSpace(p.Email)
	p.Phone = strings.TrimSpace(p.Phone)
	created, err := s.store.CreatePatient(ctx, profID, p)
	if errors.Is(err, storage.ErrDuplicate) {
		return model.Patient{}, apperr.Validation("patient already exists")
	}
	if err != nil {
		return model.Patient{}, storeErr("patient", err)
	}
	return created, nil
}

func (s *Service) ListPatients(ctx context.Context, professionalID string) ([]model.Patient, error) {
	profID, err := requireID("professional_id", professionalID)
	if err != nil {
		return nil, err
	}
	out, err := s.store.ListPatients(ctx, profID)
	return out, storeErr("patients", err)
}

func (s *Service) CreateLocation(ctx context.Context, professionalID string, loc model.Location) (model.Location, error) {
	profID, err := requireID("professional_id", professionalID)
	if err != nil {
		return model.Location{}, err
	}
	loc.Name = strings.TrimSpace(loc.Name)
	if loc.Name == "" {
		return model.Location{}, apperr.Validation("name is required")
	}
	loc.ID = uuid.NewString()
	loc.ProfessionalID = profID
	loc.Address = strings.TrimSpace(loc.Address)
	created, err := s.store.CreateLocation(ctx, loc)
	if err != nil {
		return model.Location{}, storeErr("location", err)
	}
	return created, nil
}

func (s *Service) ListLocations(ctx context.Context, professionalID string) ([]model.Location, error) {
	profID, err := requireID("professional_id", professionalID)
	if err != nil {
		return nil, err
	}
	out, err := s.store.ListLocations(ctx, profID)
	return out, storeErr("locations", err)
}
