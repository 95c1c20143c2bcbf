package service

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"clinica/internal/database"
	"clinica/internal/domain"
	"clinica/internal/models"
	"clinica/internal/session"
)

var driveFileID = regexp.MustCompile(`/d/([a-zA-Z0-9_-]+)`)

type ProfileService struct {
	docs domain.DocumentStore
}

func NewProfileService(docs domain.DocumentStore) *ProfileService {
	return &ProfileService{docs: docs}
}

// Get returns the stored profile; an unset profile is empty, not an error.
func (s *ProfileService) Get(ctx context.Context) (*models.Profile, error) {
	var profile models.Profile
	err := s.docs.GetDocument(ctx, models.CollectionSettings, models.DocProfile, &profile)
	if errors.Is(err, database.ErrNotFound) {
		return &models.Profile{}, nil
	}
	if err != nil {
		return nil, storage(err)
	}
	return &profile, nil
}

func (s *ProfileService) Save(ctx context.Context, profile models.Profile, actor *session.Identity) (*models.Profile, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	profile.DocumentURL = strings.TrimSpace(profile.DocumentURL)
	profile.PhotoURL = DriveThumbnail(strings.TrimSpace(profile.PhotoURL))
	if err := validateStruct(&profile); err != nil {
		return nil, err
	}

	if err := s.docs.PutDocument(ctx, models.CollectionSettings, models.DocProfile, profile); err != nil {
		return nil, storage(err)
	}
	return &profile, nil
}

// DriveThumbnail turns a Google Drive share link into a directly embeddable
// image URL. Other URLs are returned unchanged.
func DriveThumbnail(url string) string {
	if !strings.Contains(url, "drive.google.com") || !strings.Contains(url, "/file/d/") {
		return url
	}
	match := driveFileID.FindStringSubmatch(url)
	if match == nil {
		return url
	}
	return "https://drive.google.com/thumbnail?id=" + match[1] + "&sz=w1000"
}
