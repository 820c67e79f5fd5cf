package practitioners

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lumehq/lume/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultProvider = "default"

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("practitioners: invalid identity")

// ServiceConfig describes the dependencies required for practitioner identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service resolves authenticated session claims to canonical practitioner ids.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("practitioners: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
	}, nil
}

// ResolvePractitionerID returns the canonical practitioner id for the provided session claims,
// recording the provider+subject pair the first time it is seen.
func (s *Service) ResolvePractitionerID(ctx context.Context, claims auth.SessionClaims) (string, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if practitionerID, ok := cached.(string); ok {
			return practitionerID, nil
		}
	}

	identity := Identity{
		Provider:       provider,
		Subject:        subject,
		PractitionerID: subject,
		Email:          normalize(claims.UserEmail),
		DisplayName:    normalize(claims.UserDisplayName),
		LastSeenAt:     s.now().UTC(),
	}
	// Concurrent first logins race on the primary key; the loser keeps the stored row.
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&identity).Error; err != nil {
		return "", err
	}

	var stored Identity
	if err := s.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", provider, subject).
		Take(&stored).Error; err != nil {
		return "", err
	}

	updates := map[string]interface{}{"last_seen_at": s.now().UTC()}
	if email := normalize(claims.UserEmail); email != "" && email != stored.Email {
		updates["email"] = email
	}
	if display := normalize(claims.UserDisplayName); display != "" && display != stored.DisplayName {
		updates["display_name"] = display
	}
	if err := s.db.WithContext(ctx).Model(&Identity{}).
		Where("provider = ? AND subject = ?", provider, subject).
		Updates(updates).Error; err != nil {
		s.logger.Warn("practitioner identity refresh failed",
			zap.String("provider", provider),
			zap.Error(err))
	}

	s.cache.Store(cacheKey, stored.PractitionerID)
	return stored.PractitionerID, nil
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := defaultProvider
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if strings.Contains(raw, ":") {
			segments := strings.SplitN(raw, ":", 2)
			if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
				provider = normalize(segments[0])
				subject = normalize(segments[1])
			}
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.UserEmail)
	}

	return provider, subject
}
