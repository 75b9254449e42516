package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/checkride-sync/internal/models"
	appErrors "github.com/noah-isme/checkride-sync/pkg/errors"
)

// AuthConfig defines configuration for local API authentication.
type AuthConfig struct {
	AccessTokenSecret        string
	AccessTokenExpiry        time.Duration
	Issuer                   string
	DeviceID                 string
	InstructorPassphraseHash string
}

// AuthService issues and validates access tokens for the local API.
type AuthService struct {
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.AccessTokenExpiry <= 0 {
		config.AccessTokenExpiry = 24 * time.Hour
	}
	return &AuthService{validator: validate, logger: logger, config: config}
}

// LoginInstructor checks the device passphrase and returns an instructor token.
func (s *AuthService) LoginInstructor(ctx context.Context, req models.InstructorLoginRequest) (*models.TokenResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}
	if s.config.InstructorPassphraseHash == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "instructor login is not configured on this device")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.config.InstructorPassphraseHash), []byte(req.Passphrase)); err != nil {
		s.logger.Warn("instructor login rejected", zap.String("device_id", s.config.DeviceID))
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid passphrase")
	}
	return s.issue(models.RoleInstructor, "")
}

// IssueStudentToken returns a token scoped to studentID. Callers must have
// verified the pairing first.
func (s *AuthService) IssueStudentToken(studentID string) (*models.TokenResponse, error) {
	if studentID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student id is required")
	}
	return s.issue(models.RoleStudent, studentID)
}

// ValidateToken parses and validates a JWT access token.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.AccessTokenSecret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "token expired")
		}
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	if claims.Role != models.RoleInstructor && claims.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token role")
	}
	if claims.Role == models.RoleStudent && claims.StudentID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "student token without student scope")
	}
	return claims, nil
}

func (s *AuthService) issue(role models.Role, studentID string) (*models.TokenResponse, error) {
	issuedAt := time.Now().UTC()
	expiresAt := issuedAt.Add(s.config.AccessTokenExpiry)
	subject := string(role)
	if studentID != "" {
		subject = studentID
	}
	claims := &models.JWTClaims{
		Role:      role,
		StudentID: studentID,
		DeviceID:  s.config.DeviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.AccessTokenSecret))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	return &models.TokenResponse{
		AccessToken: signed,
		ExpiresIn:   int64(s.config.AccessTokenExpiry.Seconds()),
		Role:        role,
		StudentID:   studentID,
		IssuedAt:    issuedAt,
	}, nil
}
