// Package auth 员工登录与令牌管理
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/ashwinyue/next-crm/internal/config"
	"github.com/ashwinyue/next-crm/internal/model"
	"github.com/ashwinyue/next-crm/internal/repository"
)

// 令牌类型
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmployeeDisabled   = errors.New("account is disabled")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrEmailTaken         = errors.New("employee with this email already exists")
)

// Service 认证服务
type Service struct {
	repo       repository.AuthStore
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewService 创建认证服务
// 未配置密钥时生成进程内随机密钥，重启后已签发令牌失效
func NewService(repo repository.AuthStore, cfg config.AuthConfig) *Service {
	secret := strings.TrimSpace(cfg.JWTSecret)
	if secret == "" {
		secret = randomSecret()
	}
	accessTTL := cfg.AccessTTL()
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	refreshTTL := cfg.RefreshTTL()
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &Service{
		repo:       repo,
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate JWT secret: %v", err))
	}
	return base64.StdEncoding.EncodeToString(b)
}

// LoginRequest 登录请求
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest 刷新请求
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// CreateEmployeeRequest 创建员工请求
type CreateEmployeeRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse 令牌响应
type TokenResponse struct {
	AccessToken  string              `json:"access_token"`
	RefreshToken string              `json:"refresh_token"`
	ExpiresIn    int64               `json:"expires_in"`
	Employee     *model.EmployeeInfo `json:"employee"`
}

// CreateEmployee 创建员工账号
func (s *Service) CreateEmployee(ctx context.Context, req *CreateEmployeeRequest) (*model.EmployeeInfo, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return nil, errors.New("email and password are required")
	}
	if existing, err := s.repo.GetEmployeeByEmail(email); err == nil && existing != nil {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = email
	}
	employee := &model.Employee{
		ID:           uuid.New().String(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		IsActive:     true,
	}
	if err := s.repo.CreateEmployee(employee); err != nil {
		return nil, fmt.Errorf("failed to create employee: %w", err)
	}
	return employee.ToInfo(), nil
}

// Login 员工登录
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*TokenResponse, error) {
	employee, err := s.repo.GetEmployeeByEmail(strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(employee.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !employee.IsActive {
		return nil, ErrEmployeeDisabled
	}
	return s.issue(employee)
}

// Refresh 使用刷新令牌换取新令牌，旧刷新令牌随即撤销
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	employeeID, err := s.parse(refreshToken, TokenTypeRefresh)
	if err != nil {
		return nil, err
	}

	record, err := s.repo.GetTokenByValue(refreshToken)
	if err != nil || record == nil || record.EmployeeID != employeeID {
		return nil, ErrInvalidToken
	}

	employee, err := s.activeEmployee(employeeID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.RevokeToken(record.ID); err != nil {
		return nil, fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return s.issue(employee)
}

// Logout 撤销刷新令牌
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	record, err := s.repo.GetTokenByValue(refreshToken)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("failed to get token: %w", err)
	}
	return s.repo.RevokeToken(record.ID)
}

// ValidateToken 校验访问令牌并返回对应员工
func (s *Service) ValidateToken(ctx context.Context, accessToken string) (*model.Employee, error) {
	employeeID, err := s.parse(accessToken, TokenTypeAccess)
	if err != nil {
		return nil, err
	}
	return s.activeEmployee(employeeID)
}

// GetEmployee 获取员工信息
func (s *Service) GetEmployee(ctx context.Context, id string) (*model.EmployeeInfo, error) {
	employee, err := s.activeEmployee(id)
	if err != nil {
		return nil, err
	}
	return employee.ToInfo(), nil
}

func (s *Service) activeEmployee(id string) (*model.Employee, error) {
	employee, err := s.repo.GetEmployeeByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}
	if !employee.IsActive {
		return nil, ErrEmployeeDisabled
	}
	return employee, nil
}

// parse 校验签名、有效期与令牌类型，返回员工 ID
func (s *Service) parse(tokenString, wantType string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	if typ, _ := claims["type"].(string); typ != wantType {
		return "", ErrInvalidToken
	}
	employeeID, _ := claims["user_id"].(string)
	if employeeID == "" {
		return "", ErrInvalidToken
	}
	return employeeID, nil
}

// issue 签发访问令牌与刷新令牌，刷新令牌落库
func (s *Service) issue(employee *model.Employee) (*TokenResponse, error) {
	now := s.now()

	accessToken, err := s.sign(jwt.MapClaims{
		"user_id": employee.ID,
		"email":   employee.Email,
		"type":    TokenTypeAccess,
		"iat":     now.Unix(),
		"exp":     now.Add(s.accessTTL).Unix(),
	})
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.sign(jwt.MapClaims{
		"user_id": employee.ID,
		"type":    TokenTypeRefresh,
		"jti":     uuid.New().String(),
		"iat":     now.Unix(),
		"exp":     now.Add(s.refreshTTL).Unix(),
	})
	if err != nil {
		return nil, err
	}

	record := &model.AuthToken{
		ID:         uuid.New().String(),
		EmployeeID: employee.ID,
		Token:      refreshToken,
		ExpiresAt:  now.Add(s.refreshTTL),
	}
	if err := s.repo.CreateToken(record); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.accessTTL / time.Second),
		Employee:     employee.ToInfo(),
	}, nil
}

func (s *Service) sign(claims jwt.MapClaims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
