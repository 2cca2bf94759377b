package testutil

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/next-crm/internal/config"
	"github.com/ashwinyue/next-crm/internal/database"
	"github.com/ashwinyue/next-crm/internal/handler"
	"github.com/ashwinyue/next-crm/internal/model"
	"github.com/ashwinyue/next-crm/internal/repository"
	"github.com/ashwinyue/next-crm/internal/router"
	"github.com/ashwinyue/next-crm/internal/service"
	"github.com/ashwinyue/next-crm/internal/service/auth"
)

// 默认测试账号
const (
	TestEmail    = "sales@example.com"
	TestPassword = "s3cret-pass"
)

// Stack 完整的服务端：sqlite 数据库、真实仓库与服务、脚本化模型
type Stack struct {
	Config   *config.Config
	DB       *database.DB
	Repos    *repository.Repositories
	Services *service.Services
	Model    *ScriptedModel
	Server   *httptest.Server
	Employee *model.EmployeeInfo
}

// NewStack 启动测试服务端并创建默认员工，测试结束时自动关闭
func NewStack(t *testing.T) *Stack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Server: config.ServerConfig{AllowOrigins: []string{"*"}},
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			Path:   filepath.Join(t.TempDir(), "crm.db") + "?_busy_timeout=5000",
		},
		Auth: config.AuthConfig{
			JWTSecret:       "test-secret",
			AccessTokenTTL:  900,
			RefreshTokenTTL: 3600,
		},
	}

	db, err := database.New(cfg)
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	repos := repository.NewRepositories(db.DB)
	m := NewScriptedModel("Hel", "lo")
	svc, err := service.NewServices(repos, cfg, nil, nil, service.WithChatModel(m))
	if err != nil {
		t.Fatalf("NewServices() error = %v", err)
	}

	r := router.SetupRouter(handler.NewHandlers(svc), svc, db, nil)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	s := &Stack{Config: cfg, DB: db, Repos: repos, Services: svc, Model: m, Server: ts}
	s.Employee = s.SeedEmployee(t, "Sales", TestEmail, TestPassword)
	return s
}

// BaseURL API 根地址
func (s *Stack) BaseURL() string {
	return s.Server.URL + "/api/v1"
}

// SeedEmployee 创建员工
func (s *Stack) SeedEmployee(t *testing.T, name, email, password string) *model.EmployeeInfo {
	t.Helper()
	info, err := s.Services.Auth.CreateEmployee(context.Background(), &auth.CreateEmployeeRequest{
		Name:     name,
		Email:    email,
		Password: password,
	})
	if err != nil {
		t.Fatalf("CreateEmployee() error = %v", err)
	}
	return info
}
