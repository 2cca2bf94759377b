package model

import "time"

// Employee 员工账号，用于登录并获取访问令牌
type Employee struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Name         string    `gorm:"size:100;not null" json:"name"`
	Email        string    `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	IsActive     bool      `gorm:"default:true" json:"is_active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (Employee) TableName() string {
	return "employees"
}

// AuthToken 刷新令牌记录
type AuthToken struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	EmployeeID string    `gorm:"index;size:36;not null" json:"employee_id"`
	Token      string    `gorm:"type:text;not null" json:"-"`
	ExpiresAt  time.Time `json:"expires_at"`
	IsRevoked  bool      `gorm:"default:false" json:"is_revoked"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName 指定表名
func (AuthToken) TableName() string {
	return "auth_tokens"
}

// EmployeeInfo 员工信息（不含敏感数据）
type EmployeeInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ToInfo 转换为 EmployeeInfo
func (e *Employee) ToInfo() *EmployeeInfo {
	return &EmployeeInfo{ID: e.ID, Name: e.Name, Email: e.Email}
}
