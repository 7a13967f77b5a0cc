package id

import (
	"github.com/google/uuid"
)

// New 生成全局唯一ID
func New() string {
	return uuid.New().String()
}

// IsValid 校验ID格式
func IsValid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
