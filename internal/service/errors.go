package service

import (
	"errors"

	"auth-security/internal/lockout"
	"auth-security/internal/repository"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrAccessDenied = errors.New("access denied")

	ErrLockedAccount = lockout.ErrLockedAccount
	ErrAuthFailed    = lockout.ErrAuthFailed
	ErrPersistence   = repository.ErrPersistence
)
