package core

import "errors"

var (
	// ErrEmptyUsername is returned when a username is blank.
	ErrEmptyUsername = errors.New("username must not be empty")
	// ErrPaddedUsername is returned when a username starts or ends with whitespace.
	ErrPaddedUsername = errors.New("username must not start or end with whitespace")
	// ErrEmptyPassword is returned when a password is blank.
	ErrEmptyPassword = errors.New("password must not be empty")
	// ErrPoolExhausted is returned once every multicast address has been handed out.
	ErrPoolExhausted = errors.New("multicast address pool exhausted")
)
