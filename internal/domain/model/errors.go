package model

import "errors"

var (
	ErrAlreadyInitialized = errors.New("connection already initialized")
	ErrOffline            = errors.New("socket is offline")
	ErrNotConnected       = errors.New("not connected")
	ErrTimeout            = errors.New("request timed out")
	ErrIntervalEvicted    = errors.New("interval subscription evicted")
	ErrInvalidMessageKey  = errors.New("invalid message key")
	ErrRemote             = errors.New("remote failure")
)
