package aar

import "errors"

var (
	ErrInvalidMotor     = errors.New("aar: invalid motor")
	ErrInvalidPower     = errors.New("aar: invalid power")
	ErrInvalidDirection = errors.New("aar: invalid direction")
	ErrMalformedFrame   = errors.New("aar: malformed frame")

	ErrNotConnected     = errors.New("aar: micro:bit not connected")
	ErrAlreadyConnected = errors.New("aar: micro:bit already connected")

	ErrNoDevice               = errors.New("aar: no device selected")
	ErrServiceNotFound        = errors.New("aar: UART service not found")
	ErrCharacteristicNotFound = errors.New("aar: UART characteristic not found")
)
