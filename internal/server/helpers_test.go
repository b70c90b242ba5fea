package server

import "github.com/conneroisu/spindle/internal/logging"

func nopLogger() logging.Logger {
	return logging.NewNopLogger()
}
