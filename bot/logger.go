package bot

import "go.uber.org/zap"

// NewLogger creates a logger in the given namespace. Debug loggers are
// human readable, the others write JSON.
func NewLogger(ns string, debug bool) (*zap.SugaredLogger, error) {
	var (
		l   *zap.Logger
		err error
	)
	if debug {
		l, err = zap.NewDevelopment(zap.Fields(zap.String("ns", ns)))
	} else {
		l, err = zap.NewProduction(zap.Fields(zap.String("ns", ns)))
	}
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}
