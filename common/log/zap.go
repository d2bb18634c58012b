package log

import (
	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newZapHandler routes log15 records into a zap logger so both backends share
// the same Logger front end.
func newZapHandler(cfg Config) (log15.Handler, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Format == "terminal" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	if cfg.ErrorFile != "" {
		zcfg.ErrorOutputPaths = append(zcfg.ErrorOutputPaths, cfg.ErrorFile)
	}
	z, err := zcfg.Build(zap.AddCallerSkip(4))
	if err != nil {
		return nil, errors.Wrap(err, "failed building zap logger")
	}

	lvl := log15.LvlInfo
	if cfg.Level != "" {
		if lvl, err = log15.LvlFromString(cfg.Level); err != nil {
			return nil, errors.Wrapf(err, "invalid log level [%s]", cfg.Level)
		}
	}
	return log15.LvlFilterHandler(lvl, zapHandler(z.Sugar())), nil
}

func zapHandler(s *zap.SugaredLogger) log15.Handler {
	return log15.FuncHandler(func(r *log15.Record) error {
		switch r.Lvl {
		case log15.LvlDebug:
			s.Debugw(r.Msg, r.Ctx...)
		case log15.LvlInfo:
			s.Infow(r.Msg, r.Ctx...)
		case log15.LvlWarn:
			s.Warnw(r.Msg, r.Ctx...)
		case log15.LvlError:
			s.Errorw(r.Msg, r.Ctx...)
		default:
			s.Errorw(r.Msg, append(r.Ctx, "severity", "crit")...)
		}
		return nil
	})
}
