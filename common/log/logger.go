package log

import (
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/inconshreveable/log15"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
)

// Config selects the logging backend and its output.
type Config struct {
	// Backend is "log15" (default) or "zap".
	Backend string `mapstructure:"backend" validate:"omitempty,oneof=log15 zap"`
	// Level is one of debug, info, warn, error, crit.
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error crit"`
	// Format is terminal, logfmt or json. Empty picks terminal on a TTY and logfmt otherwise.
	Format string `mapstructure:"format" validate:"omitempty,oneof=terminal logfmt json"`
	// ErrorFile, when set, additionally receives error level records as JSON.
	ErrorFile string `mapstructure:"errorFile"`
}

// Init installs the handler described by cfg on the root logger. Loggers
// already obtained through GetLogger pick it up as well.
func Init(cfg Config) error {
	var handler log15.Handler
	var err error
	if cfg.Backend == "zap" {
		handler, err = newZapHandler(cfg)
	} else {
		handler, err = newHandler(cfg, os.Stderr)
	}
	if err != nil {
		return err
	}
	root.SetHandler(handler)
	return nil
}

// Discard silences every logger, for tests.
func Discard() {
	root.SetHandler(log15.DiscardHandler())
}

func newHandler(cfg Config, out *os.File) (log15.Handler, error) {
	lvl := log15.LvlInfo
	if cfg.Level != "" {
		var err error
		if lvl, err = log15.LvlFromString(cfg.Level); err != nil {
			return nil, errors.Wrapf(err, "invalid log level [%s]", cfg.Level)
		}
	}

	var w io.Writer = out
	var format log15.Format
	switch cfg.Format {
	case "json":
		format = log15.JsonFormat()
	case "logfmt":
		format = log15.LogfmtFormat()
	case "terminal":
		w = colorable.NewColorable(out)
		format = log15.TerminalFormat()
	default:
		if isatty.IsTerminal(out.Fd()) {
			w = colorable.NewColorable(out)
			format = log15.TerminalFormat()
		} else {
			format = log15.LogfmtFormat()
		}
	}

	handlers := []log15.Handler{log15.LvlFilterHandler(lvl, log15.StreamHandler(w, format))}
	if cfg.ErrorFile != "" {
		if _, err := CreateDirIfMissing(path.Dir(cfg.ErrorFile)); err != nil {
			return nil, err
		}
		fh, err := log15.FileHandler(cfg.ErrorFile, log15.JsonFormat())
		if err != nil {
			return nil, errors.Wrapf(err, "error opening log file [%s]", cfg.ErrorFile)
		}
		handlers = append(handlers, log15.LvlFilterHandler(log15.LvlError, fh))
	}
	return log15.SyncHandler(log15.MultiHandler(handlers...)), nil
}

func GetCurrentPath() string {
	dir, err := filepath.Abs(filepath.Dir(os.Args[0]))
	if err != nil {
		panic(err)
	}
	return strings.Replace(dir, "\\", "/", -1)
}

// CreateDirIfMissing creates a dir for dirPath if not already exists. If the dir is empty it returns true
func CreateDirIfMissing(dirPath string) (bool, error) {
	// if dirPath does not end with a path separator, it leaves out the last segment while creating directories
	if !strings.HasSuffix(dirPath, "/") {
		dirPath = dirPath + "/"
	}
	err := os.MkdirAll(path.Dir(dirPath), 0755)
	if err != nil {
		return false, errors.Wrapf(err, "error creating dir [%s]", dirPath)
	}
	return DirEmpty(dirPath)
}

// DirEmpty returns true if the dir at dirPath is empty
func DirEmpty(dirPath string) (bool, error) {
	f, err := os.Open(dirPath)
	if err != nil {
		return false, errors.Wrapf(err, "error opening dir [%s]", dirPath)
	}
	defer func() {
		if err := f.Close(); err != nil {
			panic(err)
		}
	}()

	_, err = f.Readdir(1)
	if err == io.EOF {
		return true, nil
	}
	err = errors.Wrapf(err, "error checking if dir [%s] is empty", dirPath)
	return false, err
}
